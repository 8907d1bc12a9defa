// hal/halcore/types.go
package halcore

import (
	"context"

	"tinygo.org/x/drivers"
)

// ---- Buses ----

// I2C is the subset we need (compatible with tinygo.org/x/drivers.I2C and
// periph.io/x/conn/v3/i2c.Bus).
type I2C interface {
	Tx(addr uint16, w, r []byte) error
}

// I2CBusFactory injects configured I²C instances by id.
// Uses the TinyGo drivers.I2C interface to remain compatible on MCU builds.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// ---- GPIO abstractions ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
}

// PinFactory supplies GPIO pins by the configured number scheme.
type PinFactory interface {
	ByNumber(n int) (GPIOPin, bool)
}

// ---------------- Serial abstractions ----------------

// SerialPort is a byte stream with a context-bounded receive.
// RecvSomeContext blocks until at least one byte is available or ctx ends;
// it returns ctx.Err() when nothing arrived.
type SerialPort interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// SerialFlusher is optional: discard bytes received but not yet read.
type SerialFlusher interface {
	ResetInputBuffer() error
}

type SerialFactory interface {
	ByID(id string) (SerialPort, bool)
}

// SerialFormatter is optional: formatting where the platform supports it.
type SerialFormatter interface {
	SetBaudRate(br uint32) error
	SetFormat(databits, stopbits uint8, parity string) error // "none","even","odd"
}

// Factories bundles what a platform provides. Close releases platform handles.
type Factories struct {
	I2C    I2CBusFactory
	Pins   PinFactory
	Serial SerialFactory
	Close  func() error
}
