//go:build linux && !(rp2040 || rp2350)

package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"stackshield-go/hal/halcore"
	"stackshield-go/types"
)

// pollInterval bounds each blocking serial read so ctx is honoured.
const pollInterval = 20 * time.Millisecond

// Open initialises periph drivers and returns lazy factories. Close releases
// every bus and port opened through them.
func Open(f types.SerialFormat) (halcore.Factories, error) {
	if _, err := host.Init(); err != nil {
		return halcore.Factories{}, fmt.Errorf("periph host init: %w", err)
	}
	r := &linuxResources{
		buses: make(map[string]i2c.BusCloser),
		ports: make(map[string]*linuxSerialPort),
		mode:  modeFor(f),
	}
	return halcore.Factories{
		I2C:    linuxI2CFactory{r},
		Pins:   linuxPinFactory{},
		Serial: linuxSerialFactory{r},
		Close:  r.close,
	}, nil
}

type linuxResources struct {
	mu    sync.Mutex
	buses map[string]i2c.BusCloser
	ports map[string]*linuxSerialPort
	mode  serial.Mode
}

func (r *linuxResources) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, b := range r.buses {
		errs = append(errs, b.Close())
		delete(r.buses, id)
	}
	for id, p := range r.ports {
		errs = append(errs, p.port.Close())
		delete(r.ports, id)
	}
	return errors.Join(errs...)
}

func modeFor(f types.SerialFormat) serial.Mode {
	m := serial.Mode{BaudRate: int(f.Baud), DataBits: int(f.DataBits)}
	if m.BaudRate == 0 {
		m.BaudRate = 115200
	}
	if m.DataBits == 0 {
		m.DataBits = 8
	}
	m.StopBits = serial.OneStopBit
	if f.StopBits == 2 {
		m.StopBits = serial.TwoStopBits
	}
	m.Parity = parityFor(f.Parity.String())
	return m
}

func parityFor(s string) serial.Parity {
	switch s {
	case "even":
		return serial.EvenParity
	case "odd":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

// ---- I²C ----

type linuxI2CFactory struct{ r *linuxResources }

// ByID opens an i2creg bus by name ("" = first registered bus).
func (f linuxI2CFactory) ByID(id string) (drivers.I2C, bool) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if b, ok := f.r.buses[id]; ok {
		return b, true
	}
	b, err := i2creg.Open(id)
	if err != nil {
		return nil, false
	}
	f.r.buses[id] = b
	return b, true
}

// ---- GPIO ----

type linuxPinFactory struct{}

func (linuxPinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	p := gpioreg.ByName(strconv.Itoa(n))
	if p == nil {
		return nil, false
	}
	return &linuxPin{p: p, n: n}, true
}

type linuxPin struct {
	p gpio.PinIO
	n int
}

func (l *linuxPin) ConfigureInput(pull halcore.Pull) error {
	return l.p.In(pullFor(pull), gpio.NoEdge)
}

func (l *linuxPin) ConfigureOutput(initial bool) error { return l.p.Out(gpio.Level(initial)) }
func (l *linuxPin) Set(level bool)                    { _ = l.p.Out(gpio.Level(level)) }
func (l *linuxPin) Get() bool                         { return bool(l.p.Read()) }
func (l *linuxPin) Number() int                       { return l.n }

func pullFor(p halcore.Pull) gpio.Pull {
	switch p {
	case halcore.PullUp:
		return gpio.PullUp
	case halcore.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

// ---- Serial ----

type linuxSerialFactory struct{ r *linuxResources }

// ByID opens a UART device path with the configured mode.
func (f linuxSerialFactory) ByID(id string) (halcore.SerialPort, bool) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if p, ok := f.r.ports[id]; ok {
		return p, true
	}
	mode := f.r.mode
	port, err := serial.Open(id, &mode)
	if err != nil {
		return nil, false
	}
	p := &linuxSerialPort{port: port, mode: mode}
	f.r.ports[id] = p
	return p, true
}

type linuxSerialPort struct {
	mu   sync.Mutex
	port serial.Port
	mode serial.Mode
}

func (p *linuxSerialPort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *linuxSerialPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		wait := pollInterval
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left < wait {
				wait = left
			}
		}
		if wait <= 0 {
			return 0, context.DeadlineExceeded
		}
		if err := p.port.SetReadTimeout(wait); err != nil {
			return 0, err
		}
		n, err := p.port.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (p *linuxSerialPort) ResetInputBuffer() error { return p.port.ResetInputBuffer() }

func (p *linuxSerialPort) SetBaudRate(br uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode.BaudRate = int(br)
	return p.port.SetMode(&p.mode)
}

func (p *linuxSerialPort) SetFormat(databits, stopbits uint8, parity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode.DataBits = int(databits)
	p.mode.StopBits = serial.OneStopBit
	if stopbits == 2 {
		p.mode.StopBits = serial.TwoStopBits
	}
	p.mode.Parity = parityFor(parity)
	return p.port.SetMode(&p.mode)
}
