// Package pca9535 is a small register-level driver for the NXP/TI PCA9535
// 16-bit I/O expander.
//
// Every accessor is a single bus transaction except the read-modify-write
// helpers (WritePin, WritePins), which issue one read of the output latch and
// one write. The driver keeps no shadow state: reads always reflect hardware.
// Callers that share one Device between goroutines must serialise the
// read-modify-write helpers themselves.
package pca9535

import (
	"errors"

	"tinygo.org/x/drivers"
)

var ErrPin = errors.New("pca9535: pin out of range")

// Device is one expander at a fixed address.
type Device struct {
	i2c  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

// New binds a Device to addr (use AddressBase + strap value).
func New(i2c drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = AddressBase
	}
	return &Device{i2c: i2c, addr: addr}
}

func (d *Device) Address() uint16 { return d.addr }

// Mask returns the bit for pin n.
func Mask(n int) uint16 { return 1 << uint(n) }

func validPin(n int) bool { return n >= 0 && n < NumPins }

// ---- Whole-port accessors ----

// ReadInputs returns the live level of all 16 pins (pin n = bit n).
func (d *Device) ReadInputs() (uint16, error) { return d.readPair(regInput0) }

// ReadOutputs returns the output latch.
func (d *Device) ReadOutputs() (uint16, error) { return d.readPair(regOutput0) }

// WriteOutputs sets the output latch for all pins.
func (d *Device) WriteOutputs(v uint16) error { return d.writePair(regOutput0, v) }

// ReadDirection returns the configuration word (1 = input).
func (d *Device) ReadDirection() (uint16, error) { return d.readPair(regConfig0) }

// WriteDirection sets the configuration word (1 = input).
func (d *Device) WriteDirection(inputs uint16) error { return d.writePair(regConfig0, inputs) }

// WritePolarity sets input inversion (1 = inverted).
func (d *Device) WritePolarity(inv uint16) error { return d.writePair(regPolarity0, inv) }

// ---- Pin accessors ----

// ReadPin returns the live level of pin n.
func (d *Device) ReadPin(n int) (bool, error) {
	if !validPin(n) {
		return false, ErrPin
	}
	reg, bit := byte(regInput0), n
	if n >= 8 {
		reg, bit = regInput1, n-8
	}
	v, err := d.readReg(reg)
	if err != nil {
		return false, err
	}
	return v&(1<<uint(bit)) != 0, nil
}

// WritePin drives the output latch of pin n.
func (d *Device) WritePin(n int, level bool) error {
	if !validPin(n) {
		return ErrPin
	}
	var levels uint16
	if level {
		levels = Mask(n)
	}
	return d.WritePins(Mask(n), levels)
}

// WritePins updates only the latch bits selected by mask to the matching
// bits of levels. A zero mask is a no-op and touches nothing.
func (d *Device) WritePins(mask, levels uint16) error {
	if mask == 0 {
		return nil
	}
	cur, err := d.ReadOutputs()
	if err != nil {
		return err
	}
	next := (cur &^ mask) | (levels & mask)
	if next == cur {
		return nil
	}
	return d.WriteOutputs(next)
}

// ---- Register I/O (port 0 low byte, port 1 high byte) ----

func (d *Device) readReg(reg byte) (byte, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

func (d *Device) readPair(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) writePair(reg byte, v uint16) error {
	d.w[0] = reg
	d.w[1] = byte(v)      // port 0
	d.w[2] = byte(v >> 8) // port 1
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}
