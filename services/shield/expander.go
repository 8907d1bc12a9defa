package shield

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"

	"stackshield-go/drivers/pca9535"
	"stackshield-go/errcode"
)

// Expander is the pin-level view of one board position's PCA9535. Each
// method is one atomic exchange with the chip; read-modify-write sequences
// hold the expander lock so pin updates never interleave.
type Expander struct {
	mu   sync.Mutex
	dev  *pca9535.Device
	name string
}

// NewExpander wraps the chip at addr. i2c should be a bus owner handle when
// several expanders share the wire.
func NewExpander(i2c drivers.I2C, addr uint16) *Expander {
	return &Expander{
		dev:  pca9535.New(i2c, addr),
		name: fmt.Sprintf("pca9535@0x%02x", addr),
	}
}

func (e *Expander) Address() uint16 { return e.dev.Address() }

func (e *Expander) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pca9535.ErrPin) {
		return errcode.Wrap(errcode.OutOfRange, e.name+"."+op, err)
	}
	return errcode.Wrap(errcode.BusError, e.name+"."+op, err)
}

func (e *Expander) WritePin(n int, level bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrap("write_pin", e.dev.WritePin(n, level))
}

func (e *Expander) ReadPin(n int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.dev.ReadPin(n)
	return v, e.wrap("read_pin", err)
}

// WritePins sets the pins in mask to the matching bits of levels.
func (e *Expander) WritePins(mask, levels uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrap("write_pins", e.dev.WritePins(mask, levels))
}

// Configure loads the output latch before switching direction so outputs
// come up at their initial level.
func (e *Expander) Configure(inputs, outputs uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.dev.WritePolarity(0); err != nil {
		return e.wrap("configure", err)
	}
	if err := e.dev.WriteOutputs(outputs); err != nil {
		return e.wrap("configure", err)
	}
	return e.wrap("configure", e.dev.WriteDirection(inputs))
}

// Outputs reads the output latch.
func (e *Expander) Outputs() (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.dev.ReadOutputs()
	return v, e.wrap("read_outputs", err)
}

// Inputs reads the input port.
func (e *Expander) Inputs() (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.dev.ReadInputs()
	return v, e.wrap("read_inputs", err)
}

// Direction reads the configuration word (1 = input).
func (e *Expander) Direction() (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.dev.ReadDirection()
	return v, e.wrap("read_direction", err)
}
