package sim

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"

	"stackshield-go/drivers/pca9535"
)

// ErrNack is returned for an address with no device attached.
var ErrNack = errors.New("sim: address not acknowledged")

// Device is a simulated I2C target.
type Device interface {
	Tx(w, r []byte) error
}

// I2CBus implements drivers.I2C over attached Devices.
type I2CBus struct {
	mu    sync.Mutex
	devs  map[uint16]Device
	fault map[uint16]error
	txs   int
}

var _ drivers.I2C = (*I2CBus)(nil)

func NewI2CBus() *I2CBus {
	return &I2CBus{devs: make(map[uint16]Device), fault: make(map[uint16]error)}
}

func (b *I2CBus) Attach(addr uint16, d Device) {
	b.mu.Lock()
	b.devs[addr] = d
	b.mu.Unlock()
}

func (b *I2CBus) Detach(addr uint16) {
	b.mu.Lock()
	delete(b.devs, addr)
	b.mu.Unlock()
}

// SetFault makes every transaction to addr fail with err; nil clears it.
func (b *I2CBus) SetFault(addr uint16, err error) {
	b.mu.Lock()
	if err == nil {
		delete(b.fault, addr)
	} else {
		b.fault[addr] = err
	}
	b.mu.Unlock()
}

// Txs counts transactions issued, including failed ones.
func (b *I2CBus) Txs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs
}

func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	b.txs++
	err := b.fault[addr]
	d := b.devs[addr]
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNack
	}
	return d.Tx(w, r)
}

// ---- PCA9535 register model ----

const (
	regInput0 = iota
	regInput1
	regOutput0
	regOutput1
	regPolarity0
	regPolarity1
	regConfig0
	regConfig1
)

// Expander models a PCA9535: power-on outputs high, all pins inputs, no
// polarity inversion. External input levels default low.
type Expander struct {
	mu     sync.Mutex
	regs   [8]byte
	ext    uint16
	writes int
}

func NewExpander() *Expander {
	e := &Expander{}
	e.regs[regOutput0], e.regs[regOutput1] = 0xFF, 0xFF
	e.regs[regConfig0], e.regs[regConfig1] = 0xFF, 0xFF
	return e
}

func pairIndex(reg byte, i int) byte { return (reg &^ 1) | ((reg + byte(i)) & 1) }

func (e *Expander) word(lo byte) uint16 {
	return uint16(e.regs[lo]) | uint16(e.regs[lo+1])<<8
}

func (e *Expander) inputWord() uint16 {
	cfg := e.word(regConfig0)
	out := e.word(regOutput0)
	v := (e.ext & cfg) | (out &^ cfg)
	return v ^ e.word(regPolarity0)
}

func (e *Expander) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	reg := w[0] & 0x07
	if len(w) > 1 {
		e.writes++
	}
	for i, b := range w[1:] {
		idx := pairIndex(reg, i)
		if idx == regInput0 || idx == regInput1 {
			continue
		}
		e.regs[idx] = b
	}
	in := e.inputWord()
	for i := range r {
		switch idx := pairIndex(reg, i); idx {
		case regInput0:
			r[i] = byte(in)
		case regInput1:
			r[i] = byte(in >> 8)
		default:
			r[i] = e.regs[idx]
		}
	}
	return nil
}

// SetInput sets the external level on pin n.
func (e *Expander) SetInput(n int, level bool) {
	e.mu.Lock()
	if level {
		e.ext |= pca9535.Mask(n)
	} else {
		e.ext &^= pca9535.Mask(n)
	}
	e.mu.Unlock()
}

// Driven returns the pins actively driven high: output latch bits on pins
// configured as outputs.
func (e *Expander) Driven() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.word(regOutput0) &^ e.word(regConfig0)
}

// Direction returns the configuration register (1 = input).
func (e *Expander) Direction() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.word(regConfig0)
}

// Writes counts register write transactions.
func (e *Expander) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

func (e *Expander) external(n int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ext&pca9535.Mask(n) != 0
}
