package pca9535

import (
	"errors"
	"testing"
)

// regFile is a minimal PCA9535 register model with a transaction log.
type regFile struct {
	regs   [8]byte
	inputs uint16
	txs    int
	fail   error
}

func newRegFile() *regFile {
	f := &regFile{}
	f.regs[regOutput0], f.regs[regOutput1] = 0xFF, 0xFF
	f.regs[regConfig0], f.regs[regConfig1] = 0xFF, 0xFF
	return f
}

func (f *regFile) Tx(addr uint16, w, r []byte) error {
	f.txs++
	if f.fail != nil {
		return f.fail
	}
	if len(w) == 0 {
		return nil
	}
	reg := w[0] & 0x07
	for i, b := range w[1:] {
		f.regs[(reg&^1)|((reg+byte(i))&1)] = b
	}
	for i := range r {
		idx := (reg &^ 1) | ((reg + byte(i)) & 1)
		switch idx {
		case regInput0:
			r[i] = byte(f.inputs)
		case regInput1:
			r[i] = byte(f.inputs >> 8)
		default:
			r[i] = f.regs[idx]
		}
	}
	return nil
}

func TestWritePinsOnlyTouchesMask(t *testing.T) {
	f := newRegFile()
	d := New(f, AddressBase+3)
	if d.Address() != 0x23 {
		t.Fatalf("address = %#x", d.Address())
	}
	if err := d.WriteOutputs(0x0000); err != nil {
		t.Fatal(err)
	}
	if err := d.WritePins(0x0011, 0x0011); err != nil {
		t.Fatal(err)
	}
	if err := d.WritePins(0x8001, 0x8000); err != nil {
		t.Fatal(err)
	}
	got, err := d.ReadOutputs()
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x8010 {
		t.Fatalf("outputs = %#04x, want 0x8010", got)
	}
}

func TestWritePinsNoopSkipsWrite(t *testing.T) {
	f := newRegFile()
	d := New(f, 0)
	_ = d.WriteOutputs(0x0002)
	before := f.txs
	if err := d.WritePins(0, 0xFFFF); err != nil {
		t.Fatal(err)
	}
	if f.txs != before {
		t.Fatalf("zero mask issued %d transactions", f.txs-before)
	}
	if err := d.WritePin(1, true); err != nil {
		t.Fatal(err)
	}
	if f.txs != before+1 {
		t.Fatalf("unchanged latch should read once and not write, got %d txs", f.txs-before)
	}
}

func TestReadPinBothPorts(t *testing.T) {
	f := newRegFile()
	f.inputs = 0x8004
	d := New(f, AddressBase)
	for _, c := range []struct {
		pin  int
		want bool
	}{{2, true}, {3, false}, {15, true}, {8, false}} {
		got, err := d.ReadPin(c.pin)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("pin %d = %v, want %v", c.pin, got, c.want)
		}
	}
}

func TestDirectionRoundTrip(t *testing.T) {
	f := newRegFile()
	d := New(f, AddressBase)
	if err := d.WriteDirection(0xFF00); err != nil {
		t.Fatal(err)
	}
	got, err := d.ReadDirection()
	if err != nil || got != 0xFF00 {
		t.Fatalf("direction = %#04x, %v", got, err)
	}
}

func TestPinRangeAndBusErrors(t *testing.T) {
	f := newRegFile()
	d := New(f, AddressBase)
	if _, err := d.ReadPin(16); !errors.Is(err, ErrPin) {
		t.Fatalf("want ErrPin, got %v", err)
	}
	if err := d.WritePin(-1, true); !errors.Is(err, ErrPin) {
		t.Fatalf("want ErrPin, got %v", err)
	}
	nack := errors.New("nack")
	f.fail = nack
	if _, err := d.ReadInputs(); !errors.Is(err, nack) {
		t.Fatalf("want bus error, got %v", err)
	}
}
