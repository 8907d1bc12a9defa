//go:build rp2040 || rp2350

package platform

import (
	"context"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"stackshield-go/hal/halcore"
	"stackshield-go/types"
)

// Open configures i2c0/i2c1 at 400 kHz on board-default pins and uart0/uart1
// on their default pins with the requested format.
func Open(sf types.SerialFormat) (halcore.Factories, error) {
	f := &rp2I2CFactory{buses: make(map[string]drivers.I2C)}

	b0 := machine.I2C0
	_ = b0.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})
	f.buses["i2c0"] = b0

	b1 := machine.I2C1
	_ = b1.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C1_SDA_PIN,
		SCL:       machine.I2C1_SCL_PIN,
	})
	f.buses["i2c1"] = b1

	s := &rp2SerialFactory{ports: make(map[string]halcore.SerialPort)}
	for id, u := range map[string]struct {
		hw     *uartx.UART
		tx, rx machine.Pin
	}{
		"uart0": {uartx.UART0, machine.UART0_TX_PIN, machine.UART0_RX_PIN},
		"uart1": {uartx.UART1, machine.UART1_TX_PIN, machine.UART1_RX_PIN},
	} {
		if err := u.hw.Configure(uartx.UARTConfig{BaudRate: sf.Baud, TX: u.tx, RX: u.rx}); err != nil {
			return halcore.Factories{}, err
		}
		p := &rp2SerialPort{u: u.hw}
		if sf.DataBits != 0 {
			if err := p.SetFormat(sf.DataBits, sf.StopBits, sf.Parity.String()); err != nil {
				return halcore.Factories{}, err
			}
		}
		s.ports[id] = p
	}

	return halcore.Factories{
		I2C:    f,
		Pins:   rp2PinFactory{},
		Serial: s,
		Close:  func() error { return nil },
	}, nil
}

// ---- I²C ----

type rp2I2CFactory struct {
	buses map[string]drivers.I2C
}

func (f *rp2I2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// ---- GPIO ----

type rp2PinFactory struct{}

// ByNumber maps GP numbering directly to machine.Pin (GP0..GP28).
func (rp2PinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	if n < 0 || n > 28 {
		return nil, false
	}
	return &rp2Pin{p: machine.Pin(n), n: n}, true
}

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) ConfigureInput(pull halcore.Pull) error {
	var mode machine.PinMode
	switch pull {
	case halcore.PullUp:
		mode = machine.PinInputPullup
	case halcore.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }
func (r *rp2Pin) Number() int    { return r.n }

// ---- Serial ----

type rp2SerialFactory struct {
	ports map[string]halcore.SerialPort
}

func (f *rp2SerialFactory) ByID(id string) (halcore.SerialPort, bool) {
	p, ok := f.ports[id]
	return p, ok
}

// rp2SerialPort adapts uartx to halcore.SerialPort and SerialFormatter.
type rp2SerialPort struct{ u *uartx.UART }

func (p *rp2SerialPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *rp2SerialPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}
func (p *rp2SerialPort) SetBaudRate(br uint32) error { p.u.SetBaudRate(br); return nil }

// Parity strings: "none","even","odd"
func (p *rp2SerialPort) SetFormat(databits, stopbits uint8, parity string) error {
	var par uartx.UARTParity
	switch parity {
	case "even":
		par = uartx.ParityEven
	case "odd":
		par = uartx.ParityOdd
	default:
		par = uartx.ParityNone
	}
	return p.u.SetFormat(databits, stopbits, par)
}
