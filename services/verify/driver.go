// Package verify drives the per-channel self-test protocol and sweeps every
// (target, channel) pair of a board position.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stackshield-go/errcode"
	"stackshield-go/hal/halcore"
	"stackshield-go/logger"
	"stackshield-go/services/config"
	"stackshield-go/types"
)

// Timing of the command bus. The settle delay is a hardware requirement;
// values below MinSettle are raised to it.
const (
	MinSettle          = 50 * time.Millisecond
	DefaultReadTimeout = 500 * time.Millisecond
)

type Timing struct {
	Settle      time.Duration
	ReadTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{Settle: MinSettle, ReadTimeout: DefaultReadTimeout}
}

func (t Timing) normalised() Timing {
	if t.Settle < MinSettle {
		t.Settle = MinSettle
	}
	if t.ReadTimeout <= 0 {
		t.ReadTimeout = DefaultReadTimeout
	}
	return t
}

// TimingFrom builds Timing from the [serial] and [verify] sections.
func TimingFrom(c *config.Config) Timing {
	return Timing{
		Settle:      MinSettle + time.Duration(c.Verify.ExtraSettleMs)*time.Millisecond,
		ReadTimeout: time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond,
	}.normalised()
}

// Clock is the source of settle delays.
type Clock interface {
	Sleep(d time.Duration)
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
func (SystemClock) Now() time.Time        { return time.Now() }

type DriverOptions struct {
	Timing Timing
	Clock  Clock
	Format *types.SerialFormat // applied when the port is a SerialFormatter
	Log    *logger.Log
}

// Driver owns one test channel: three sense inputs, the host output line and
// the serial command bus.
type Driver struct {
	ch     int
	sense  [types.SensePins]halcore.GPIOPin
	out    halcore.GPIOPin
	port   halcore.SerialPort
	timing Timing
	clock  Clock
	format *types.SerialFormat
	log    *logger.Log
	ready  bool
	buf    [16]byte
}

func NewDriver(ch int, sense [types.SensePins]halcore.GPIOPin, out halcore.GPIOPin, port halcore.SerialPort, opt DriverOptions) *Driver {
	if opt.Clock == nil {
		opt.Clock = SystemClock{}
	}
	if opt.Timing == (Timing{}) {
		opt.Timing = DefaultTiming()
	}
	return &Driver{
		ch:     ch,
		sense:  sense,
		out:    out,
		port:   port,
		timing: opt.Timing.normalised(),
		clock:  opt.Clock,
		format: opt.Format,
		log:    logger.OrDiscard(opt.Log).With(logger.Fields{"module": "verify", "channel": ch}),
	}
}

// OpenDriver resolves a [[channel]] entry against platform factories.
func OpenDriver(cc config.ChannelConf, pins halcore.PinFactory, serial halcore.SerialFactory, opt DriverOptions) (*Driver, error) {
	if len(cc.Sense) != types.SensePins {
		return nil, errcode.New(errcode.InvalidParams, "verify.open", fmt.Sprintf("channel %d: want %d sense pins", cc.Index, types.SensePins))
	}
	var sense [types.SensePins]halcore.GPIOPin
	for i, n := range cc.Sense {
		p, ok := pins.ByNumber(n)
		if !ok {
			return nil, errcode.New(errcode.InvalidParams, "verify.open", fmt.Sprintf("channel %d: no gpio %d", cc.Index, n))
		}
		sense[i] = p
	}
	out, ok := pins.ByNumber(cc.Output)
	if !ok {
		return nil, errcode.New(errcode.InvalidParams, "verify.open", fmt.Sprintf("channel %d: no gpio %d", cc.Index, cc.Output))
	}
	port, ok := serial.ByID(cc.Serial)
	if !ok {
		return nil, errcode.New(errcode.InvalidParams, "verify.open", fmt.Sprintf("channel %d: no serial %q", cc.Index, cc.Serial))
	}
	return NewDriver(cc.Index, sense, out, port, opt), nil
}

func (d *Driver) Channel() int { return d.ch }

func (d *Driver) op(name string) string { return fmt.Sprintf("verify.ch%d.%s", d.ch, name) }

func (d *Driver) requireInit(name string) error {
	if !d.ready {
		return errcode.New(errcode.NotInitialised, d.op(name), "init_pins has not run")
	}
	return nil
}

// InitPins makes the sense pins inputs and drives the host output low.
func (d *Driver) InitPins() error {
	for i, p := range d.sense {
		if err := p.ConfigureInput(halcore.PullDown); err != nil {
			return errcode.Wrap(errcode.Error, d.op(fmt.Sprintf("init_pins.sense%d", i)), err)
		}
	}
	if err := d.out.ConfigureOutput(false); err != nil {
		return errcode.Wrap(errcode.Error, d.op("init_pins.output"), err)
	}
	if f, ok := d.port.(halcore.SerialFormatter); ok && d.format != nil {
		if err := f.SetBaudRate(d.format.Baud); err != nil {
			return errcode.Wrap(errcode.Error, d.op("init_pins.serial"), err)
		}
		if err := f.SetFormat(d.format.DataBits, d.format.StopBits, d.format.Parity.String()); err != nil {
			return errcode.Wrap(errcode.Error, d.op("init_pins.serial"), err)
		}
	}
	d.ready = true
	return nil
}

// TestInputIsHigh reads sense pin 0..2.
func (d *Driver) TestInputIsHigh(pin int) (bool, error) {
	if pin < 0 || pin >= types.SensePins {
		return false, errcode.New(errcode.OutOfRange, d.op("input"), fmt.Sprintf("pin %d not in 0..%d", pin, types.SensePins-1))
	}
	if err := d.requireInit("input"); err != nil {
		return false, err
	}
	return d.sense[pin].Get(), nil
}

// Sense samples all three sense pins.
func (d *Driver) Sense() (types.SenseState, error) {
	var s types.SenseState
	for i := range s {
		v, err := d.TestInputIsHigh(i)
		if err != nil {
			return s, err
		}
		s[i] = v
	}
	return s, nil
}

func (d *Driver) TestOutputSetHigh() error { return d.setOutput(true) }
func (d *Driver) TestOutputSetLow() error  { return d.setOutput(false) }

func (d *Driver) setOutput(level bool) error {
	if err := d.requireInit("output"); err != nil {
		return err
	}
	d.out.Set(level)
	return nil
}

// TestBusWrite sends bytes to the responder.
func (d *Driver) TestBusWrite(b []byte) error {
	if err := d.requireInit("bus_write"); err != nil {
		return err
	}
	n, err := d.port.Write(b)
	if err != nil {
		return errcode.Wrap(errcode.Error, d.op("bus_write"), err)
	}
	if n != len(b) {
		return errcode.New(errcode.Error, d.op("bus_write"), fmt.Sprintf("short write %d/%d", n, len(b)))
	}
	d.log.Tracef("tx %v", b)
	return nil
}

// TestBusRead waits up to the read timeout for at least one byte. Silence
// is SerialTimeout.
func (d *Driver) TestBusRead() ([]byte, error) {
	if err := d.requireInit("bus_read"); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timing.ReadTimeout)
	defer cancel()
	n, err := d.port.RecvSomeContext(ctx, d.buf[:])
	if n > 0 {
		out := append([]byte(nil), d.buf[:n]...)
		d.log.Tracef("rx %v", out)
		return out, nil
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return nil, errcode.New(errcode.SerialTimeout, d.op("bus_read"), fmt.Sprintf("no reply within %v", d.timing.ReadTimeout))
	}
	return nil, errcode.Wrap(errcode.Error, d.op("bus_read"), err)
}

// Flush drops stale input when the port supports it.
func (d *Driver) Flush() error {
	if f, ok := d.port.(halcore.SerialFlusher); ok {
		return f.ResetInputBuffer()
	}
	return nil
}

// Command sends one state-changing command and waits the settle delay.
func (d *Driver) Command(cmd byte) error {
	if err := d.TestBusWrite([]byte{cmd}); err != nil {
		return err
	}
	d.Settle()
	return nil
}

// Settle blocks for the settle delay.
func (d *Driver) Settle() { d.clock.Sleep(d.timing.Settle) }

// Exchange flushes, sends cmd and returns the reply.
func (d *Driver) Exchange(cmd byte) ([]byte, error) {
	if err := d.Flush(); err != nil {
		return nil, errcode.Wrap(errcode.Error, d.op("flush"), err)
	}
	if err := d.TestBusWrite([]byte{cmd}); err != nil {
		return nil, err
	}
	return d.TestBusRead()
}
