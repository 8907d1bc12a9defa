// Package responder implements the target-resident side of the channel
// self-test protocol: it listens for single-byte commands on the command bus,
// drives three indicator lines and senses the host's output line.
//
// It has no dependencies beyond the HAL abstractions so the same loop runs in
// the host simulator and in TinyGo firmware.
package responder

import (
	"context"
	"errors"

	"stackshield-go/hal/halcore"
	"stackshield-go/types"
)

var ErrShortWrite = errors.New("responder: short write")

// Responder serves one command bus. Not safe for concurrent Handle calls.
type Responder struct {
	port halcore.SerialPort
	ind  [types.SensePins]halcore.GPIOPin
	host halcore.GPIOPin

	buf [16]byte
}

func New(port halcore.SerialPort, ind [types.SensePins]halcore.GPIOPin, host halcore.GPIOPin) *Responder {
	return &Responder{port: port, ind: ind, host: host}
}

// Init drives all indicators low and makes the host line an input.
func (r *Responder) Init() error {
	for _, p := range r.ind {
		if err := p.ConfigureOutput(false); err != nil {
			return err
		}
	}
	return r.host.ConfigureInput(halcore.PullDown)
}

// State returns the indicator levels.
func (r *Responder) State() types.SenseState {
	var s types.SenseState
	for i, p := range r.ind {
		s[i] = p.Get()
	}
	return s
}

func (r *Responder) drive(s types.SenseState) {
	for i, p := range r.ind {
		p.Set(s[i])
	}
}

// Handle applies one command byte. Unknown commands are ignored.
func (r *Responder) Handle(b byte) error {
	switch b {
	case types.CmdSelectPin0:
		r.drive(types.SelectState(0))
	case types.CmdSelectPin1:
		r.drive(types.SelectState(1))
	case types.CmdSelectPin2:
		r.drive(types.SelectState(2))
	case types.CmdReset:
		r.drive(types.AllLow)
	case types.CmdEcho:
		return r.reply(types.CmdEcho)
	case types.CmdHandshake:
		if r.host.Get() {
			return r.reply(types.ReplyHandshake)
		}
	}
	return nil
}

func (r *Responder) reply(b byte) error {
	n, err := r.port.Write([]byte{b})
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrShortWrite
	}
	return nil
}

// Run serves commands until ctx ends. Write errors are returned; the caller
// decides whether to restart.
func (r *Responder) Run(ctx context.Context) error {
	for {
		n, err := r.port.RecvSomeContext(ctx, r.buf[:])
		for i := 0; i < n; i++ {
			if herr := r.Handle(r.buf[i]); herr != nil {
				return herr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
