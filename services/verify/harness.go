package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"stackshield-go/bus"
	"stackshield-go/errcode"
	"stackshield-go/logger"
	"stackshield-go/services/config"
	"stackshield-go/services/shield"
	"stackshield-go/types"
	"stackshield-go/x/timex"
)

// Policy decides what a sweep does after a failing pair.
type Policy int

const (
	StopOnFirst Policy = iota
	CollectAll
)

func (p Policy) String() string {
	if p == CollectAll {
		return config.PolicyCollectAll
	}
	return config.PolicyStopOnFirst
}

func ParsePolicy(s string) (Policy, error) {
	name, err := config.ParsePolicy(s)
	if err != nil {
		return StopOnFirst, errcode.Wrap(errcode.InvalidParams, "verify.policy", err)
	}
	if name == config.PolicyCollectAll {
		return CollectAll, nil
	}
	return StopOnFirst, nil
}

// Router is the routing surface a sweep needs; *shield.Controller has it.
type Router interface {
	Position() shield.Position
	InitPins() error
	DisconnectAll() error
	Disconnect(shield.Channel) error
	DaughterboardIsConnected() (bool, error)
	ConnectTestChannelToTarget(shield.Channel, shield.Target) error
}

type HarnessOptions struct {
	Policy Policy
	Conn   *bus.Connection
	Log    *logger.Log
}

// Harness sweeps every target × channel pair of one position.
type Harness struct {
	router  Router
	drivers [shield.Channels]*Driver
	policy  Policy
	conn    *bus.Connection
	log     *logger.Log
}

// NewHarness needs exactly one driver per channel.
func NewHarness(router Router, drivers []*Driver, opt HarnessOptions) (*Harness, error) {
	h := &Harness{
		router: router,
		policy: opt.Policy,
		conn:   opt.Conn,
		log:    logger.OrDiscard(opt.Log).With(logger.Fields{"module": "verify", "tss": int(router.Position())}),
	}
	for _, d := range drivers {
		if d == nil || d.ch < 0 || d.ch >= shield.Channels {
			return nil, errcode.New(errcode.InvalidParams, "verify.harness", "driver channel out of range")
		}
		if h.drivers[d.ch] != nil {
			return nil, errcode.New(errcode.InvalidParams, "verify.harness", fmt.Sprintf("channel %d has two drivers", d.ch))
		}
		h.drivers[d.ch] = d
	}
	for ch, d := range h.drivers {
		if d == nil {
			return nil, errcode.New(errcode.InvalidParams, "verify.harness", fmt.Sprintf("no driver for channel %d", ch))
		}
	}
	return h, nil
}

// pairLocal errors fail one pair; anything else leaves the fabric in doubt
// and ends the sweep whatever the policy.
func pairLocal(err error) bool {
	return errors.Is(err, errcode.VerificationMismatch) || errors.Is(err, errcode.SerialTimeout)
}

// Sweep runs the full matrix, target-major. The crossbar is open when it
// returns. The report is published retained on tss/<pos>/verify/report.
func (h *Harness) Sweep(ctx context.Context) (rep types.SweepReport, err error) {
	pos := int(h.router.Position())
	rep = types.SweepReport{Position: pos, Policy: h.policy.String(), StartedMs: timex.NowMs(), Pairs: []types.PairResult{}}
	var pairErrs []error

	defer func() {
		if derr := h.router.DisconnectAll(); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			rep.Error = err.Error()
		}
		rep.FinishedMs = timex.NowMs()
		h.publish(bus.T("tss", pos, "verify", "report"), rep, true)
		h.log.WithField("passed", rep.Passed).WithField("failed", rep.Failed).Info("sweep finished")
	}()

	if err = h.prepare(); err != nil {
		return rep, err
	}

	for t := shield.Target(0); t < shield.Targets; t++ {
		for ch := shield.Channel(0); ch < shield.Channels; ch++ {
			if cerr := ctx.Err(); cerr != nil {
				rep.Aborted = true
				return rep, cerr
			}
			res, perr := h.VerifyPair(ctx, ch, t)
			rep.Pairs = append(rep.Pairs, res)
			if res.Passed {
				rep.Passed++
				continue
			}
			rep.Failed++
			if !pairLocal(perr) {
				rep.Aborted = true
				return rep, perr
			}
			pairErrs = append(pairErrs, perr)
			if h.policy == StopOnFirst {
				rep.Aborted = ch != shield.Channels-1 || t != shield.Targets-1
				return rep, perr
			}
		}
	}
	return rep, errors.Join(pairErrs...)
}

func (h *Harness) prepare() error {
	if err := h.router.InitPins(); err != nil {
		return err
	}
	if err := h.router.DisconnectAll(); err != nil {
		return err
	}
	present, err := h.router.DaughterboardIsConnected()
	if err != nil {
		return err
	}
	if !present {
		return errcode.New(errcode.NoDaughterboard, "verify.sweep", fmt.Sprintf("tss %d", h.router.Position()))
	}
	for _, d := range h.drivers {
		if err := d.InitPins(); err != nil {
			return err
		}
	}
	return nil
}

// VerifyPair routes ch to t, runs the protocol table and disconnects ch
// again. The first failing step ends the pair.
func (h *Harness) VerifyPair(ctx context.Context, ch shield.Channel, t shield.Target) (res types.PairResult, err error) {
	pos := int(h.router.Position())
	res = types.PairResult{Position: pos, Target: int(t), Channel: int(ch)}
	d := h.drivers[ch]
	log := h.log.With(logger.Fields{"target": int(t), "channel": int(ch)})

	defer func() {
		res.TS = timex.NowMs()
		res.Passed = err == nil
		h.publish(bus.T("tss", pos, "verify", int(t), int(ch)), res, false)
		if err != nil {
			log.WithError(err).Warn("pair failed")
		} else {
			log.Info("pair passed")
		}
	}()

	if err = h.router.ConnectTestChannelToTarget(ch, t); err != nil {
		res.Failures = append(res.Failures, types.Failure{Step: "connect", Error: err.Error()})
		return res, err
	}
	defer func() {
		if derr := h.router.Disconnect(ch); derr != nil && err == nil {
			err = derr
			res.Failures = append(res.Failures, types.Failure{Step: "disconnect", Error: derr.Error()})
		}
	}()
	d.Settle()

	for _, s := range protocol {
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		got, reply, serr := h.runStep(d, s)
		if serr == nil {
			continue
		}
		var me *MismatchError
		if errors.As(serr, &me) {
			me.Position, me.Target, me.Channel = pos, int(t), int(ch)
		}
		res.Failures = append(res.Failures, failure(s, serr, got, reply))
		if !errors.Is(serr, errcode.VerificationMismatch) {
			serr = fmt.Errorf("tss %d target %d channel %d: %s: %w", pos, t, ch, s.name, serr)
		}
		return res, serr
	}
	return res, nil
}

// runStep runs one protocol step. A host output that fails to drop after a
// handshake fails the step even when the reply matched.
func (h *Harness) runStep(d *Driver, s step) (got *types.SenseState, reply []byte, err error) {
	switch s.kind {
	case senseStep:
		if err = d.Command(s.cmd); err != nil {
			return nil, nil, err
		}
		state, err := d.Sense()
		if err != nil {
			return nil, nil, err
		}
		if state != s.want {
			return &state, nil, &MismatchError{Step: s.name, Command: s.cmd, Want: s.want, Got: state}
		}
		return &state, nil, nil

	default:
		if s.hostHigh {
			if err = d.TestOutputSetHigh(); err != nil {
				return nil, nil, err
			}
			defer func() {
				if lerr := d.TestOutputSetLow(); lerr != nil && err == nil {
					err = lerr
				}
			}()
		}
		if reply, err = d.Exchange(s.cmd); err != nil {
			return nil, nil, err
		}
		if !bytes.Equal(reply, s.reply) {
			return nil, reply, &MismatchError{Step: s.name, Command: s.cmd, WantReply: s.reply, GotReply: reply}
		}
		return nil, reply, nil
	}
}

func (h *Harness) publish(topic bus.Topic, payload any, retained bool) {
	if h.conn == nil {
		return
	}
	h.conn.Publish(h.conn.NewMessage(topic, payload, retained))
}
