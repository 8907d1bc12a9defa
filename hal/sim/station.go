package sim

import (
	"sync"

	"stackshield-go/hal/halcore"
	"stackshield-go/services/responder"
	"stackshield-go/types"
)

// Station geometry and the rev B presence pin.
const (
	Positions   = 8
	Channels    = 4
	Targets     = 4
	PresencePin = 15
)

// Route is one decoded (channel line, target) connection.
type Route struct{ Channel, Target int }

// Decoder turns the pins an expander drives high into routes.
type Decoder func(driven uint16) []Route

// HostWiring locates one host test channel.
type HostWiring struct {
	Sense  [types.SensePins]int
	Output int
	Serial string
}

// SequentialWiring numbers host pins c*4+0..3 and names ports "sim<c>".
func SequentialWiring() []HostWiring {
	w := make([]HostWiring, Channels)
	for c := range w {
		for i := 0; i < types.SensePins; i++ {
			w[c].Sense[i] = c*4 + i
		}
		w[c].Output = c*4 + 3
		w[c].Serial = "sim" + string(rune('0'+c))
	}
	return w
}

type hostChannel struct {
	sense [types.SensePins]*Pin
	out   *Pin
	port  *Port
}

// Target is one simulated target slot running a responder.
type Target struct {
	Position, Index int

	mu     sync.Mutex
	port   *Port
	ind    [types.SensePins]*Pin
	hostIn *Pin
	resp   *responder.Responder
	mute   bool
}

// Indicator returns indicator line i, e.g. to Force a stuck-at fault.
func (t *Target) Indicator(i int) *Pin { return t.ind[i] }

// SetMute drops every byte sent to this target.
func (t *Target) SetMute(m bool) {
	t.mu.Lock()
	t.mute = m
	t.mu.Unlock()
}

// State returns the responder's indicator levels.
func (t *Target) State() types.SenseState { return t.resp.State() }

func (t *Target) deliver(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mute {
		return
	}
	for _, c := range b {
		_ = t.resp.Handle(c)
	}
}

// Station is a simulated test station: expanders on one I2C bus, host
// channels on fake pins and serial ports, and a crossbar that joins a host
// channel to every target whose route the expanders currently drive.
type Station struct {
	I2C    *I2CBus
	Pins   *PinFactory
	Serial *SerialFactory

	decode  Decoder
	exps    [Positions]*Expander
	hosts   []*hostChannel
	targets [Positions][Targets]*Target
}

// NewStation builds a station with every daughterboard seated.
func NewStation(base uint16, decode Decoder, wiring []HostWiring) *Station {
	s := &Station{
		I2C:    NewI2CBus(),
		Pins:   NewPinFactory(),
		Serial: &SerialFactory{},
		decode: decode,
	}
	for p := range s.exps {
		e := NewExpander()
		e.SetInput(PresencePin, true)
		s.exps[p] = e
		s.I2C.Attach(base+uint16(p), e)
	}
	for c, w := range wiring {
		c := c
		h := &hostChannel{out: s.Pins.Pin(w.Output)}
		for i, n := range w.Sense {
			i := i
			h.sense[i] = s.Pins.Pin(n)
			h.sense[i].Attach(func() bool { return s.senseLevel(c, i) })
		}
		h.port = NewPort(func(b []byte) { s.fromHost(c, b) })
		s.Serial.Add(w.Serial, h.port)
		s.hosts = append(s.hosts, h)
	}
	for p := 0; p < Positions; p++ {
		for t := 0; t < Targets; t++ {
			p, t := p, t
			tg := &Target{Position: p, Index: t, hostIn: NewPin(0)}
			for i := range tg.ind {
				tg.ind[i] = NewPin(i + 1)
			}
			tg.hostIn.Attach(func() bool { return s.hostLevel(p, t) })
			tg.port = NewPort(func(b []byte) { s.fromTarget(p, t, b) })
			var ind [types.SensePins]halcore.GPIOPin
			for i, pin := range tg.ind {
				ind[i] = pin
			}
			tg.resp = responder.New(tg.port, ind, tg.hostIn)
			_ = tg.resp.Init()
			s.targets[p][t] = tg
		}
	}
	return s
}

func (s *Station) Expander(pos int) *Expander { return s.exps[pos] }
func (s *Station) Target(pos, t int) *Target  { return s.targets[pos][t] }
func (s *Station) HostPort(c int) *Port       { return s.hosts[c].port }

// Seat inserts or removes the daughterboard at pos.
func (s *Station) Seat(pos int, seated bool) { s.exps[pos].SetInput(PresencePin, seated) }

// Routes decodes the connections currently made at pos.
func (s *Station) Routes(pos int) []Route { return s.routes(pos) }

func (s *Station) routes(pos int) []Route {
	if s.decode == nil || !s.exps[pos].external(PresencePin) {
		return nil
	}
	return s.decode(s.exps[pos].Driven())
}

// routedTargets lists targets joined to host channel c.
func (s *Station) routedTargets(c int) []*Target {
	var out []*Target
	for p := 0; p < Positions; p++ {
		for _, r := range s.routes(p) {
			if r.Channel == c && r.Target >= 0 && r.Target < Targets {
				out = append(out, s.targets[p][r.Target])
			}
		}
	}
	return out
}

// routedChannels lists host channels joined to target (pos, t).
func (s *Station) routedChannels(pos, t int) []int {
	var out []int
	for _, r := range s.routes(pos) {
		if r.Target == t && r.Channel >= 0 && r.Channel < len(s.hosts) {
			out = append(out, r.Channel)
		}
	}
	return out
}

// Several targets on one channel are wired-OR.
func (s *Station) senseLevel(c, i int) bool {
	for _, tg := range s.routedTargets(c) {
		if tg.ind[i].Driven() {
			return true
		}
	}
	return false
}

func (s *Station) hostLevel(pos, t int) bool {
	for _, c := range s.routedChannels(pos, t) {
		if s.hosts[c].out.Driven() {
			return true
		}
	}
	return false
}

func (s *Station) fromHost(c int, b []byte) {
	for _, tg := range s.routedTargets(c) {
		tg.deliver(b)
	}
}

func (s *Station) fromTarget(pos, t int, b []byte) {
	for _, c := range s.routedChannels(pos, t) {
		s.hosts[c].port.Inject(b)
	}
}
