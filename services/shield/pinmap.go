package shield

import (
	"fmt"

	"stackshield-go/errcode"
)

// Station geometry.
const (
	Positions = 8
	Channels  = 4
	Targets   = 4
	Probes    = 4

	BaseAddr uint16 = 32
)

// Expander pin assignment, hardware revision B.
const (
	PresencePin = 15

	switchPins  uint16 = 0x00FF // channel switches 0-3, target switches 4-7
	inputPins   uint16 = 0xFF00
	targetShift        = 4
)

// Board position 0..7.
type Position int

// Test channel 0..3.
type Channel int

// Target slot 0..3.
type Target int

// Probe is the header numbering of the physical probe lines. It is a
// separate coordinate system from Channel; see probeSwitch.
type Probe int

func outOfRange(op, what string, v, max int) error {
	return errcode.New(errcode.OutOfRange, op, fmt.Sprintf("%s %d not in 0..%d", what, v, max-1))
}

func ParsePosition(v int) (Position, error) {
	if v < 0 || v >= Positions {
		return 0, outOfRange("shield.position", "tss", v, Positions)
	}
	return Position(v), nil
}

func ParseChannel(v int) (Channel, error) {
	if v < 0 || v >= Channels {
		return 0, outOfRange("shield.channel", "channel", v, Channels)
	}
	return Channel(v), nil
}

func ParseTarget(v int) (Target, error) {
	if v < 0 || v >= Targets {
		return 0, outOfRange("shield.target", "target", v, Targets)
	}
	return Target(v), nil
}

func ParseProbe(v int) (Probe, error) {
	if v < 0 || v >= Probes {
		return 0, outOfRange("shield.probe", "probe", v, Probes)
	}
	return Probe(v), nil
}

func (p Position) Valid() bool { return p >= 0 && p < Positions }
func (c Channel) Valid() bool  { return c >= 0 && c < Channels }
func (t Target) Valid() bool   { return t >= 0 && t < Targets }
func (p Probe) Valid() bool    { return p >= 0 && p < Probes }

// Address is the expander address for p.
func (p Position) Address(base uint16) uint16 { return base + uint16(p) }

var (
	channelSwitch = [Channels]int{0, 1, 2, 3}
	targetSwitch  = [Targets]int{4, 5, 6, 7}
	probeSwitch   = [Probes]int{2, 3, 0, 1}
)

// Pin is the switch pin for channel c.
func (c Channel) Pin() int { return channelSwitch[c] }

// Pin is the switch pin for target t.
func (t Target) Pin() int { return targetSwitch[t] }

// Pin is the channel switch pin that probe p is wired through.
func (p Probe) Pin() int { return probeSwitch[p] }

// Line is the test channel whose switch probe p shares.
func (p Probe) Line() Channel {
	pin := probeSwitch[p]
	for c, n := range channelSwitch {
		if n == pin {
			return Channel(c)
		}
	}
	panic("shield: probe switch without channel")
}

// Route is one (channel, target) connection.
type Route struct {
	Channel Channel `json:"channel" yaml:"channel"`
	Target  Target  `json:"target" yaml:"target"`
}

func (r Route) mask() uint16 {
	return 1<<uint(r.Channel.Pin()) | 1<<uint(r.Target.Pin())
}

// DecodeRoutes lists every connection the switch pins in driven make. The
// matrix joins each asserted channel to each asserted target.
func DecodeRoutes(driven uint16) []Route {
	var out []Route
	for c := Channel(0); c < Channels; c++ {
		if driven&(1<<uint(c.Pin())) == 0 {
			continue
		}
		for t := Target(0); t < Targets; t++ {
			if driven&(1<<uint(t.Pin())) != 0 {
				out = append(out, Route{Channel: c, Target: t})
			}
		}
	}
	return out
}
