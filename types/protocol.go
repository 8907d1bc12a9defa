package types

// Self-test command bytes understood by the target-resident responder.
const (
	CmdSelectPin0 byte = 0  // drive indicator 0 high, others low
	CmdSelectPin1 byte = 1  // drive indicator 1 high, others low
	CmdSelectPin2 byte = 2  // drive indicator 2 high, others low
	CmdHandshake  byte = 3  // reply ReplyHandshake when the host output is high
	CmdEcho       byte = 5  // reply with the same byte
	CmdReset      byte = 10 // drive all indicators low

	ReplyHandshake byte = 4
)

// SensePins is the number of sense lines per test channel.
const SensePins = 3

// SenseState is one sample of a channel's three sense lines, index = pin.
type SenseState [SensePins]bool

// Sense builds a SenseState from three levels.
func Sense(p0, p1, p2 bool) SenseState { return SenseState{p0, p1, p2} }

// AllLow is the state after CmdReset.
var AllLow = SenseState{}

// SelectState is the expected state after CmdSelectPinN.
func SelectState(pin int) SenseState {
	var s SenseState
	if pin >= 0 && pin < SensePins {
		s[pin] = true
	}
	return s
}

func (s SenseState) String() string {
	out := "("
	for i, v := range s {
		if i > 0 {
			out += ", "
		}
		if v {
			out += "high"
		} else {
			out += "low"
		}
	}
	return out + ")"
}
