package types

// ------------------------
// Serial command bus
// ------------------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

func (p Parity) MarshalJSON() ([]byte, error) { return []byte(`"` + p.String() + `"`), nil }

// ParseParity accepts "none", "even" or "odd"; anything else is none.
func ParseParity(s string) Parity {
	switch s {
	case "even":
		return ParityEven
	case "odd":
		return ParityOdd
	default:
		return ParityNone
	}
}

// SerialFormat is the line format of a channel's command bus.
type SerialFormat struct {
	Baud     uint32 `json:"baud" yaml:"baud"`
	DataBits uint8  `json:"data_bits" yaml:"data_bits"`
	StopBits uint8  `json:"stop_bits" yaml:"stop_bits"`
	Parity   Parity `json:"parity" yaml:"parity"`
}

// DefaultSerialFormat is 115200 8N1.
func DefaultSerialFormat() SerialFormat {
	return SerialFormat{Baud: 115200, DataBits: 8, StopBits: 1, Parity: ParityNone}
}
