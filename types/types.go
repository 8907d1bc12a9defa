package types

// ---- Route events (bus: tss/<pos>/route) ----

type RouteAction string

const (
	RouteConnect       RouteAction = "connect"
	RouteDisconnect    RouteAction = "disconnect"
	RouteDisconnectAll RouteAction = "disconnect_all"
)

// RouteEvent is published after every successful routing change.
type RouteEvent struct {
	Position int         `json:"tss" yaml:"tss"`
	Action   RouteAction `json:"action" yaml:"action"`
	Channel  int         `json:"channel" yaml:"channel"` // -1 for disconnect_all
	Target   int         `json:"target" yaml:"target"`   // -1 when not applicable
	Probe    bool        `json:"probe,omitempty" yaml:"probe,omitempty"`
	TS       int64       `json:"ts_ms" yaml:"ts_ms"`
}

// ---- Verification results (bus: tss/<pos>/verify/...) ----

// Failure describes one failed protocol step on a routed pair.
type Failure struct {
	Step    string      `json:"step" yaml:"step"`
	Command int         `json:"command" yaml:"command"`
	Want    *SenseState `json:"want,omitempty" yaml:"want,omitempty"`
	Got     *SenseState `json:"got,omitempty" yaml:"got,omitempty"`
	Reply   []int       `json:"reply,omitempty" yaml:"reply,omitempty"`
	Error   string      `json:"error" yaml:"error"`
}

// PairResult is the outcome of one (target, channel) pair.
type PairResult struct {
	Position int       `json:"tss" yaml:"tss"`
	Target   int       `json:"target" yaml:"target"`
	Channel  int       `json:"channel" yaml:"channel"`
	Passed   bool      `json:"passed" yaml:"passed"`
	Failures []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
	TS       int64     `json:"ts_ms" yaml:"ts_ms"`
}

// SweepReport is retained at tss/<pos>/verify/report once a sweep ends.
type SweepReport struct {
	Position   int          `json:"tss" yaml:"tss"`
	Policy     string       `json:"policy" yaml:"policy"`
	StartedMs  int64        `json:"started_ms" yaml:"started_ms"`
	FinishedMs int64        `json:"finished_ms" yaml:"finished_ms"`
	Pairs      []PairResult `json:"pairs" yaml:"pairs"`
	Passed     int          `json:"passed" yaml:"passed"`
	Failed     int          `json:"failed" yaml:"failed"`
	Aborted    bool         `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether every pair ran and passed.
func (r SweepReport) OK() bool { return r.Failed == 0 && !r.Aborted && r.Error == "" }
