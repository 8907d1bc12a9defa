package verify

import (
	"fmt"

	"stackshield-go/errcode"
	"stackshield-go/types"
)

type stepKind int

const (
	senseStep stepKind = iota // command, settle, compare sense pins
	replyStep                 // command, compare reply bytes
)

type step struct {
	name     string
	kind     stepKind
	cmd      byte
	want     types.SenseState
	reply    []byte
	hostHigh bool // host output held high around the exchange
}

// protocol is the per-pair command table.
var protocol = []step{
	{name: "select_pin0", kind: senseStep, cmd: types.CmdSelectPin0, want: types.SelectState(0)},
	{name: "reset", kind: senseStep, cmd: types.CmdReset, want: types.AllLow},
	{name: "select_pin1", kind: senseStep, cmd: types.CmdSelectPin1, want: types.SelectState(1)},
	{name: "reset", kind: senseStep, cmd: types.CmdReset, want: types.AllLow},
	{name: "select_pin2", kind: senseStep, cmd: types.CmdSelectPin2, want: types.SelectState(2)},
	{name: "reset", kind: senseStep, cmd: types.CmdReset, want: types.AllLow},
	{name: "echo", kind: replyStep, cmd: types.CmdEcho, reply: []byte{types.CmdEcho}},
	{name: "handshake", kind: replyStep, cmd: types.CmdHandshake, reply: []byte{types.ReplyHandshake}, hostHigh: true},
}

// MismatchError names the pair and step whose observation differed.
type MismatchError struct {
	Position, Target, Channel int
	Step                      string
	Command                   byte
	Want, Got                 types.SenseState
	WantReply, GotReply       []byte
}

func (e *MismatchError) Error() string {
	where := fmt.Sprintf("tss %d target %d channel %d: %s (cmd %d)", e.Position, e.Target, e.Channel, e.Step, e.Command)
	if e.WantReply != nil {
		return fmt.Sprintf("%s: %s: reply %v, want %v", where, errcode.VerificationMismatch, e.GotReply, e.WantReply)
	}
	return fmt.Sprintf("%s: %s: sense %v, want %v", where, errcode.VerificationMismatch, e.Got, e.Want)
}

func (e *MismatchError) Is(target error) bool { return target == errcode.VerificationMismatch }

func (e *MismatchError) Code() errcode.Code { return errcode.VerificationMismatch }

// failure converts a step error into its report form.
func failure(s step, err error, got *types.SenseState, reply []byte) types.Failure {
	f := types.Failure{Step: s.name, Command: int(s.cmd), Error: err.Error()}
	if s.kind == senseStep {
		want := s.want
		f.Want = &want
		f.Got = got
	}
	for _, b := range reply {
		f.Reply = append(f.Reply, int(b))
	}
	return f
}
