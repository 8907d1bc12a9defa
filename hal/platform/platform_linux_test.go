//go:build linux && !(rp2040 || rp2350)

package platform

import (
	"testing"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"

	"stackshield-go/hal/halcore"
	"stackshield-go/types"
)

func TestModeFor(t *testing.T) {
	m := modeFor(types.SerialFormat{})
	if m.BaudRate != 115200 || m.DataBits != 8 || m.StopBits != serial.OneStopBit || m.Parity != serial.NoParity {
		t.Fatalf("default mode %+v", m)
	}
	m = modeFor(types.SerialFormat{Baud: 9600, DataBits: 7, StopBits: 2, Parity: types.ParityEven})
	if m.BaudRate != 9600 || m.DataBits != 7 || m.StopBits != serial.TwoStopBits || m.Parity != serial.EvenParity {
		t.Fatalf("mode %+v", m)
	}
}

func TestPullFor(t *testing.T) {
	cases := map[halcore.Pull]gpio.Pull{
		halcore.PullUp:   gpio.PullUp,
		halcore.PullDown: gpio.PullDown,
		halcore.PullNone: gpio.Float,
	}
	for in, want := range cases {
		if got := pullFor(in); got != want {
			t.Errorf("pullFor(%v) = %v, want %v", in, got, want)
		}
	}
}
