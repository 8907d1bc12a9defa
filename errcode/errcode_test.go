package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"bus_error":             BusError,
		"serial_timeout":        SerialTimeout,
		"out_of_range":          OutOfRange,
		"no_daughterboard":      NoDaughterboard,
		"not_initialised":       NotInitialised,
		"route_busy":            RouteBusy,
		"verification_mismatch": VerificationMismatch,
	}
	for want, e := range cases {
		if e.Error() != want {
			t.Fatalf("code %q mismatch: got %q", want, e.Error())
		}
	}
}

func TestOfUnwrapsChains(t *testing.T) {
	cause := errors.New("nack")
	err := fmt.Errorf("connect: %w", Wrap(BusError, "pca9535.write", cause))

	if got := Of(err); got != BusError {
		t.Fatalf("Of = %q, want %q", got, BusError)
	}
	if !errors.Is(err, BusError) {
		t.Fatal("errors.Is should match the wrapped code")
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should reach the cause")
	}
	if errors.Is(err, SerialTimeout) {
		t.Fatal("errors.Is matched the wrong code")
	}
}

func TestOfDefaults(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil should map to ok")
	}
	if Of(errors.New("x")) != Error {
		t.Fatal("plain error should map to generic error")
	}
	if Of(OutOfRange) != OutOfRange {
		t.Fatal("bare code should map to itself")
	}
}

func TestEErrorFormat(t *testing.T) {
	e := &E{C: OutOfRange, Op: "shield.connect", Msg: "target 4"}
	if got, want := e.Error(), "shield.connect: out_of_range: target 4"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
