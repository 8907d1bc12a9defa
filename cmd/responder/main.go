//go:build rp2040 || rp2350

// Command responder is the target-side firmware for a Pico on a target
// slot: it answers the self-test commands on UART0 and drives the three
// indicator lines the host samples.
package main

import (
	"context"
	"time"

	"stackshield-go/hal/halcore"
	"stackshield-go/hal/platform"
	"stackshield-go/services/responder"
	"stackshield-go/types"
)

// Indicator lines GP2..GP4, host output sensed on GP5.
var (
	indicatorPins = [types.SensePins]int{2, 3, 4}
	hostPin       = 5
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("responder boot")

	hw, err := platform.Open(types.DefaultSerialFormat())
	if err != nil {
		halt("platform", err)
	}
	port, ok := hw.Serial.ByID("uart0")
	if !ok {
		halt("uart0", nil)
	}
	var ind [types.SensePins]halcore.GPIOPin
	for i, n := range indicatorPins {
		if ind[i], ok = hw.Pins.ByNumber(n); !ok {
			halt("indicator pin", nil)
		}
	}
	host, ok := hw.Pins.ByNumber(hostPin)
	if !ok {
		halt("host pin", nil)
	}

	r := responder.New(port, ind, host)
	if err := r.Init(); err != nil {
		halt("init", err)
	}
	println("responder ready")
	for {
		if err := r.Run(context.Background()); err != nil {
			println("responder:", err.Error())
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func halt(what string, err error) {
	for {
		if err != nil {
			println("responder:", what, err.Error())
		} else {
			println("responder:", what, "unavailable")
		}
		time.Sleep(time.Second)
	}
}
