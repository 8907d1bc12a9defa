// Package platform supplies the hardware factories for the build target:
// Linux single-board computers through periph.io and go.bug.st/serial,
// RP2040/RP2350 through TinyGo's machine package and tinygo-uartx.
package platform

import (
	"stackshield-go/errcode"
)

var errUnsupported = errcode.New(errcode.Error, "platform.open", "no hardware support for this target")
