//go:build !linux && !(rp2040 || rp2350)

package platform

import (
	"stackshield-go/hal/halcore"
	"stackshield-go/types"
)

// Open reports that this target has no station hardware.
func Open(types.SerialFormat) (halcore.Factories, error) {
	return halcore.Factories{}, errUnsupported
}
