// Package pca9535 provides constants for register addresses used in the
// operation of the PCA9535 16-bit I2C GPIO expander.
package pca9535

const (
	// 7-bit I2C base address (0100_A2A1A0b); A2..A0 add 0..7.
	AddressBase = 0x20

	// Register pairs. Port 0 is pins 0..7, port 1 is pins 8..15.
	// A write that starts on a port-0 register continues into port 1.
	regInput0    = 0x00 // R
	regInput1    = 0x01 // R
	regOutput0   = 0x02 // R/W, power-on 0xFF
	regOutput1   = 0x03 // R/W
	regPolarity0 = 0x04 // R/W, power-on 0x00
	regPolarity1 = 0x05 // R/W
	regConfig0   = 0x06 // R/W, 1 = input, power-on 0xFF
	regConfig1   = 0x07 // R/W

	// NumPins on one expander.
	NumPins = 16
)
