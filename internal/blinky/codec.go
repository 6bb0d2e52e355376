package blinky

import (
	"errors"
	"fmt"
)

// LED Button Service (LBS) identifiers from the Nordic Blinky firmware.
//
// The service advertises under ServiceUUID; the button characteristic
// notifies press/release, and the LED characteristic accepts writes.
const (
	// ServiceUUID identifies the LED Button Service in advertisements.
	ServiceUUID = "00001523-1212-efde-1523-785feabcd123"

	// ButtonCharUUID is the button state characteristic (notify).
	ButtonCharUUID = "00001524-1212-efde-1523-785feabcd123"

	// LEDCharUUID is the LED state characteristic (write).
	LEDCharUUID = "00001525-1212-efde-1523-785feabcd123"
)

// Wire format constants for the 1-byte state characteristic.
const (
	// stateLength is the exact payload length for both characteristics.
	stateLength = 1

	// stateOff is the wire byte for off/released.
	stateOff = 0x00

	// stateOn is the wire byte for on/pressed.
	stateOn = 0x01
)

// Sentinel errors for state payload decoding.
// Use errors.Is() to distinguish the failure mode in calling code.
var (
	// ErrInvalidLength indicates the payload is not exactly one byte.
	ErrInvalidLength = errors.New("blinky: state payload must be exactly 1 byte")

	// ErrInvalidValue indicates the payload byte is neither 0x00 nor 0x01.
	ErrInvalidValue = errors.New("blinky: state byte must be 0x00 or 0x01")
)

// DecodeState decodes a 1-byte LED Button Service payload to a boolean.
//
// Both characteristics share this wire format: 0x00 means off/released,
// 0x01 means on/pressed. Every other length or value is rejected rather
// than coerced, so a corrupted payload can never masquerade as a valid
// state.
//
// Parameters:
//   - data: Raw characteristic payload
//
// Returns:
//   - bool: true for on/pressed, false for off/released
//   - error: ErrInvalidLength if len(data) != 1,
//     ErrInvalidValue if the byte is not 0x00 or 0x01
func DecodeState(data []byte) (bool, error) {
	if len(data) != stateLength {
		return false, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(data))
	}

	switch data[0] {
	case stateOff:
		return false, nil
	case stateOn:
		return true, nil
	default:
		return false, fmt.Errorf("%w: got 0x%02x", ErrInvalidValue, data[0])
	}
}

// EncodeState encodes a boolean state to the 1-byte wire format.
//
// EncodeState and DecodeState round-trip: DecodeState(EncodeState(b))
// always yields b with a nil error.
func EncodeState(on bool) []byte {
	if on {
		return []byte{stateOn}
	}
	return []byte{stateOff}
}
