// Package blinky implements the wire codec for the Nordic LED Button
// Service (LBS), the 1-byte GATT protocol spoken by Blinky peripherals.
//
// The service exposes two characteristics sharing one encoding:
//
//   - Button (0x1524, notify): 0x01 pressed, 0x00 released
//   - LED (0x1525, write): 0x01 on, 0x00 off
//
// DecodeState is the single decode path for every inbound payload,
// whether it arrives as an unsolicited button notification or as the
// acknowledgement of an LED write. Strictness is deliberate: payloads
// that are not exactly one byte, or whose byte is not 0x00/0x01, fail
// with a typed error instead of being coerced.
//
// # Usage
//
//	on, err := blinky.DecodeState(payload)
//	if errors.Is(err, blinky.ErrInvalidValue) {
//	    // corrupted or foreign payload
//	}
//
//	cmd := blinky.EncodeState(true) // []byte{0x01}
package blinky
