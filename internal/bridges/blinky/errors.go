package blinky

import "errors"

// Domain-specific errors for bridge operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidScan is returned when a scan message fails validation.
	ErrInvalidScan = errors.New("blinky: invalid scan message")

	// ErrCommandTimeout is returned when no acknowledgment arrives for a
	// command within the timeout.
	ErrCommandTimeout = errors.New("blinky: command timed out waiting for acknowledgment")

	// ErrCommandFailed is returned when a scanner reports a failed write.
	ErrCommandFailed = errors.New("blinky: command failed")

	// ErrNotConnected is returned when the MQTT client is not connected.
	ErrNotConnected = errors.New("blinky: not connected to broker")
)
