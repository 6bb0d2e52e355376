package discovery

import "errors"

// Domain-specific errors for discovery operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when an address has never been observed
	// (registry) or has no catalogue row (repository).
	ErrDeviceNotFound = errors.New("discovery: device not found")

	// ErrInvalidAddress is returned by the repository for an empty address.
	ErrInvalidAddress = errors.New("discovery: address cannot be empty")
)
