package influxdb

import "errors"

// Sentinels for the telemetry client. Write failures mostly surface
// through the async error callback instead; these cover connection
// lifecycle and health checks.
var (
	// ErrNotConnected is returned when a health check runs against a
	// client that never connected or has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed initial ping of the server.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when the influxdb section of
	// config.yaml has enabled: false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
