package blinky

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MQTT message types exchanged between Blinky Core and the edge scanners.

// ScanMessage is published by a scanner for every advertisement it sees.
// Topic: blinky/scan/{scanner_id}
type ScanMessage struct {
	// Address is the peripheral hardware address (e.g. "aa:bb:cc:dd:ee:ff").
	Address string `json:"address"`

	// Name is the advertised local name, if present.
	Name string `json:"name,omitempty"`

	// RSSI is the signal strength of this advertisement in dBm.
	RSSI int `json:"rssi"`

	// ServiceUUIDs are the service identifiers declared in the advertisement.
	ServiceUUIDs []string `json:"service_uuids,omitempty"`

	// Payload is the raw advertisement payload (base64 in JSON).
	Payload []byte `json:"payload,omitempty"`

	// ScannerID identifies the reporting scanner.
	ScannerID string `json:"scanner_id"`

	// Timestamp is when the scanner observed the advertisement (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the scan message carries the fields Core depends on.
func (m *ScanMessage) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidScan)
	}
	if m.RSSI > 0 {
		return fmt.Errorf("%w: rssi %d is positive", ErrInvalidScan, m.RSSI)
	}
	return nil
}

// Characteristic names carried in state notifications.
const (
	CharacteristicLED    = "led"
	CharacteristicButton = "button"
)

// StateMessage is published by a scanner when a subscribed characteristic
// notifies. The Value field carries the raw GATT bytes; Core owns decoding.
// Topic: blinky/state/{address}
type StateMessage struct {
	// Address is the peripheral hardware address.
	Address string `json:"address"`

	// Characteristic names the source characteristic ("led" or "button").
	Characteristic string `json:"characteristic"`

	// Value is the raw characteristic value (base64 in JSON).
	Value []byte `json:"value"`

	// ScannerID identifies the reporting scanner.
	ScannerID string `json:"scanner_id,omitempty"`

	// Timestamp is when the notification arrived (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is published by Core to request an LED write.
// Topic: blinky/command/{address}
type CommandMessage struct {
	// ID uniquely identifies this command for ack correlation.
	ID string `json:"id"`

	// Address is the target peripheral hardware address.
	Address string `json:"address"`

	// Value is the raw GATT bytes to write (base64 in JSON).
	Value []byte `json:"value"`

	// Source indicates where the command originated ("api").
	Source string `json:"source"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// NewCommandMessage creates an LED write command with a fresh correlation ID.
func NewCommandMessage(address string, value []byte, source string) CommandMessage {
	return CommandMessage{
		ID:        uuid.New().String(),
		Address:   address,
		Value:     value,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the write reached the peripheral.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the write could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the peripheral did not respond in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeWriteFailed       = "WRITE_FAILED"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeTimeout           = "TIMEOUT"
)

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// AckMessage is published by a scanner in response to a command.
// On success Value echoes the bytes read back from the LED characteristic,
// letting Core confirm the state through the same decode path it uses for
// notifications.
// Topic: blinky/ack/{address}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Address is the peripheral hardware address.
	Address string `json:"address"`

	// Status indicates the outcome.
	Status AckStatus `json:"status"`

	// Value is the characteristic value read back after the write
	// (base64 in JSON). Present only when Status is accepted.
	Value []byte `json:"value,omitempty"`

	// Error contains details when Status is failed or timeout.
	Error *AckError `json:"error,omitempty"`

	// ScannerID identifies the acknowledging scanner.
	ScannerID string `json:"scanner_id,omitempty"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of a scanner.
type HealthStatus string

const (
	// HealthHealthy indicates the scanner is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the scanner is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the scanner is not connected (from LWT or
	// staleness detection in Core).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the scanner is starting up.
	HealthStarting HealthStatus = "starting"
)

// HealthMessage is published periodically by each scanner.
// Topic: blinky/health/{scanner_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// ScannerID is the scanner identifier.
	ScannerID string `json:"scanner_id"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Adapter is the HCI adapter in use (e.g. "hci0").
	Adapter string `json:"adapter,omitempty"`

	// UptimeSeconds is how long the scanner has been running.
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`

	// AdvertisementsSeen is the total advertisements observed since start.
	AdvertisementsSeen uint64 `json:"advertisements_seen,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// ViewMessage is the retained discovery view Core publishes whenever the
// filtered view changes.
// Topic: blinky/core/discovery/view
type ViewMessage struct {
	// Devices is the insertion-ordered filtered view.
	Devices []ViewDevice `json:"devices"`

	// Timestamp is when the view was computed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// ViewDevice is one entry of the published discovery view.
type ViewDevice struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	RSSI     int    `json:"rssi"`
	MaxRSSI  int    `json:"max_rssi"`
	LastSeen string `json:"last_seen"`
}

// EventScannerStatus is the event type published when a scanner's
// health status changes, including Core-detected staleness.
const EventScannerStatus = "scanner_status"

// EventMessage is a gateway event Core publishes for consumers that want
// transitions rather than retained snapshots.
// Topic: blinky/core/event/{type}
type EventMessage struct {
	// Type names the event (e.g. "scanner_status").
	Type string `json:"type"`

	// ScannerID identifies the scanner the event concerns.
	ScannerID string `json:"scanner_id,omitempty"`

	// Status is the scanner's new health status.
	Status HealthStatus `json:"status,omitempty"`

	// Reason explains the transition, when known.
	Reason string `json:"reason,omitempty"`

	// Timestamp is when Core emitted the event (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStateMessage is the canonical decoded state Core publishes retained.
// Topic: blinky/core/device/{address}/state
type DeviceStateMessage struct {
	// Address is the peripheral hardware address.
	Address string `json:"address"`

	// Characteristic names the decoded characteristic ("led" or "button").
	Characteristic string `json:"characteristic"`

	// On is the decoded boolean state.
	On bool `json:"on"`

	// Timestamp is when Core decoded the state (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// marshalMessage marshals a message, wrapping the error with context.
func marshalMessage(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling message: %w", err)
	}
	return data, nil
}
