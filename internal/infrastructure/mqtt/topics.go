package mqtt

import "fmt"

// Topic prefixes for the Blinky MQTT scheme.
//
// Edge scanners publish under the flat scheme: blinky/{category}/{address_or_id}
// Core publishes canonical state and events under blinky/core.
const (
	// TopicPrefixEdge is the base for all edge scanner topics.
	// Flat scheme: blinky/{category}/{address_or_id}
	TopicPrefixEdge = "blinky"

	// TopicPrefixCore is the base for all core topics.
	TopicPrefixCore = "blinky/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "blinky/system"
)

// Topics provides builders for Blinky MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("aa:bb:cc:dd:ee:ff")
//	// Returns: "blinky/state/aa:bb:cc:dd:ee:ff"
type Topics struct{}

// =============================================================================
// Edge Topics
// =============================================================================

// ScannerScan returns the topic a scanner publishes scan observations on.
//
// Example: blinky/scan/scanner-hallway
func (Topics) ScannerScan(scannerID string) string {
	return fmt.Sprintf("%s/scan/%s", TopicPrefixEdge, scannerID)
}

// DeviceState returns the topic for characteristic state notifications
// (button press/release) from a peripheral.
//
// Example: blinky/state/aa:bb:cc:dd:ee:ff
func (Topics) DeviceState(address string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefixEdge, address)
}

// DeviceCommand returns the topic for LED write commands to a peripheral.
//
// Example: blinky/command/aa:bb:cc:dd:ee:ff
func (Topics) DeviceCommand(address string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefixEdge, address)
}

// DeviceAck returns the topic for LED write acknowledgements from a scanner.
//
// Example: blinky/ack/aa:bb:cc:dd:ee:ff
func (Topics) DeviceAck(address string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefixEdge, address)
}

// ScannerHealth returns the topic for scanner health status.
//
// Example: blinky/health/scanner-hallway
func (Topics) ScannerHealth(scannerID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixEdge, scannerID)
}

// =============================================================================
// Core Topics
// =============================================================================

// CoreDeviceState returns the canonical device state topic.
// This is the authoritative LED/button state published by Core after decoding.
//
// Example: blinky/core/device/aa:bb:cc:dd:ee:ff/state
func (Topics) CoreDeviceState(address string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, address)
}

// CoreDiscoveryView returns the topic for the filtered discovery view.
// Published retained whenever the view changes.
//
// Example: blinky/core/discovery/view
func (Topics) CoreDiscoveryView() string {
	return fmt.Sprintf("%s/discovery/view", TopicPrefixCore)
}

// CoreEvent returns the topic for core events.
//
// Example: blinky/core/event/device_button_changed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: blinky/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllScans returns a pattern matching scan observations from every scanner.
//
// Pattern: blinky/scan/+
func (Topics) AllScans() string {
	return fmt.Sprintf("%s/scan/+", TopicPrefixEdge)
}

// AllDeviceStates returns a pattern matching state notifications from
// every peripheral.
//
// Pattern: blinky/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefixEdge)
}

// AllDeviceAcks returns a pattern matching all write acknowledgements.
//
// Pattern: blinky/ack/+
func (Topics) AllDeviceAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefixEdge)
}

// AllScannerHealth returns a pattern matching all scanner health updates.
//
// Pattern: blinky/health/+
func (Topics) AllScannerHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixEdge)
}

