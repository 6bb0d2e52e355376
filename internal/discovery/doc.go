// Package discovery maintains the gateway's knowledge of observed BLE
// peripherals and the filtered view published to clients.
//
// Raw scan observations arrive from the MQTT bridge as ScanEvent values.
// The Registry deduplicates them by hardware address into DeviceRecord
// entries, tracking the latest RSSI alongside a high-watermark so the
// "nearby" criterion does not flap on transient signal dips.
//
// Two filter criteria (service marker and nearby) can be toggled at
// runtime; both must pass for a device to appear in the view, and a
// disabled criterion passes everything. The view is an insertion-ordered
// snapshot rebuilt wholesale by Recompute and pushed to subscribers.
//
// The Repository persists the catalogue to SQLite so peripherals survive
// restarts; the registry itself is purely in-memory and authoritative
// for the live view.
package discovery
