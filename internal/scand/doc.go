// Package scand manages the blinky-scand BLE scanner helper process.
//
// blinky-scand owns the BlueZ adapter: it scans for advertisements,
// subscribes to button notifications, and executes LED writes, publishing
// everything raw over MQTT. Core never touches D-Bus directly.
//
// When scanner.managed is enabled in config, this package supervises a
// local scanner: automatic restart with a capped attempt budget, graceful
// shutdown of the whole process group, and a watchdog that combines
// process liveness with MQTT-side health reports. Remote or externally managed
// scanners need nothing from this package; their traffic is consumed by
// the bridge regardless.
package scand
