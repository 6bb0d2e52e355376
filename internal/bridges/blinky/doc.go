// Package blinky bridges the MQTT edge scheme to the discovery registry
// and the canonical core topics.
//
// Edge scanners publish raw observations under blinky/{scan,state,ack,health}
// and never decode characteristic values; Core owns the single decode path.
// Button notifications and LED write acknowledgments both funnel through
// the same 1-byte codec, so a malformed value is rejected identically no
// matter which direction it travelled.
//
// The bridge folds scans into the discovery registry, triggers a view
// recompute only when an observation is interesting, persists the
// peripheral catalogue, samples telemetry, and republishes decoded state
// retained under blinky/core so late subscribers converge.
//
// LED writes are request/response over fire-and-forget transport: SetLED
// publishes a command with a correlation ID and blocks until the matching
// acknowledgment arrives or the timeout fires.
package blinky
