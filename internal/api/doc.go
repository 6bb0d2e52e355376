// Package api provides the HTTP REST API and WebSocket server for Blinky
// Core.
//
// It exposes the discovery view, filter switches, LED control, and system
// status to dashboards and tooling. Real-time updates flow over a single
// WebSocket endpoint with channel subscriptions; REST covers everything
// request/response shaped.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
