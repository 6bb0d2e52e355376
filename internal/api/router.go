package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication: the caller must already
			// hold an access token to request one.
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Discovery endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/all", s.handleListAllDevices)

				r.Route("/{address}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/events", s.handleButtonEvents)
					r.With(s.requireOperator).Post("/led", s.handleSetLED)
				})
			})

			// Filter switches
			r.Get("/filters", s.handleGetFilters)
			r.With(s.requireOperator).Put("/filters", s.handleSetFilters)

			// Discovery reset
			r.With(s.requireOperator).Post("/scan/reset", s.handleScanReset)

			// System status
			r.Get("/system", s.handleSystem)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
