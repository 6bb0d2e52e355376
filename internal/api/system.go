package api

import (
	"net/http"
	"time"
)

// handleSystem returns a status overview of the whole gateway: version,
// uptime, discovery stats, bridge counters, scanner fleet health, and
// database liveness.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":   s.version,
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"discovery": s.registry.Stats(),
	}

	if s.bridge != nil {
		status["bridge"] = s.bridge.GetMetrics()
		status["scanners"] = s.bridge.ScannerHealth()
	}

	if s.database != nil {
		dbStatus := "ok"
		if err := s.database.HealthCheck(r.Context()); err != nil {
			dbStatus = "error: " + err.Error()
		}
		status["database"] = dbStatus
	}

	writeJSON(w, http.StatusOK, status)
}

// handleScanReset wipes the in-memory registry and the persisted
// catalogue. Every known peripheral and its RSSI high-watermark is
// forgotten; discovery starts over from the next scan report.
func (s *Server) handleScanReset(w http.ResponseWriter, r *http.Request) {
	s.registry.Reset()

	if s.catalogue != nil {
		if err := s.catalogue.Clear(r.Context()); err != nil {
			s.logger.Error("failed to clear peripheral catalogue", "error", err)
			writeInternalError(w, "registry reset but catalogue clear failed")
			return
		}
	}

	claims := claimsFromContext(r.Context())
	username := ""
	if claims != nil {
		username = claims.Subject
	}
	s.logger.Info("discovery state reset", "username", username)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reset",
	})
}
