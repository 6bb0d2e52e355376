package api

import (
	"encoding/json"
	"net/http"
)

// setFiltersRequest is the request body for PUT /filters. Pointer fields
// so a caller can toggle one criterion without touching the other.
type setFiltersRequest struct {
	RequireService *bool `json:"require_service,omitempty"`
	RequireNearby  *bool `json:"require_nearby,omitempty"`
}

// handleGetFilters returns the current filter switches and view size.
func (s *Server) handleGetFilters(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"criteria":       stats.Criteria,
		"rssi_threshold": stats.RSSIThreshold,
		"view_size":      stats.ViewSize,
		"known_devices":  stats.KnownDevices,
	})
}

// handleSetFilters updates the filter switches. Each toggle recomputes
// and republishes the view, so WebSocket subscribers see the change
// without polling.
func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var req setFiltersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.RequireService == nil && req.RequireNearby == nil {
		writeBadRequest(w, "at least one of require_service or require_nearby is required")
		return
	}

	nonEmpty := false
	if req.RequireService != nil {
		nonEmpty = s.registry.SetServiceFilterRequired(*req.RequireService)
	}
	if req.RequireNearby != nil {
		nonEmpty = s.registry.SetNearbyFilterRequired(*req.RequireNearby)
	}

	criteria := s.registry.Criteria()
	view := s.registry.Snapshot()
	s.logger.Info("discovery filters updated",
		"require_service", criteria.RequireService,
		"require_nearby", criteria.RequireNearby,
		"view_size", len(view),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"criteria":  criteria,
		"devices":   view,
		"count":     len(view),
		"non_empty": nonEmpty,
	})
}
