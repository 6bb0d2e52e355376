package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	blinkybridge "github.com/nerrad567/blinky-core/internal/bridges/blinky"
	"github.com/nerrad567/blinky-core/internal/discovery"
)

// setLEDRequest is the request body for POST /devices/{address}/led.
type setLEDRequest struct {
	On bool `json:"on"`
}

// handleListDevices returns the published discovery view: peripherals
// that pass the currently enabled filter criteria, in first-seen order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	view := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": view,
		"count":   len(view),
	})
}

// handleListAllDevices returns every peripheral the registry has ever
// observed this session, filtered or not.
func (s *Server) handleListAllDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single peripheral by address. The in-memory
// registry is authoritative; the persisted catalogue answers for
// peripherals seen in earlier sessions but not yet this one.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	rec, err := s.registry.Get(address)
	if err == nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if s.catalogue != nil {
		stored, catErr := s.catalogue.GetByAddress(r.Context(), address)
		if catErr == nil {
			writeJSON(w, http.StatusOK, stored)
			return
		}
		if !errors.Is(catErr, discovery.ErrDeviceNotFound) {
			s.logger.Error("catalogue lookup failed", "address", address, "error", catErr)
			writeInternalError(w, "catalogue lookup failed")
			return
		}
	}

	writeNotFound(w, "device not found")
}

// handleButtonEvents returns the newest button press/release events
// recorded for a peripheral. Accepts an optional ?limit= query parameter.
func (s *Server) handleButtonEvents(w http.ResponseWriter, r *http.Request) {
	if s.catalogue == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history is not available")
		return
	}

	address := chi.URLParam(r, "address")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := s.catalogue.RecentButtonEvents(r.Context(), address, limit)
	if err != nil {
		if errors.Is(err, discovery.ErrInvalidAddress) {
			writeBadRequest(w, "address is required")
			return
		}
		s.logger.Error("failed to load button events", "address", address, "error", err)
		writeInternalError(w, "failed to load button events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"events":  events,
		"count":   len(events),
	})
}

// handleSetLED drives a peripheral's LED through the scanner fleet and
// waits for the write acknowledgement.
func (s *Server) handleSetLED(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "LED control is not available")
		return
	}

	address := chi.URLParam(r, "address")

	var req setLEDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	ack, err := s.bridge.SetLED(r.Context(), address, req.On)
	if err != nil {
		switch {
		case errors.Is(err, blinkybridge.ErrCommandTimeout):
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "no acknowledgement from scanner")
		case errors.Is(err, blinkybridge.ErrNotConnected):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device is not connected")
		case errors.Is(err, blinkybridge.ErrCommandFailed):
			writeError(w, http.StatusBadGateway, ErrCodeUnavailable, "scanner reported write failure")
		default:
			s.logger.Error("LED command failed", "address", address, "error", err)
			writeInternalError(w, "LED command failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":    ack.Address,
		"command_id": ack.CommandID,
		"status":     ack.Status,
		"scanner_id": ack.ScannerID,
	})
}
