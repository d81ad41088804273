package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/subscription"
)

// handleListDevices returns all known devices.
//
// Query parameters:
//   - state: filter by registration state (registered, deregistered, unknown)
//   - stale: "true" or "false" to filter on the stale flag
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	stateFilter := r.URL.Query().Get("state")
	switch device.State(stateFilter) {
	case "", device.StateRegistered, device.StateDeregistered, device.StateUnknown:
	default:
		writeValidationError(w, "state must be registered, deregistered or unknown")
		return
	}
	staleFilter := r.URL.Query().Get("stale")
	if staleFilter != "" && staleFilter != "true" && staleFilter != "false" {
		writeBadRequest(w, "stale must be true or false")
		return
	}

	all := s.devices.List()
	devices := make([]device.Device, 0, len(all))
	for _, d := range all {
		if stateFilter != "" && string(d.State) != stateFilter {
			continue
		}
		if staleFilter != "" && d.Stale != (staleFilter == "true") {
			continue
		}
		devices = append(devices, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleListSubscriptions returns the subscription table, optionally
// filtered by device_id.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.subscriptions == nil {
		writeUnavailable(w, "subscription manager not configured")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	all := s.subscriptions.Subscriptions()
	subs := make([]subscription.Subscription, 0, len(all))
	for _, sub := range all {
		if deviceID != "" && sub.DeviceID != deviceID {
			continue
		}
		subs = append(subs, sub)
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}
