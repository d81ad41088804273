package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensorbridge/internal/audit"
)

// AuditReader lists device lifecycle entries. *audit.SQLiteRepository
// implements it.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// handleListAudit returns journal entries.
//
// Query parameters:
//   - device_id: filter by device
//   - action: filter by change kind (added, state, reappeared, disappeared)
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	s.listAudit(w, r, r.URL.Query().Get("device_id"))
}

// handleDeviceHistory returns the journal for one device.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	s.listAudit(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request, deviceID string) {
	if s.audit == nil {
		writeUnavailable(w, "audit journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: deviceID,
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
