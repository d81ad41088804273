package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx response.
//
// Code is stable and meant for programmatic checks; Message is for people
// and may change wording between releases.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned in Error.Code.
const (
	// ErrCodeBadRequest covers malformed query parameters.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeValidation is a well-formed parameter with a value outside
	// its allowed set, e.g. an unknown device state filter.
	ErrCodeValidation = "validation_error"

	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"

	// ErrCodeUnavailable means the bridge was started without the
	// component behind the route (no supervisor, subscription manager or
	// audit journal wired in).
	ErrCodeUnavailable = "unavailable"

	ErrCodeInternal = "internal_error"
)

// writeJSON encodes v as the response body.
//
// Parameters:
//   - w: Response writer; headers must not have been written yet
//   - status: HTTP status code
//   - v: Payload, or nil for an empty body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away mid-response
	json.NewEncoder(w).Encode(v)
}

// writeError writes an Error body with the given status and code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized answers a missing, malformed or expired bearer token.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeUnavailable answers a route whose backing component is not running.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError hides the underlying error from the client; callers
// log it first.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
