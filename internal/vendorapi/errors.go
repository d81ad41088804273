package vendorapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for vendor API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNetwork indicates the request never produced an HTTP response.
	ErrNetwork = errors.New("vendorapi: network error")

	// ErrTimeout indicates the request or handshake exceeded its deadline.
	ErrTimeout = errors.New("vendorapi: request timed out")

	// ErrAuth indicates the bearer token was rejected (401/403).
	// It is fatal unless the token is refreshed externally.
	ErrAuth = errors.New("vendorapi: authentication rejected")

	// ErrNotFound indicates a 404. Cleanup deletes treat it as success.
	ErrNotFound = errors.New("vendorapi: resource not found")

	// ErrUnexpectedStatus wraps any other non-2xx response. See StatusError.
	ErrUnexpectedStatus = errors.New("vendorapi: unexpected status")

	// ErrPartialBody indicates a JSON body was still incomplete at EOF.
	ErrPartialBody = errors.New("vendorapi: incomplete response body")

	// ErrBodyTooLarge indicates a body exceeded the buffering limit.
	ErrBodyTooLarge = errors.New("vendorapi: response body too large")

	// ErrDecode indicates a well-formed body did not match the expected shape.
	ErrDecode = errors.New("vendorapi: decode failed")

	// ErrStreamClosed is reported by Stream.Err after Close was called locally.
	ErrStreamClosed = errors.New("vendorapi: stream closed")
)

// StatusError carries the status code and body of a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vendorapi: status %d: %s", e.Code, e.Body)
}

// Unwrap lets errors.Is match ErrUnexpectedStatus.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
