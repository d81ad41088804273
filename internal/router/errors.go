package router

import "errors"

var (
	// ErrDecode is returned for frames or entries that are not valid JSON
	// or carry an invalid base64 payload.
	ErrDecode = errors.New("router: decode failed")

	// ErrEndpointNotFound is returned when a notification path matches no
	// configured endpoint.
	ErrEndpointNotFound = errors.New("router: no endpoint for path")

	// ErrUnknownShape is returned for JSON frames the router cannot dispatch.
	ErrUnknownShape = errors.New("router: unknown frame shape")
)
