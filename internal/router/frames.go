package router

import (
	"encoding/base64"
	"fmt"
)

// Top-level frame keys.
const (
	keyNotifications    = "notifications"
	keyAsyncResponses   = "async-responses"
	keyRegistrations    = "registrations"
	keyRegUpdates       = "reg-updates"
	keyDeregistrations  = "de-registrations"
	keyRegistrationsExp = "registrations-expired"
)

var registrationKeys = []string{
	keyRegistrations,
	keyRegUpdates,
	keyDeregistrations,
	keyRegistrationsExp,
}

// Notification is one path-addressed value change.
type Notification struct {
	DeviceID string `json:"ep"`
	Path     string `json:"path"`
	Payload  string `json:"payload"`
	CT       string `json:"ct,omitempty"`
	MaxAge   int    `json:"max-age,omitempty"`
}

// AsyncResponse is the result of an earlier device request or
// subscription, addressed only by its async id.
type AsyncResponse struct {
	ID       string `json:"id"`
	DeviceID string `json:"ep,omitempty"`
	Status   int    `json:"status"`
	Payload  string `json:"payload"`
	Error    string `json:"error,omitempty"`
	CT       string `json:"ct,omitempty"`
}

// decodePayload returns the text of a base64 payload.
func decodePayload(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %w", ErrDecode, err)
	}
	return string(b), nil
}
