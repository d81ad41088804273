// Package vendorapi is the transport client for the vendor device-management
// API.
//
// It covers the two channels the bridge uses:
//
//   - REST calls (Request and the typed helpers in api.go) carrying the
//     bearer token. Calls are independent and may run concurrently.
//   - The websocket notification stream (OpenStream), read by a single
//     goroutine and delivered in order on Stream.Frames.
//
// # Response bodies
//
// The vendor answers some calls with a bare status token such as
// NOT_CONNECTED instead of JSON, and occasionally splits a JSON body across
// transfer chunks. Every body therefore goes through an Accumulator which
// yields a tagged Body: KindJSON once a complete object is buffered,
// KindSentinel for a known token, KindPartial while an object is still
// incomplete, KindText for anything else.
//
// # Errors
//
// Failures map onto ErrNetwork, ErrTimeout, ErrAuth, ErrNotFound and
// *StatusError (which matches ErrUnexpectedStatus) so callers can decide
// between skipping an item, reconnecting, or giving up.
package vendorapi
