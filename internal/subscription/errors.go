package subscription

import "errors"

var (
	// ErrNotStreaming is returned when a subscription or device request is
	// attempted while the notification channel is not streaming.
	ErrNotStreaming = errors.New("subscription: notification channel not streaming")

	// ErrVendorStatus is returned when the vendor answered with a bare
	// status token (NOT_CONNECTED, QUEUE_IS_FULL, ...) instead of JSON.
	ErrVendorStatus = errors.New("subscription: vendor returned status token")

	// ErrUnknownLane is returned when a command names a lane the device
	// does not have.
	ErrUnknownLane = errors.New("subscription: unknown lane")
)
