package mqtt

import "errors"

// Sentinel errors for broker operations. Lane publishes from the store
// sinks are fire-and-forget, so callers mostly log these; the command
// subscription in the bridge checks them with errors.Is.
var (
	// ErrNotConnected is returned while the broker link is down.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed wraps the cause when Connect gives up.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed wraps publish timeouts and broker rejections.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrPayloadTooLarge is returned for payloads over maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrSubscribeFailed wraps subscribe timeouts and broker rejections.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
