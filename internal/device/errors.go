package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not known.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidEndpoint is returned when an endpoint template is malformed.
	ErrInvalidEndpoint = errors.New("device: invalid endpoint")

	// ErrDuplicateLane is returned when two endpoints of one device share a lane.
	ErrDuplicateLane = errors.New("device: duplicate lane")

	// ErrListIncomplete is returned when pagination stopped before the last page.
	ErrListIncomplete = errors.New("device: device list incomplete")
)
