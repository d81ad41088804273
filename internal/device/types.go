package device

import (
	"strings"
	"time"
)

// State is the vendor-reported registration state of a device.
type State string

const (
	StateRegistered   State = "registered"
	StateDeregistered State = "deregistered"
	StateUnknown      State = "unknown"
)

// ParseState maps a vendor state string onto State. Lifecycle states other
// than registered/deregistered (bootstrapped, cloud_enrolling, ...) are
// Unknown.
func ParseState(s string) State {
	switch strings.ToLower(s) {
	case "registered":
		return StateRegistered
	case "deregistered":
		return StateDeregistered
	default:
		return StateUnknown
	}
}

// ResourceEndpoint is one addressable resource of a device and the lane it
// publishes under.
type ResourceEndpoint struct {
	DeviceID string `json:"device_id"`
	URI      string `json:"uri"`
	Name     string `json:"name"`
	Lane     string `json:"lane"`
	Enabled  bool   `json:"enabled"`

	// Method is the device request method for explicit commands (POST/PUT).
	Method string `json:"method,omitempty"`

	Value     string     `json:"value,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Device is a remote device as last reported by the vendor.
type Device struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	State     State              `json:"state"`
	Endpoints []ResourceEndpoint `json:"endpoints"`

	// Stale is set when the device was missing from the latest complete
	// device list. State keeps its last known value.
	Stale bool `json:"stale"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// DeepCopy returns a copy that shares no slices with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Endpoints != nil {
		cpy.Endpoints = make([]ResourceEndpoint, len(d.Endpoints))
		copy(cpy.Endpoints, d.Endpoints)
		for i := range cpy.Endpoints {
			if t := d.Endpoints[i].UpdatedAt; t != nil {
				tc := *t
				cpy.Endpoints[i].UpdatedAt = &tc
			}
		}
	}
	return &cpy
}

// EnabledEndpoints returns the endpoints that should be subscribed.
func (d *Device) EnabledEndpoints() []ResourceEndpoint {
	var out []ResourceEndpoint
	for _, ep := range d.Endpoints {
		if ep.Enabled {
			out = append(out, ep)
		}
	}
	return out
}

// Endpoint returns the endpoint publishing under lane.
func (d *Device) Endpoint(lane string) (ResourceEndpoint, bool) {
	for _, ep := range d.Endpoints {
		if ep.Lane == lane {
			return ep, true
		}
	}
	return ResourceEndpoint{}, false
}

// ChangeKind describes what a refresh observed for a device.
type ChangeKind string

const (
	ChangeAdded       ChangeKind = "added"
	ChangeState       ChangeKind = "state"
	ChangeReappeared  ChangeKind = "reappeared"
	ChangeDisappeared ChangeKind = "disappeared"
)

// Change is one device difference found by a refresh.
type Change struct {
	Kind     ChangeKind
	Device   Device
	Previous State
}
