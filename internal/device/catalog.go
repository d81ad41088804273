package device

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// EndpointTemplate is a configured endpoint not yet bound to a device.
type EndpointTemplate struct {
	Name    string
	Lane    string
	URI     string
	Enabled bool
	Method  string
}

// Validate checks a template.
func (t EndpointTemplate) Validate() error {
	if t.Lane == "" {
		return fmt.Errorf("%w: lane is required", ErrInvalidEndpoint)
	}
	if !strings.HasPrefix(t.URI, "/") {
		return fmt.Errorf("%w: uri %q must start with /", ErrInvalidEndpoint, t.URI)
	}
	return nil
}

func (t EndpointTemplate) bind(deviceID string) ResourceEndpoint {
	name := t.Name
	if name == "" {
		name = t.Lane
	}
	return ResourceEndpoint{
		DeviceID: deviceID,
		URI:      t.URI,
		Name:     name,
		Lane:     t.Lane,
		Enabled:  t.Enabled,
		Method:   t.Method,
	}
}

// Catalog answers which endpoints a device has and which lane a URI maps to.
//
// Devices listed explicitly get their own endpoint list. In fleet mode every
// other device gets the shared templates, optionally narrowed by capability
// discovery. Outside fleet mode unlisted devices have no endpoints.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Catalog struct {
	templates []EndpointTemplate
	perDevice map[string][]EndpointTemplate
	fleetMode bool

	// byURI resolves a notification path across every configured endpoint.
	byURI map[string]EndpointTemplate

	mu         sync.RWMutex
	discovered map[string]map[string]bool // deviceID -> exposed URIs
}

// NewCatalog validates the templates and builds the URI index. For the
// device-independent index the shared templates come first, then device
// lists in device id order; the first entry configured for a URI decides
// its lane.
func NewCatalog(templates []EndpointTemplate, perDevice map[string][]EndpointTemplate, fleetMode bool) (*Catalog, error) {
	c := &Catalog{
		templates:  append([]EndpointTemplate(nil), templates...),
		perDevice:  make(map[string][]EndpointTemplate, len(perDevice)),
		fleetMode:  fleetMode,
		byURI:      make(map[string]EndpointTemplate),
		discovered: make(map[string]map[string]bool),
	}

	if err := c.index("templates", templates); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(perDevice))
	for id := range perDevice {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		list := perDevice[id]
		if err := c.index("device "+id, list); err != nil {
			return nil, err
		}
		c.perDevice[id] = append([]EndpointTemplate(nil), list...)
	}

	return c, nil
}

func (c *Catalog) index(owner string, list []EndpointTemplate) error {
	lanes := make(map[string]bool, len(list))
	for _, t := range list {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%s: %w", owner, err)
		}
		if lanes[t.Lane] {
			return fmt.Errorf("%s: %w: %s", owner, ErrDuplicateLane, t.Lane)
		}
		lanes[t.Lane] = true
		if _, exists := c.byURI[t.URI]; !exists {
			c.byURI[t.URI] = t
		}
	}
	return nil
}

// FleetMode reports whether unlisted devices receive the shared templates.
func (c *Catalog) FleetMode() bool {
	return c.fleetMode
}

// Configured reports whether a device has an explicit endpoint list.
func (c *Catalog) Configured(deviceID string) bool {
	_, ok := c.perDevice[deviceID]
	return ok
}

// EndpointsFor returns the endpoints a device should carry.
func (c *Catalog) EndpointsFor(deviceID string) []ResourceEndpoint {
	if list, ok := c.perDevice[deviceID]; ok {
		return bindAll(deviceID, list)
	}
	if !c.fleetMode {
		return nil
	}

	c.mu.RLock()
	exposed, discovered := c.discovered[deviceID]
	c.mu.RUnlock()

	if !discovered {
		return bindAll(deviceID, c.templates)
	}
	var out []ResourceEndpoint
	for _, t := range c.templates {
		if exposed[t.URI] {
			out = append(out, t.bind(deviceID))
		}
	}
	return out
}

// SetDiscovered narrows a fleet device's templates to the URIs it exposes.
// An empty list is ignored so a failed or empty discovery falls back to
// the full template set.
func (c *Catalog) SetDiscovered(deviceID string, uris []string) {
	if len(uris) == 0 {
		return
	}
	set := make(map[string]bool, len(uris))
	for _, u := range uris {
		set[u] = true
	}
	c.mu.Lock()
	c.discovered[deviceID] = set
	c.mu.Unlock()
}

// LookupPath resolves a resource URI to its configured endpoint, across
// all devices.
func (c *Catalog) LookupPath(uri string) (EndpointTemplate, bool) {
	t, ok := c.byURI[uri]
	return t, ok
}

// LookupEndpoint resolves a resource URI for one device. A device with its
// own endpoint list is answered from that list only; other devices use the
// shared templates, then the device-independent index.
func (c *Catalog) LookupEndpoint(deviceID, uri string) (EndpointTemplate, bool) {
	if list, ok := c.perDevice[deviceID]; ok {
		for _, t := range list {
			if t.URI == uri {
				return t, true
			}
		}
		return EndpointTemplate{}, false
	}
	for _, t := range c.templates {
		if t.URI == uri {
			return t, true
		}
	}
	return c.LookupPath(uri)
}

func bindAll(deviceID string, list []EndpointTemplate) []ResourceEndpoint {
	out := make([]ResourceEndpoint, 0, len(list))
	for _, t := range list {
		out = append(out, t.bind(deviceID))
	}
	return out
}
