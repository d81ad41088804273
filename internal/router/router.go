package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/nerrad567/sensorbridge/internal/correlator"
	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/store"
	"github.com/nerrad567/sensorbridge/internal/vendorapi"
)

// Resolver consumes pending async requests. *correlator.Correlator
// implements it.
type Resolver interface {
	Resolve(id string) (correlator.PendingRequest, bool)
}

// PathLookup maps a device's resource URI to its configured endpoint.
// *device.Catalog implements it.
type PathLookup interface {
	LookupEndpoint(deviceID, uri string) (device.EndpointTemplate, bool)
}

// Refresher schedules a device registry refresh. *device.Registry
// implements it.
type Refresher interface {
	RequestRefresh(full bool)
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Stats counts frames and entries seen by the router.
type Stats struct {
	Frames            int64 `json:"frames"`
	Sentinels         int64 `json:"sentinels"`
	DecodeErrors      int64 `json:"decode_errors"`
	Forwarded         int64 `json:"forwarded"`
	EndpointMisses    int64 `json:"endpoint_misses"`
	CorrelationMisses int64 `json:"correlation_misses"`
	FailedResponses   int64 `json:"failed_responses"`
	Refreshes         int64 `json:"refreshes"`
}

type counters struct {
	frames, sentinels, decodeErrors, forwarded          atomic.Int64
	endpointMisses, correlationMisses, failed, refreshes atomic.Int64
}

// Router decodes notification stream frames and forwards values to the
// store.
//
// Frames are handled independently; nothing is carried from one frame to
// the next. No frame or entry error ever escapes HandleFrame.
//
// Thread Safety:
//   - HandleFrame is safe for concurrent use, but the supervisor calls it
//     from a single goroutine so frames are handled in arrival order.
type Router struct {
	paths     PathLookup
	resolver  Resolver
	refresher Refresher
	sink      store.Sink

	c      counters
	logger Logger
}

// New creates a Router.
func New(paths PathLookup, resolver Resolver, refresher Refresher, sink store.Sink) *Router {
	return &Router{
		paths:     paths,
		resolver:  resolver,
		refresher: refresher,
		sink:      sink,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// HandleFrame processes one raw frame.
//
// Sentinel frames are dropped. JSON frames are dispatched by their keys:
//  1. "notifications": path-addressed values, resolved by device and URI
//  2. registration keys: one registry refresh per frame, no store writes
//  3. otherwise the single top-level key holds async responses, resolved
//     by id through the correlator
func (r *Router) HandleFrame(frame []byte) {
	r.c.frames.Add(1)

	body := vendorapi.Classify(frame)
	switch body.Kind {
	case vendorapi.KindEmpty:
		return
	case vendorapi.KindSentinel:
		r.c.sentinels.Add(1)
		r.logger.Debug("sentinel frame dropped", "sentinel", string(body.Sentinel))
		return
	case vendorapi.KindJSON:
	default:
		r.c.decodeErrors.Add(1)
		r.logger.Warn("undecodable frame dropped", "kind", body.Kind.String(), "size", len(body.Raw))
		return
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body.Raw, &top); err != nil {
		r.c.decodeErrors.Add(1)
		r.logger.Warn("undecodable frame dropped", "error", err)
		return
	}

	handled := false
	if raw, ok := top[keyNotifications]; ok {
		r.handleNotifications(raw)
		handled = true
	}
	if hasRegistrationKey(top) {
		r.c.refreshes.Add(1)
		r.refresher.RequestRefresh(false)
		handled = true
	}
	if handled {
		return
	}

	raw, err := asyncPayload(top)
	if err != nil {
		r.c.decodeErrors.Add(1)
		r.logger.Warn("frame dropped", "error", err)
		return
	}
	r.handleAsyncResponses(raw)
}

func hasRegistrationKey(top map[string]json.RawMessage) bool {
	for _, k := range registrationKeys {
		if _, ok := top[k]; ok {
			return true
		}
	}
	return false
}

// asyncPayload picks the async response list out of a frame: the
// async-responses key when present, else the only key.
func asyncPayload(top map[string]json.RawMessage) (json.RawMessage, error) {
	if raw, ok := top[keyAsyncResponses]; ok {
		return raw, nil
	}
	if len(top) != 1 {
		keys := make([]string, 0, len(top))
		for k := range top {
			keys = append(keys, k)
		}
		return nil, fmt.Errorf("%w: keys %v", ErrUnknownShape, keys)
	}
	for _, raw := range top {
		return raw, nil
	}
	return nil, ErrUnknownShape
}

func (r *Router) handleNotifications(raw json.RawMessage) {
	var entries []Notification
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.c.decodeErrors.Add(1)
		r.logger.Warn("notification list undecodable", "error", err)
		return
	}

	for _, n := range entries {
		if n.Path == "" {
			continue
		}
		if err := r.forwardNotification(n); err != nil {
			r.logger.Warn("notification dropped",
				"device_id", n.DeviceID,
				"path", n.Path,
				"error", err,
			)
		}
	}
}

func (r *Router) forwardNotification(n Notification) error {
	ep, ok := r.paths.LookupEndpoint(n.DeviceID, n.Path)
	if !ok {
		r.c.endpointMisses.Add(1)
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, n.Path)
	}
	value, err := decodePayload(n.Payload)
	if err != nil {
		r.c.decodeErrors.Add(1)
		return err
	}
	r.sink.SetLatest(n.DeviceID, ep.Lane, value)
	r.c.forwarded.Add(1)
	return nil
}

func (r *Router) handleAsyncResponses(raw json.RawMessage) {
	var entries []AsyncResponse
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.c.decodeErrors.Add(1)
		r.logger.Warn("async response list undecodable", "error", err)
		return
	}

	for _, a := range entries {
		if err := r.forwardAsync(a); err != nil {
			r.logger.Warn("async response dropped", "async_id", a.ID, "error", err)
		}
	}
}

func (r *Router) forwardAsync(a AsyncResponse) error {
	req, ok := r.resolver.Resolve(a.ID)
	if !ok {
		r.c.correlationMisses.Add(1)
		r.logger.Debug("async response for unknown id dropped", "async_id", a.ID)
		return nil
	}

	if a.Status != 0 && (a.Status < http.StatusOK || a.Status >= http.StatusMultipleChoices) {
		r.c.failed.Add(1)
		return fmt.Errorf("device answered %d %s for %s %s", a.Status, a.Error, req.DeviceID, req.URI)
	}
	if a.Payload == "" {
		r.logger.Debug("async response without payload",
			"async_id", a.ID,
			"device_id", req.DeviceID,
			"kind", string(req.Kind),
		)
		return nil
	}

	deviceID := a.DeviceID
	if deviceID == "" {
		deviceID = req.DeviceID
	}

	// The lane recorded at issue time is the endpoint the request targeted.
	lane := req.Lane
	if lane == "" {
		ep, ok := r.paths.LookupEndpoint(req.DeviceID, req.URI)
		if !ok {
			r.c.endpointMisses.Add(1)
			return fmt.Errorf("%w: %s", ErrEndpointNotFound, req.URI)
		}
		lane = ep.Lane
	}
	value, err := decodePayload(a.Payload)
	if err != nil {
		r.c.decodeErrors.Add(1)
		return err
	}

	r.sink.SetLatest(deviceID, lane, value)
	r.c.forwarded.Add(1)
	return nil
}

// GetStats returns router counters.
func (r *Router) GetStats() Stats {
	return Stats{
		Frames:            r.c.frames.Load(),
		Sentinels:         r.c.sentinels.Load(),
		DecodeErrors:      r.c.decodeErrors.Load(),
		Forwarded:         r.c.forwarded.Load(),
		EndpointMisses:    r.c.endpointMisses.Load(),
		CorrelationMisses: r.c.correlationMisses.Load(),
		FailedResponses:   r.c.failed.Load(),
		Refreshes:         r.c.refreshes.Load(),
	}
}
