package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensorbridge/internal/correlator"
	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/store"
	"github.com/nerrad567/sensorbridge/internal/vendorapi"
)

// Vendor is the part of the vendor API the manager drives.
// *vendorapi.Client implements it.
type Vendor interface {
	Subscribe(ctx context.Context, deviceID, uri string) (vendorapi.Body, error)
	Unsubscribe(ctx context.Context, deviceID, uri string) error
	UnsubscribeDevice(ctx context.Context, deviceID string) error
	SendDeviceRequest(ctx context.Context, deviceID, asyncID string, dr vendorapi.DeviceRequest) (vendorapi.Body, error)
}

// Tracker records issued async requests. *correlator.Correlator implements it.
type Tracker interface {
	Register(id, deviceID, uri, lane string, kind correlator.Kind) error
	Forget(id string)
}

// Gate reports whether the notification channel is streaming.
type Gate interface {
	Streaming() bool
}

// DeviceSource looks up a device by id. *device.Registry implements it.
type DeviceSource interface {
	Get(id string) (device.Device, error)
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Subscription is one active resource subscription on the vendor side.
type Subscription struct {
	DeviceID    string    `json:"device_id"`
	URI         string    `json:"uri"`
	Lane        string    `json:"lane"`
	CreatedAt   time.Time `json:"created_at"`
	Outstanding bool      `json:"outstanding"`
}

type subKey struct {
	deviceID string
	uri      string
}

// Options configures a Manager.
type Options struct {
	Gate    Gate
	Devices DeviceSource

	// NewID returns a fresh async id for client-chosen device requests.
	// Default uuid.NewString.
	NewID func() string

	// Now replaces time.Now (tests).
	Now func() time.Time
}

// Stats counts manager activity.
type Stats struct {
	Active          int   `json:"active"`
	Subscribed      int64 `json:"subscribed"`
	EndpointsFailed int64 `json:"endpoints_failed"`
	DevicesRemoved  int64 `json:"devices_removed"`
	InitialReads    int64 `json:"initial_reads"`
	Commands        int64 `json:"commands"`
}

// Manager keeps vendor-side resource subscriptions in step with device
// state.
//
// Every resubscription deletes the previous subscription for the URI
// first, so each enabled endpoint of a registered device has at most one
// subscription at any time.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Syncs of the same device are serialised; different devices sync in
//     parallel.
type Manager struct {
	vendor  Vendor
	tracker Tracker
	sink    store.Sink
	opts    Options

	devMu    sync.Mutex
	devLocks map[string]*sync.Mutex

	mu    sync.RWMutex
	subs  map[subKey]Subscription
	stats Stats

	// cleanup holds devices whose vendor-side subscriptions could not be
	// deleted. Guarded by mu.
	cleanup map[string]bool

	logger Logger
}

var _ device.CleanupTracker = (*Manager)(nil)

// NewManager creates a subscription manager.
func NewManager(vendor Vendor, tracker Tracker, sink store.Sink, opts Options) *Manager {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		vendor:   vendor,
		tracker:  tracker,
		sink:     sink,
		opts:     opts,
		devLocks: make(map[string]*sync.Mutex),
		subs:     make(map[subKey]Subscription),
		cleanup:  make(map[string]bool),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetDevices sets the device lookup used by SendCommand. The registry is
// built after the manager, so it is wired here.
func (m *Manager) SetDevices(d DeviceSource) {
	m.mu.Lock()
	m.opts.Devices = d
	m.mu.Unlock()
}

func (m *Manager) deviceLock(id string) *sync.Mutex {
	m.devMu.Lock()
	defer m.devMu.Unlock()
	l, ok := m.devLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.devLocks[id] = l
	}
	return l
}

func (m *Manager) streaming() bool {
	return m.opts.Gate == nil || m.opts.Gate.Streaming()
}

// SyncDevice reconciles the subscriptions of one device.
//
// A device that is not registered has all its subscriptions deleted. A
// registered device gets every enabled endpoint resubscribed, and each
// subscription that returns an async id triggers an initial read.
//
// Returns:
//   - error: ErrNotStreaming, the cleanup error, or the joined
//     per-endpoint failures. One failed endpoint never stops the others.
func (m *Manager) SyncDevice(ctx context.Context, d device.Device) error {
	lock := m.deviceLock(d.ID)
	lock.Lock()
	defer lock.Unlock()

	if d.State != device.StateRegistered {
		return m.removeDevice(ctx, d.ID)
	}
	if !m.streaming() {
		return ErrNotStreaming
	}

	// Resubscribing replaces each endpoint's old subscription.
	m.mu.Lock()
	delete(m.cleanup, d.ID)
	m.mu.Unlock()

	var errs []error
	for _, ep := range d.EnabledEndpoints() {
		if err := m.subscribeEndpoint(ctx, d.ID, ep); err != nil {
			m.mu.Lock()
			m.stats.EndpointsFailed++
			m.mu.Unlock()
			m.logger.Warn("endpoint subscription failed",
				"device_id", d.ID,
				"uri", ep.URI,
				"lane", ep.Lane,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", ep.URI, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) removeDevice(ctx context.Context, deviceID string) error {
	err := m.vendor.UnsubscribeDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, vendorapi.ErrNotFound) {
		m.mu.Lock()
		m.cleanup[deviceID] = true
		m.mu.Unlock()
		return fmt.Errorf("removing subscriptions of %s: %w", deviceID, err)
	}

	m.mu.Lock()
	for k := range m.subs {
		if k.deviceID == deviceID {
			delete(m.subs, k)
		}
	}
	delete(m.cleanup, deviceID)
	m.stats.DevicesRemoved++
	m.mu.Unlock()

	m.logger.Debug("device subscriptions removed", "device_id", deviceID)
	return nil
}

// CleanupPending reports whether a device's subscriptions still have to be
// deleted vendor-side after a failed removal. The registry re-syncs such
// devices on its next refresh.
func (m *Manager) CleanupPending(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cleanup[deviceID]
}

func (m *Manager) subscribeEndpoint(ctx context.Context, deviceID string, ep device.ResourceEndpoint) error {
	key := subKey{deviceID: deviceID, uri: ep.URI}

	if err := m.vendor.Unsubscribe(ctx, deviceID, ep.URI); err != nil && !errors.Is(err, vendorapi.ErrNotFound) {
		return fmt.Errorf("deleting previous subscription: %w", err)
	}
	m.mu.Lock()
	delete(m.subs, key)
	m.mu.Unlock()

	body, err := m.vendor.Subscribe(ctx, deviceID, ep.URI)
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	switch body.Kind {
	case vendorapi.KindSentinel, vendorapi.KindText:
		return fmt.Errorf("%w: %s", ErrVendorStatus, body.Raw)
	}

	m.mu.Lock()
	m.subs[key] = Subscription{
		DeviceID:    deviceID,
		URI:         ep.URI,
		Lane:        ep.Lane,
		CreatedAt:   m.opts.Now(),
		Outstanding: true,
	}
	m.stats.Subscribed++
	m.mu.Unlock()

	if body.Kind != vendorapi.KindJSON {
		return nil
	}
	var resp vendorapi.AsyncIDResponse
	if err := body.Decode(&resp); err != nil || resp.AsyncResponseID == "" {
		return nil
	}
	return m.initialRead(ctx, deviceID, ep, resp.AsyncResponseID)
}

// initialRead asks the device for the current value under the async id the
// subscription returned, so the value arrives on the stream.
func (m *Manager) initialRead(ctx context.Context, deviceID string, ep device.ResourceEndpoint, asyncID string) error {
	if err := m.tracker.Register(asyncID, deviceID, ep.URI, ep.Lane, correlator.KindInitialRead); err != nil && !errors.Is(err, correlator.ErrDuplicateID) {
		return fmt.Errorf("registering initial read: %w", err)
	}
	m.sink.SetAsyncID(deviceID, ep.Lane, asyncID)

	body, err := m.vendor.SendDeviceRequest(ctx, deviceID, asyncID, vendorapi.NewDeviceRequest(http.MethodGet, ep.URI, ""))
	if err != nil {
		return fmt.Errorf("initial read: %w", err)
	}
	if body.Kind == vendorapi.KindSentinel || body.Kind == vendorapi.KindText {
		return fmt.Errorf("initial read: %w: %s", ErrVendorStatus, body.Raw)
	}

	m.mu.Lock()
	m.stats.InitialReads++
	m.mu.Unlock()
	return nil
}

// ReadEndpoint issues a GET device request under a fresh async id. The
// value arrives on the stream.
func (m *Manager) ReadEndpoint(ctx context.Context, deviceID string, ep device.ResourceEndpoint) (string, error) {
	return m.request(ctx, deviceID, ep, http.MethodGet, "", correlator.KindInitialRead)
}

// SendCommand sends an explicit command to a device lane.
//
// Parameters:
//   - deviceID, lane: Target device and lane
//   - method: Device request method; empty uses the endpoint's configured
//     method, else POST
//   - value: Optional payload, sent base64-encoded
//
// Returns:
//   - string: The async id the result will arrive under
//   - error: ErrNotStreaming, device.ErrDeviceNotFound, ErrUnknownLane,
//     ErrVendorStatus or a transport error
func (m *Manager) SendCommand(ctx context.Context, deviceID, lane, method, value string) (string, error) {
	m.mu.RLock()
	devices := m.opts.Devices
	m.mu.RUnlock()
	if devices == nil {
		return "", fmt.Errorf("%w: %s", device.ErrDeviceNotFound, deviceID)
	}

	d, err := devices.Get(deviceID)
	if err != nil {
		return "", err
	}
	ep, ok := d.Endpoint(lane)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownLane, deviceID, lane)
	}
	if method == "" {
		method = ep.Method
	}
	if method == "" {
		method = http.MethodPost
	}

	id, err := m.request(ctx, deviceID, ep, method, value, correlator.KindCommand)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.stats.Commands++
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) request(ctx context.Context, deviceID string, ep device.ResourceEndpoint, method, value string, kind correlator.Kind) (string, error) {
	if !m.streaming() {
		return "", ErrNotStreaming
	}

	id := m.opts.NewID()
	if err := m.tracker.Register(id, deviceID, ep.URI, ep.Lane, kind); err != nil {
		return "", fmt.Errorf("registering request: %w", err)
	}

	body, err := m.vendor.SendDeviceRequest(ctx, deviceID, id, vendorapi.NewDeviceRequest(method, ep.URI, value))
	if err != nil {
		m.tracker.Forget(id)
		return "", fmt.Errorf("device request %s %s: %w", method, ep.URI, err)
	}
	if body.Kind == vendorapi.KindSentinel || body.Kind == vendorapi.KindText {
		m.tracker.Forget(id)
		return "", fmt.Errorf("device request %s %s: %w: %s", method, ep.URI, ErrVendorStatus, body.Raw)
	}

	m.sink.SetAsyncID(deviceID, ep.Lane, id)
	m.logger.Debug("device request sent",
		"device_id", deviceID,
		"uri", ep.URI,
		"method", method,
		"async_id", id,
		"kind", string(kind),
	)
	return id, nil
}

// Subscriptions returns the active subscriptions ordered by device and URI.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.RLock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].URI < out[j].URI
	})
	return out
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// GetStats returns manager counters.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.Active = len(m.subs)
	return s
}
