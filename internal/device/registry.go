package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sensorbridge/internal/vendorapi"
)

// Registry defaults.
const (
	DefaultPageSize        = 100
	DefaultSyncConcurrency = 8

	// maxPages stops a misbehaving pager from looping forever.
	maxPages = 10000
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Lister fetches pages of the vendor device list.
type Lister interface {
	ListDevices(ctx context.Context, limit int, after string) (vendorapi.DevicePage, error)
}

// ResourceLister discovers the resources a device exposes (fleet mode).
type ResourceLister interface {
	ListResources(ctx context.Context, deviceID string) ([]vendorapi.Resource, error)
}

// Syncer reconciles subscriptions for one device.
type Syncer interface {
	SyncDevice(ctx context.Context, d Device) error
}

// CleanupTracker is implemented by syncers that can report a device whose
// last removal failed. Such devices are synced again on every refresh
// until the removal succeeds.
type CleanupTracker interface {
	CleanupPending(deviceID string) bool
}

// Options configures a Registry.
type Options struct {
	PageSize        int
	SyncConcurrency int

	// Repo persists the registry snapshot. Optional.
	Repo Repository

	// Discoverer enables capability discovery for new fleet devices. Optional.
	Discoverer ResourceLister

	// Now replaces time.Now (tests).
	Now func() time.Time
}

// RefreshResult summarises one refresh.
type RefreshResult struct {
	Listed     int
	Changes    []Change
	Synced     int
	SyncFailed int
}

// Stats counts registry activity.
type Stats struct {
	Devices      int
	Registered   int
	Deregistered int
	Stale        int
	Refreshes    int64
	RefreshFails int64
	LastRefresh  time.Time
}

// Registry keeps the set of known devices in step with the vendor device
// list and asks the Syncer to reconcile every device that changed.
//
// Devices are never removed: a device that drops out of a complete list is
// flagged Stale and keeps its last known state.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Refresh calls are serialised.
type Registry struct {
	lister  Lister
	catalog *Catalog
	opts    Options

	syncer   Syncer
	onChange func(Change)
	hookMu   sync.RWMutex

	devices map[string]*Device
	mu      sync.RWMutex

	// queried holds fleet devices that had a discovery attempt in this
	// process. Guarded by refreshMu.
	queried map[string]bool

	refreshMu   sync.Mutex
	refreshCh   chan struct{}
	pendingFull atomic.Bool

	refreshes    atomic.Int64
	refreshFails atomic.Int64
	lastRefresh  atomic.Int64 // unix nanos

	logger Logger
}

// NewRegistry creates a registry over a device lister and endpoint catalog.
func NewRegistry(lister Lister, catalog *Catalog, opts Options) *Registry {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SyncConcurrency <= 0 {
		opts.SyncConcurrency = DefaultSyncConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		lister:    lister,
		catalog:   catalog,
		opts:      opts,
		devices:   make(map[string]*Device),
		queried:   make(map[string]bool),
		refreshCh: make(chan struct{}, 1),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetSyncer sets the component that reconciles subscriptions.
func (r *Registry) SetSyncer(s Syncer) {
	r.hookMu.Lock()
	r.syncer = s
	r.hookMu.Unlock()
}

// SetOnChange sets a callback invoked once per change after each refresh.
func (r *Registry) SetOnChange(fn func(Change)) {
	r.hookMu.Lock()
	r.onChange = fn
	r.hookMu.Unlock()
}

// Load seeds the registry from the persisted snapshot. Loaded devices are
// marked Stale until a refresh confirms them. Discovered capabilities are
// not persisted; fleet devices are queried again on the first refresh that
// lists them.
func (r *Registry) Load(ctx context.Context) error {
	if r.opts.Repo == nil {
		return nil
	}
	snapshot, err := r.opts.Repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading registry snapshot: %w", err)
	}

	r.mu.Lock()
	for i := range snapshot {
		d := snapshot[i]
		d.Stale = true
		d.Endpoints = r.catalog.EndpointsFor(d.ID)
		r.devices[d.ID] = &d
	}
	r.mu.Unlock()

	r.logger.Info("registry snapshot loaded", "count", len(snapshot))
	return nil
}

// RequestRefresh asks Run to refresh soon. Requests made while one is
// already queued are merged; a full request upgrades a queued diff one.
// It never blocks.
func (r *Registry) RequestRefresh(full bool) {
	if full {
		r.pendingFull.Store(true)
	}
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
}

// Run serves RequestRefresh until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.refreshCh:
			full := r.pendingFull.Swap(false)
			if _, err := r.Refresh(ctx, full); err != nil && ctx.Err() == nil {
				r.logger.Warn("registry refresh failed", "full", full, "error", err)
			}
		}
	}
}

// Refresh fetches the full device list, applies it, and syncs devices.
//
// A diff refresh syncs only devices whose state changed (including new
// devices and devices that reappeared). A full refresh also re-syncs every
// registered device; it runs whenever the notification channel has just
// been (re)established, since vendor-side subscriptions may be gone.
//
// Returns:
//   - RefreshResult: What changed and how many syncs ran
//   - error: If the list could not be fetched completely (nothing is
//     applied), or joined per-device sync errors
func (r *Registry) Refresh(ctx context.Context, full bool) (RefreshResult, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.refreshes.Add(1)

	entries, err := r.fetchAll(ctx)
	if err != nil {
		r.refreshFails.Add(1)
		return RefreshResult{}, err
	}

	discovered := r.discover(ctx, entries)

	changes, toSync := r.apply(entries, discovered, full)
	r.lastRefresh.Store(r.opts.Now().UnixNano())

	r.persist(ctx)

	r.hookMu.RLock()
	onChange := r.onChange
	syncer := r.syncer
	r.hookMu.RUnlock()

	if onChange != nil {
		for _, ch := range changes {
			onChange(ch)
		}
	}

	if tracker, ok := syncer.(CleanupTracker); ok {
		toSync = r.withPendingCleanups(tracker, toSync)
	}

	result := RefreshResult{Listed: len(entries), Changes: changes}
	r.logger.Info("registry refreshed",
		"full", full,
		"listed", len(entries),
		"changes", len(changes),
		"to_sync", len(toSync),
	)

	if syncer == nil || len(toSync) == 0 {
		return result, nil
	}

	syncErr := r.syncAll(ctx, syncer, toSync, &result)
	return result, syncErr
}

// fetchAll walks every page of the device list.
func (r *Registry) fetchAll(ctx context.Context) ([]vendorapi.DeviceEntry, error) {
	var (
		all   []vendorapi.DeviceEntry
		after string
	)
	for page := 0; page < maxPages; page++ {
		p, err := r.lister.ListDevices(ctx, r.opts.PageSize, after)
		if err != nil {
			return nil, fmt.Errorf("fetching device list page %d: %w", page, err)
		}
		all = append(all, p.Data...)

		if !p.HasMore {
			return all, nil
		}
		next := p.After
		if len(p.Data) > 0 {
			next = p.Data[len(p.Data)-1].ID
		}
		if next == "" || next == after {
			return nil, fmt.Errorf("%w: pager stuck after %q", ErrListIncomplete, after)
		}
		after = next
	}
	return nil, fmt.Errorf("%w: more than %d pages", ErrListIncomplete, maxPages)
}

// discover narrows fleet templates for devices not yet queried by this
// process, including devices restored from the snapshot. It returns the
// ids whose endpoint set was narrowed.
func (r *Registry) discover(ctx context.Context, entries []vendorapi.DeviceEntry) map[string]bool {
	if r.opts.Discoverer == nil || !r.catalog.FleetMode() {
		return nil
	}

	narrowed := make(map[string]bool)
	for _, e := range entries {
		if e.ID == "" || r.queried[e.ID] || r.catalog.Configured(e.ID) {
			continue
		}
		r.queried[e.ID] = true

		resources, err := r.opts.Discoverer.ListResources(ctx, e.ID)
		if err != nil {
			r.logger.Warn("capability discovery failed, using all templates", "device_id", e.ID, "error", err)
			continue
		}
		uris := make([]string, 0, len(resources))
		for _, res := range resources {
			uris = append(uris, res.URI)
		}
		if len(uris) > 0 {
			r.catalog.SetDiscovered(e.ID, uris)
			narrowed[e.ID] = true
		}
	}
	return narrowed
}

// apply merges a complete device list into the registry and returns the
// changes plus the devices to sync, in id order. Known devices listed in
// rebind take their endpoints from the catalog again.
func (r *Registry) apply(entries []vendorapi.DeviceEntry, rebind map[string]bool, full bool) ([]Change, []Device) {
	now := r.opts.Now()
	seen := make(map[string]bool, len(entries))

	var (
		changes []Change
		toSync  []Device
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		state := ParseState(e.State)

		d, known := r.devices[e.ID]
		var change *Change
		switch {
		case !known:
			d = &Device{
				ID:        e.ID,
				Name:      deviceName(e),
				State:     state,
				Endpoints: r.catalog.EndpointsFor(e.ID),
				FirstSeen: now,
			}
			r.devices[e.ID] = d
			change = &Change{Kind: ChangeAdded, Previous: StateUnknown}
		case d.State != state:
			change = &Change{Kind: ChangeState, Previous: d.State}
			d.State = state
		case d.Stale:
			change = &Change{Kind: ChangeReappeared, Previous: d.State}
		}
		if known && rebind[e.ID] {
			d.Endpoints = carryValues(r.catalog.EndpointsFor(e.ID), d.Endpoints)
		}

		d.Stale = false
		d.LastSeen = now
		if n := deviceName(e); n != "" {
			d.Name = n
		}

		if change != nil {
			change.Device = *d.DeepCopy()
			changes = append(changes, *change)
		}
		if change != nil || (full && d.State == StateRegistered) {
			toSync = append(toSync, *d.DeepCopy())
		}
	}

	for id, d := range r.devices {
		if seen[id] || d.Stale {
			continue
		}
		d.Stale = true
		changes = append(changes, Change{Kind: ChangeDisappeared, Device: *d.DeepCopy(), Previous: d.State})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Device.ID < changes[j].Device.ID })
	sort.Slice(toSync, func(i, j int) bool { return toSync[i].ID < toSync[j].ID })
	return changes, toSync
}

// withPendingCleanups appends unregistered devices whose subscription
// removal is still owed, keeping id order.
func (r *Registry) withPendingCleanups(tracker CleanupTracker, toSync []Device) []Device {
	queued := make(map[string]bool, len(toSync))
	for _, d := range toSync {
		queued[d.ID] = true
	}

	r.mu.RLock()
	added := false
	for id, d := range r.devices {
		if queued[id] || d.State == StateRegistered || !tracker.CleanupPending(id) {
			continue
		}
		toSync = append(toSync, *d.DeepCopy())
		added = true
	}
	r.mu.RUnlock()

	if added {
		sort.Slice(toSync, func(i, j int) bool { return toSync[i].ID < toSync[j].ID })
	}
	return toSync
}

// carryValues copies the last recorded value of each lane from old into
// the freshly bound endpoints.
func carryValues(fresh, old []ResourceEndpoint) []ResourceEndpoint {
	for i := range fresh {
		for _, o := range old {
			if o.Lane == fresh[i].Lane {
				fresh[i].Value = o.Value
				fresh[i].UpdatedAt = o.UpdatedAt
				break
			}
		}
	}
	return fresh
}

func deviceName(e vendorapi.DeviceEntry) string {
	if e.Name != "" {
		return e.Name
	}
	return e.EndpointName
}

func (r *Registry) syncAll(ctx context.Context, syncer Syncer, devices []Device, result *RefreshResult) error {
	var (
		g      errgroup.Group
		errsMu sync.Mutex
		errs   []error
	)
	g.SetLimit(r.opts.SyncConcurrency)

	for _, d := range devices {
		d := d
		g.Go(func() error {
			if err := syncer.SyncDevice(ctx, d); err != nil {
				r.logger.Warn("device sync failed", "device_id", d.ID, "state", string(d.State), "error", err)
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("device %s: %w", d.ID, err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines report through errs

	result.Synced = len(devices) - len(errs)
	result.SyncFailed = len(errs)
	return errors.Join(errs...)
}

func (r *Registry) persist(ctx context.Context) {
	if r.opts.Repo == nil {
		return
	}
	if err := r.opts.Repo.Save(ctx, r.List()); err != nil {
		r.logger.Error("saving registry snapshot failed", "error", err)
	}
}

// Get returns a copy of a device.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return *d.DeepCopy(), nil
}

// List returns copies of all devices ordered by id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Registered returns copies of every non-stale registered device.
func (r *Registry) Registered() []Device {
	var out []Device
	for _, d := range r.List() {
		if d.State == StateRegistered && !d.Stale {
			out = append(out, d)
		}
	}
	return out
}

// RecordValue stores the latest value of a device lane. Unknown devices
// and lanes are ignored.
func (r *Registry) RecordValue(deviceID, lane, value string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	for i := range d.Endpoints {
		if d.Endpoints[i].Lane == lane {
			t := at
			d.Endpoints[i].Value = value
			d.Endpoints[i].UpdatedAt = &t
			return
		}
	}
}

// GetStats returns registry counters.
func (r *Registry) GetStats() Stats {
	s := Stats{
		Refreshes:    r.refreshes.Load(),
		RefreshFails: r.refreshFails.Load(),
	}
	if ns := r.lastRefresh.Load(); ns != 0 {
		s.LastRefresh = time.Unix(0, ns)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s.Devices = len(r.devices)
	for _, d := range r.devices {
		switch d.State {
		case StateRegistered:
			s.Registered++
		case StateDeregistered:
			s.Deregistered++
		}
		if d.Stale {
			s.Stale++
		}
	}
	return s
}
