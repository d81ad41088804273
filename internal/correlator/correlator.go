package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind is why an async request was issued.
type Kind string

const (
	// KindInitialRead is the value fetch issued right after subscribing.
	KindInitialRead Kind = "initial-read"

	// KindCommand is an explicit command sent on behalf of a consumer.
	KindCommand Kind = "explicit-command"
)

// DefaultHorizon is how long an unanswered request is kept.
const DefaultHorizon = 10 * time.Minute

// PendingRequest is an issued request still waiting for its async response.
type PendingRequest struct {
	ID       string
	DeviceID string
	URI      string
	Lane     string
	Kind     Kind
	IssuedAt time.Time
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Correlator maps async response ids to the request that produced them.
//
// Every id resolves at most once: Resolve removes the entry it returns.
// Entries older than the horizon are dropped by Sweep so requests to
// devices that went offline do not accumulate.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A single mutex guards the
//     map; Register and Resolve hold it only for a map operation.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]PendingRequest

	horizon time.Duration
	now     func() time.Time

	stats Stats

	logger   Logger
	loggerMu sync.RWMutex
}

// Stats counts correlator outcomes.
type Stats struct {
	Registered int64
	Resolved   int64
	Misses     int64
	Duplicates int64
	Expired    int64
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithHorizon sets the eviction horizon. Zero disables eviction.
func WithHorizon(d time.Duration) Option {
	return func(c *Correlator) { c.horizon = d }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// New creates an empty Correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending: make(map[string]PendingRequest),
		horizon: DefaultHorizon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the logger for duplicate and expiry events.
func (c *Correlator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Correlator) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Register records a pending request.
//
// Parameters:
//   - id: Async response id (vendor-assigned or chosen by us for device requests)
//   - deviceID, uri: Where the response value belongs
//   - lane: Output lane for the value; empty leaves it to the router's URI lookup
//   - kind: Why the request was issued
//
// Returns:
//   - error: ErrDuplicateID if id was already pending (the entry is
//     still overwritten), ErrEmptyID if id is empty
func (c *Correlator) Register(id, deviceID, uri, lane string, kind Kind) error {
	if id == "" {
		return ErrEmptyID
	}

	c.mu.Lock()
	_, dup := c.pending[id]
	c.pending[id] = PendingRequest{
		ID:       id,
		DeviceID: deviceID,
		URI:      uri,
		Lane:     lane,
		Kind:     kind,
		IssuedAt: c.now(),
	}
	c.stats.Registered++
	if dup {
		c.stats.Duplicates++
	}
	c.mu.Unlock()

	if dup {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("async id registered twice, overwriting",
				"async_id", id,
				"device_id", deviceID,
				"uri", uri,
			)
		}
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	return nil
}

// Resolve returns and removes the pending request for id. A second
// Resolve of the same id reports false.
func (c *Correlator) Resolve(id string) (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[id]
	if !ok {
		c.stats.Misses++
		return PendingRequest{}, false
	}
	delete(c.pending, id)
	c.stats.Resolved++
	return req, true
}

// Forget removes a pending request without counting it as resolved. Used
// when issuing the device request failed after Register.
func (c *Correlator) Forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Sweep drops entries issued more than the horizon before now and returns
// how many were dropped.
func (c *Correlator) Sweep(now time.Time) int {
	if c.horizon <= 0 {
		return 0
	}
	cutoff := now.Add(-c.horizon)

	c.mu.Lock()
	var expired []PendingRequest
	for id, req := range c.pending {
		if req.IssuedAt.Before(cutoff) {
			expired = append(expired, req)
			delete(c.pending, id)
		}
	}
	c.stats.Expired += int64(len(expired))
	c.mu.Unlock()

	if logger := c.getLogger(); logger != nil {
		for _, req := range expired {
			logger.Debug("async request expired",
				"async_id", req.ID,
				"device_id", req.DeviceID,
				"uri", req.URI,
				"kind", string(req.Kind),
			)
		}
	}
	return len(expired)
}

// Run sweeps every interval until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.horizon <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}

// Len returns the number of pending requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
