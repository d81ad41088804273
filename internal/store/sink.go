package store

import (
	"sync"
	"time"
)

// EndpointInfo describes a device lane for downstream consumers.
type EndpointInfo struct {
	Name    string `json:"name"`
	URI     string `json:"uri"`
	Enabled bool   `json:"enabled"`
	Method  string `json:"method,omitempty"`
}

// DeviceInfo describes a device the first time it is seen registered.
type DeviceInfo struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	State string   `json:"state"`
	Lanes []string `json:"lanes"`
}

// Sink is the output store. Calls are fire-and-forget: implementations
// log their own failures and never block the caller for long.
type Sink interface {
	SetLatest(deviceID, lane, value string)
	SetInfo(deviceID, lane string, info EndpointInfo)
	SetAsyncID(deviceID, lane, id string)
	CreateDevice(info DeviceInfo)
}

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Fanout forwards every call to each of its sinks in order.
type Fanout []Sink

// SetLatest implements Sink.
func (f Fanout) SetLatest(deviceID, lane, value string) {
	for _, s := range f {
		s.SetLatest(deviceID, lane, value)
	}
}

// SetInfo implements Sink.
func (f Fanout) SetInfo(deviceID, lane string, info EndpointInfo) {
	for _, s := range f {
		s.SetInfo(deviceID, lane, info)
	}
}

// SetAsyncID implements Sink.
func (f Fanout) SetAsyncID(deviceID, lane, id string) {
	for _, s := range f {
		s.SetAsyncID(deviceID, lane, id)
	}
}

// CreateDevice implements Sink.
func (f Fanout) CreateDevice(info DeviceInfo) {
	for _, s := range f {
		s.CreateDevice(info)
	}
}

// ValueRecorder keeps the latest value per device lane in memory.
type ValueRecorder interface {
	RecordValue(deviceID, lane, value string, at time.Time)
}

// RecorderSink feeds latest values back into the device registry so the
// status API can show them. Only SetLatest has an effect.
type RecorderSink struct {
	Recorder ValueRecorder
	Now      func() time.Time
}

// SetLatest implements Sink.
func (r RecorderSink) SetLatest(deviceID, lane, value string) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	r.Recorder.RecordValue(deviceID, lane, value, now())
}

// SetInfo implements Sink.
func (RecorderSink) SetInfo(string, string, EndpointInfo) {}

// SetAsyncID implements Sink.
func (RecorderSink) SetAsyncID(string, string, string) {}

// CreateDevice implements Sink.
func (RecorderSink) CreateDevice(DeviceInfo) {}

// Counter counts sink calls. The health reporter reads it.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int64)}
}

func (c *Counter) inc(op string) {
	c.mu.Lock()
	c.counts[op]++
	c.mu.Unlock()
}

// SetLatest implements Sink.
func (c *Counter) SetLatest(string, string, string) { c.inc("latest") }

// SetInfo implements Sink.
func (c *Counter) SetInfo(string, string, EndpointInfo) { c.inc("info") }

// SetAsyncID implements Sink.
func (c *Counter) SetAsyncID(string, string, string) { c.inc("async_id") }

// CreateDevice implements Sink.
func (c *Counter) CreateDevice(DeviceInfo) { c.inc("device") }

// Snapshot returns a copy of the counts keyed by operation.
func (c *Counter) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
