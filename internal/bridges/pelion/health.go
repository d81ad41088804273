package pelion

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/sensorbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorbridge/internal/supervisor"
)

// MeasurementBridgeHealth is the InfluxDB measurement for health points.
const MeasurementBridgeHealth = "bridge_health"

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals and, when a
// point writer is configured, records them in InfluxDB.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	points    PointWriter
	snapshot  func() Snapshot

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher publishes retained JSON. *mqtt.Client implements it.
type HealthPublisher interface {
	PublishJSON(topic string, v any) error
	IsConnected() bool
}

// PointWriter writes a time series point. *influxdb.Client implements it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Points is optional.
	Points PointWriter

	// Snapshot returns current figures. Optional.
	Snapshot func() Snapshot
}

// NewHealthReporter creates a new health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	snapshot := cfg.Snapshot
	if snapshot == nil {
		snapshot = func() Snapshot { return Snapshot{} }
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		points:    cfg.Points,
		snapshot:  snapshot,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops health reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if state := h.snapshot().Connection.State; state != supervisor.StateStreaming {
		return HealthDegraded, "notification channel " + string(state)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	snap := h.snapshot()
	msg := NewHealthMessage(h.bridgeID, h.version, status, snap, h.startTime)
	msg.Reason = reason

	if h.points != nil {
		h.points.WritePoint(MeasurementBridgeHealth,
			map[string]string{"bridge": h.bridgeID, "status": string(status)},
			map[string]interface{}{
				"devices":       snap.Devices,
				"registered":    snap.Registered,
				"pending_async": snap.PendingAsync,
				"subscriptions": snap.Subscriptions,
				"frames":        snap.Connection.Frames,
				"forwarded":     snap.Forwarded,
				"dropped":       snap.Dropped,
			})
	}

	if h.publisher == nil {
		return nil
	}
	return h.publisher.PublishJSON(mqtt.Topics{}.Health(h.bridgeID), msg)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
