package pelion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorbridge/internal/store"
)

// commandTimeout bounds one downstream command's device request.
const commandTimeout = 10 * time.Second

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the broker side of the bridge. *mqtt.Client implements it.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	PublishJSON(topic string, v any) error
	IsConnected() bool
}

// Commander issues device requests. *subscription.Manager implements it.
type Commander interface {
	SendCommand(ctx context.Context, deviceID, lane, method, value string) (string, error)
	ReadEndpoint(ctx context.Context, deviceID string, ep device.ResourceEndpoint) (string, error)
}

// DeviceSource lists devices eligible for polling. *device.Registry
// implements it.
type DeviceSource interface {
	Registered() []device.Device
}

// Gate reports whether the notification channel is streaming.
type Gate interface {
	Streaming() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config   *Config
	BridgeID string
	Version  string

	MQTTClient MQTTClient
	Commander  Commander
	Devices    DeviceSource
	Gate       Gate
	Sink       store.Sink

	// Points is optional; health points go to InfluxDB when set.
	Points PointWriter

	// Snapshot feeds the health reporter. Optional.
	Snapshot func() Snapshot

	Logger Logger
}

// Bridge connects the engine to the broker: it turns command topics into
// device requests, polls endpoints, announces new devices to the store and
// reports health.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *Config
	bridgeID  string
	mqtt      MQTTClient
	commander Commander
	devices   DeviceSource
	gate      Gate
	sink      store.Sink
	health    *HealthReporter
	topics    mqtt.Topics

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Commander == nil {
		return nil, fmt.Errorf("commander is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		bridgeID:  opts.BridgeID,
		mqtt:      opts.MQTTClient,
		commander: opts.Commander,
		devices:   opts.Devices,
		gate:      opts.Gate,
		sink:      opts.Sink,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Points:    opts.Points,
		Snapshot:  opts.Snapshot,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics and starts health reporting and,
// when configured, polling.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	if interval := b.cfg.GetPollInterval(); interval > 0 && b.devices != nil {
		b.wg.Add(1)
		go b.pollLoop(ctx, interval)
	}

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"poll_interval", b.cfg.GetPollInterval(),
		"fleet_mode", b.cfg.Bridge.FleetMode,
	)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// HandleChange announces devices that became registered to the store.
// Wire it with device.Registry.SetOnChange.
func (b *Bridge) HandleChange(ch device.Change) {
	d := ch.Device
	if d.State != device.StateRegistered {
		return
	}
	switch ch.Kind {
	case device.ChangeAdded, device.ChangeState, device.ChangeReappeared:
	default:
		return
	}

	lanes := make([]string, 0, len(d.Endpoints))
	for _, ep := range d.Endpoints {
		lanes = append(lanes, ep.Lane)
	}
	b.sink.CreateDevice(store.DeviceInfo{
		ID:    d.ID,
		Name:  d.Name,
		State: string(d.State),
		Lanes: lanes,
	})
	for _, ep := range d.Endpoints {
		b.sink.SetInfo(d.ID, ep.Lane, store.EndpointInfo{
			Name:    ep.Name,
			URI:     ep.URI,
			Enabled: ep.Enabled,
			Method:  ep.Method,
		})
	}
}

// handleCommand processes sensorbridge/command/{device_id}/{lane}.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, lane, ok := b.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var cmd CommandMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	id, err := b.commander.SendCommand(ctx, deviceID, lane, cmd.Method, cmd.Value)
	if err != nil {
		return fmt.Errorf("command %s/%s: %w", deviceID, lane, err)
	}

	b.logInfo("command sent",
		"device_id", deviceID,
		"lane", lane,
		"method", cmd.Method,
		"async_id", id,
	)
	return nil
}

func (b *Bridge) pollLoop(ctx context.Context, interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.pollOnce(b.ctx)
		}
	}
}

// pollOnce re-reads every enabled endpoint of every registered device.
// It does nothing while the channel is not streaming.
func (b *Bridge) pollOnce(ctx context.Context) int {
	if b.gate != nil && !b.gate.Streaming() {
		return 0
	}

	reads := 0
	for _, d := range b.devices.Registered() {
		for _, ep := range d.EnabledEndpoints() {
			if ctx.Err() != nil {
				return reads
			}
			if _, err := b.commander.ReadEndpoint(ctx, d.ID, ep); err != nil {
				if errors.Is(err, context.Canceled) {
					return reads
				}
				b.logDebug("poll read failed", "device_id", d.ID, "lane", ep.Lane, "error", err)
				continue
			}
			reads++
		}
	}
	b.logDebug("poll complete", "reads", reads)
	return reads
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
