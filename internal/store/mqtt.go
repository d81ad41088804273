package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sensorbridge/internal/infrastructure/mqtt"
)

// Publisher publishes a retained JSON document. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// LatestPayload is the retained document on a lane's latest topic.
type LatestPayload struct {
	Value     string    `json:"value"`
	Timestamp time.Time `json:"ts"`
}

// AsyncIDPayload is the retained document on a lane's async_id topic.
type AsyncIDPayload struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
}

// DefaultQueueSize is how many publishes MQTTSink buffers before it
// starts dropping.
const DefaultQueueSize = 1024

type outbound struct {
	topic string
	v     any
}

// MQTTSink publishes lane values as retained MQTT topics:
//
//	sensorbridge/device/{id}/{lane}/latest
//	sensorbridge/device/{id}/{lane}/info
//	sensorbridge/device/{id}/{lane}/async_id
//	sensorbridge/device/{id}/info
//
// Sink methods only enqueue; Run publishes. When the queue is full the
// publish is dropped and counted, so a slow broker never stalls the
// notification path.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
	now    func() time.Time

	queue   chan outbound
	dropped atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewMQTTSink creates a sink over an MQTT publisher. Nothing is published
// until Run is started.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return newMQTTSink(pub, DefaultQueueSize)
}

func newMQTTSink(pub Publisher, queueSize int) *MQTTSink {
	return &MQTTSink{
		pub:    pub,
		now:    time.Now,
		queue:  make(chan outbound, queueSize),
		logger: noopLogger{},
	}
}

// Run publishes queued messages until ctx is cancelled. Messages still
// queued at cancellation are discarded.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.queue:
			s.send(m)
		}
	}
}

// Dropped returns how many publishes were discarded on a full queue.
func (s *MQTTSink) Dropped() int64 {
	return s.dropped.Load()
}

// SetLogger sets the logger used for publish failures.
func (s *MQTTSink) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *MQTTSink) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *MQTTSink) publish(topic string, v any) {
	select {
	case s.queue <- outbound{topic: topic, v: v}:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.getLogger().Warn("store publish queue full, dropping", "topic", topic, "dropped", n)
		}
	}
}

func (s *MQTTSink) send(m outbound) {
	if err := s.pub.PublishJSON(m.topic, m.v); err != nil {
		s.getLogger().Warn("store publish failed", "topic", m.topic, "error", err)
	}
}

// SetLatest implements Sink.
func (s *MQTTSink) SetLatest(deviceID, lane, value string) {
	s.publish(s.topics.DeviceLane(deviceID, lane, mqtt.LaneLatest), LatestPayload{Value: value, Timestamp: s.now().UTC()})
}

// SetInfo implements Sink.
func (s *MQTTSink) SetInfo(deviceID, lane string, info EndpointInfo) {
	s.publish(s.topics.DeviceLane(deviceID, lane, mqtt.LaneInfo), info)
}

// SetAsyncID implements Sink.
func (s *MQTTSink) SetAsyncID(deviceID, lane, id string) {
	s.publish(s.topics.DeviceLane(deviceID, lane, mqtt.LaneAsyncID), AsyncIDPayload{ID: id, Timestamp: s.now().UTC()})
}

// CreateDevice implements Sink.
func (s *MQTTSink) CreateDevice(info DeviceInfo) {
	s.publish(s.topics.DeviceInfo(info.ID), info)
}
