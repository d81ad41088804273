package pelion

import (
	"testing"
	"time"

	"github.com/nerrad567/sensorbridge/internal/supervisor"
)

type recordedPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

type mockPoints struct {
	points []recordedPoint
}

func (m *mockPoints) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	m.points = append(m.points, recordedPoint{measurement, tags, fields})
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		state      supervisor.State
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, supervisor.StateStreaming, HealthHealthy, ""},
		{"mqtt down", false, supervisor.StateStreaming, HealthDegraded, "MQTT disconnected"},
		{"reconnecting", true, supervisor.StateReconnecting, HealthDegraded, "notification channel reconnecting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newMockMQTT()
			pub.connected = tt.connected
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "b1",
				Publisher: pub,
				Snapshot: func() Snapshot {
					return Snapshot{Connection: supervisor.Stats{State: tt.state}}
				},
			})
			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %s, %q; want %s, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := newMockMQTT()
	points := &mockPoints{}
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "b1",
		Version:   "1.2.3",
		Publisher: pub,
		Points:    points,
		Snapshot: func() Snapshot {
			return Snapshot{
				Connection:    supervisor.Stats{State: supervisor.StateStreaming, Since: since, Sessions: 2, Frames: 40},
				Devices:       3,
				Registered:    2,
				Stale:         1,
				PendingAsync:  4,
				Subscriptions: 10,
				Forwarded:     35,
				Dropped:       5,
			}
		},
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.messages()
	if len(msgs) != 1 || msgs[0].topic != "sensorbridge/health/b1" {
		t.Fatalf("published = %+v", msgs)
	}
	msg := msgs[0].v.(HealthMessage)
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Connection.State != "streaming" || !msg.Connection.Since.Equal(since) || msg.Connection.Sessions != 2 {
		t.Errorf("connection = %+v", msg.Connection)
	}
	if s := msg.Statistics; s.Frames != 40 || s.PendingAsync != 4 || s.Subscriptions != 10 || s.Stale != 1 {
		t.Errorf("statistics = %+v", s)
	}

	if len(points.points) != 1 {
		t.Fatalf("points = %d, want 1", len(points.points))
	}
	p := points.points[0]
	if p.measurement != MeasurementBridgeHealth || p.tags["bridge"] != "b1" || p.tags["status"] != "healthy" {
		t.Errorf("point = %+v", p)
	}
	if p.fields["forwarded"] != int64(35) {
		t.Errorf("forwarded field = %v", p.fields["forwarded"])
	}
}
