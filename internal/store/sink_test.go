package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type publishCall struct {
	topic string
	v     any
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
	block chan struct{} // when set, PublishJSON waits on it
}

func (f *fakePublisher) PublishJSON(topic string, v any) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{topic: topic, v: v})
	return f.err
}

// waitCalls runs until the publisher has seen n calls and returns them.
func (f *fakePublisher) waitCalls(t *testing.T, n int) []publishCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.calls) >= n {
			calls := append([]publishCall(nil), f.calls...)
			f.mu.Unlock()
			return calls
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("publisher saw fewer than %d calls", n)
	return nil
}

func runSink(t *testing.T, sink *MQTTSink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sink.Run(ctx)
}

type fakeWriter struct {
	readings []string
}

func (f *fakeWriter) WriteReading(deviceID, lane, value string, _ time.Time) {
	f.readings = append(f.readings, deviceID+"/"+lane+"="+value)
}

type fakeRecorder struct {
	values map[string]string
	at     time.Time
}

func (f *fakeRecorder) RecordValue(deviceID, lane, value string, at time.Time) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[deviceID+"/"+lane] = value
	f.at = at
}

type warnLogger struct {
	count atomic.Int64
}

func (w *warnLogger) Warn(string, ...any) { w.count.Add(1) }

func TestMQTTSink_Topics(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }
	runSink(t, sink)

	sink.SetLatest("dev1", "soil", "123")
	sink.SetInfo("dev1", "soil", EndpointInfo{Name: "Soil", URI: "/3203/0/5511", Enabled: true})
	sink.SetAsyncID("dev1", "soil", "abc")
	sink.CreateDevice(DeviceInfo{ID: "dev1", Name: "plant", State: "registered", Lanes: []string{"soil"}})

	want := []string{
		"sensorbridge/device/dev1/soil/latest",
		"sensorbridge/device/dev1/soil/info",
		"sensorbridge/device/dev1/soil/async_id",
		"sensorbridge/device/dev1/info",
	}
	calls := pub.waitCalls(t, len(want))
	if len(calls) != len(want) {
		t.Fatalf("publish calls = %d, want %d", len(calls), len(want))
	}
	for i, topic := range want {
		if calls[i].topic != topic {
			t.Errorf("call[%d].topic = %q, want %q", i, calls[i].topic, topic)
		}
	}

	latest, ok := calls[0].v.(LatestPayload)
	if !ok {
		t.Fatalf("latest payload type = %T", calls[0].v)
	}
	if latest.Value != "123" || !latest.Timestamp.Equal(fixed) {
		t.Errorf("latest = %+v", latest)
	}
	if id := calls[2].v.(AsyncIDPayload).ID; id != "abc" {
		t.Errorf("async id = %q, want abc", id)
	}
}

func TestMQTTSink_PublishFailureIsLogged(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	sink := NewMQTTSink(pub)
	logger := &warnLogger{}
	sink.SetLogger(logger)
	runSink(t, sink)

	sink.SetLatest("dev1", "soil", "1")
	pub.waitCalls(t, 1)

	deadline := time.Now().Add(time.Second)
	for logger.count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := logger.count.Load(); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}
}

func TestMQTTSink_SlowBrokerDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	pub := &fakePublisher{block: release}
	sink := newMQTTSink(pub, 2)
	logger := &warnLogger{}
	sink.SetLogger(logger)
	runSink(t, sink)

	done := make(chan struct{})
	go func() {
		// One publish held by the worker, two queued, the rest dropped.
		for i := 0; i < 10; i++ {
			sink.SetLatest("dev1", "soil", "1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink blocked on a stalled publisher")
	}
	close(release)

	if d := sink.Dropped(); d < 7 {
		t.Errorf("Dropped() = %d, want at least 7", d)
	}
	if logger.count.Load() == 0 {
		t.Error("queue overflow was not logged")
	}
}

func TestFanout(t *testing.T) {
	pub := &fakePublisher{}
	w := &fakeWriter{}
	rec := &fakeRecorder{}
	counter := NewCounter()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mqttSink := NewMQTTSink(pub)
	runSink(t, mqttSink)
	sink := Fanout{
		mqttSink,
		NewInfluxSink(w),
		RecorderSink{Recorder: rec, Now: func() time.Time { return at }},
		counter,
	}

	sink.SetLatest("dev1", "temp", "21.5")
	sink.SetAsyncID("dev1", "temp", "id-1")
	sink.SetInfo("dev1", "temp", EndpointInfo{})
	sink.CreateDevice(DeviceInfo{ID: "dev1"})

	if calls := pub.waitCalls(t, 4); len(calls) != 4 {
		t.Errorf("mqtt publishes = %d, want 4", len(calls))
	}
	if len(w.readings) != 1 || w.readings[0] != "dev1/temp=21.5" {
		t.Errorf("influx readings = %v, want [dev1/temp=21.5]", w.readings)
	}
	if rec.values["dev1/temp"] != "21.5" || !rec.at.Equal(at) {
		t.Errorf("recorded = %v at %v", rec.values, rec.at)
	}

	got := counter.Snapshot()
	for _, op := range []string{"latest", "info", "async_id", "device"} {
		if got[op] != 1 {
			t.Errorf("counter[%s] = %d, want 1", op, got[op])
		}
	}
}
