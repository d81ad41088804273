package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sensorbridge/internal/vendorapi"
)

type fakeStream struct {
	frames chan []byte
	mu     sync.Mutex
	err    error
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16)}
}

func (f *fakeStream) Frames() <-chan []byte { return f.frames }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// end closes the frame channel with err, like a dropped connection.
func (f *fakeStream) end(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.frames)
}

// MockTransport records calls in order and hands out queued streams.
type MockTransport struct {
	mu        sync.Mutex
	calls     []string
	streams   chan *fakeStream
	deleteErr error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{streams: make(chan *fakeStream, 8)}
}

func (m *MockTransport) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *MockTransport) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockTransport) DeleteChannel(_ context.Context, kind string) error {
	m.record("DELETE " + kind)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		err := m.deleteErr
		m.deleteErr = nil
		return err
	}
	return nil
}

func (m *MockTransport) RegisterWebsocketChannel(context.Context) error {
	m.record("PUT websocket")
	return nil
}

func (m *MockTransport) OpenStream(ctx context.Context) (vendorapi.Stream, error) {
	m.record("OPEN")
	select {
	case s := <-m.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeHandler struct {
	mu     sync.Mutex
	frames []string
}

func (f *fakeHandler) HandleFrame(frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, string(frame))
	f.mu.Unlock()
}

func (f *fakeHandler) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type fakeRefresher struct {
	mu   sync.Mutex
	full int
}

func (f *fakeRefresher) RequestRefresh(full bool) {
	f.mu.Lock()
	if full {
		f.full++
	}
	f.mu.Unlock()
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.full
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(_, to State) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSupervisor_ReconnectCallOrder(t *testing.T) {
	transport := NewMockTransport()
	handler := &fakeHandler{}
	refresher := &fakeRefresher{}
	states := &stateLog{}

	first, second := newFakeStream(), newFakeStream()
	transport.streams <- first
	transport.streams <- second

	sup := New(transport, handler, refresher, Config{
		ReconnectDelay: 20 * time.Millisecond,
		SettleDelay:    time.Hour,
		OnStateChange:  states.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	first.frames <- []byte("one")
	first.frames <- []byte("two")
	waitFor(t, "two frames", func() bool { return len(handler.got()) == 2 })
	if !sup.Streaming() {
		t.Error("Streaming() = false after first frame")
	}

	first.end(errors.New("connection reset"))
	second.frames <- []byte("three")
	waitFor(t, "third frame", func() bool { return len(handler.got()) == 3 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	session := []string{"DELETE callback", "DELETE pull", "DELETE websocket", "PUT websocket", "OPEN"}
	want := append(append([]string{}, session...), session...)
	got := transport.Calls()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v\nwant  %v", got, want)
	}

	if frames := handler.got(); strings.Join(frames, ",") != "one,two,three" {
		t.Errorf("frames = %v, want in arrival order", frames)
	}
	if refresher.count() != 2 {
		t.Errorf("full refreshes = %d, want one per session", refresher.count())
	}
	if !first.closed {
		t.Error("first stream not closed")
	}

	wantStates := []State{
		StateConnecting, StateAuthenticated, StateStreaming,
		StateReconnecting,
		StateConnecting, StateAuthenticated, StateStreaming,
		StateDisconnected,
	}
	gotStates := states.get()
	if len(gotStates) != len(wantStates) {
		t.Fatalf("states = %v\nwant   %v", gotStates, wantStates)
	}
	for i := range wantStates {
		if gotStates[i] != wantStates[i] {
			t.Errorf("state[%d] = %s, want %s", i, gotStates[i], wantStates[i])
		}
	}

	stats := sup.GetStats()
	if stats.Sessions != 2 || stats.Frames != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if !strings.Contains(stats.LastError, "connection reset") {
		t.Errorf("LastError = %q", stats.LastError)
	}
}

func TestSupervisor_SettleDelayEntersStreaming(t *testing.T) {
	transport := NewMockTransport()
	refresher := &fakeRefresher{}
	transport.streams <- newFakeStream()

	sup := New(transport, &fakeHandler{}, refresher, Config{
		ReconnectDelay: time.Second,
		SettleDelay:    10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx) //nolint:errcheck // stopped by cancel

	waitFor(t, "streaming", sup.Streaming)
	if refresher.count() != 1 {
		t.Errorf("full refreshes = %d, want 1", refresher.count())
	}
}

func TestSupervisor_CleanupFailureRetries(t *testing.T) {
	transport := NewMockTransport()
	transport.deleteErr = vendorapi.ErrNetwork
	transport.streams <- newFakeStream()

	sup := New(transport, &fakeHandler{}, &fakeRefresher{}, Config{
		ReconnectDelay: 10 * time.Millisecond,
		SettleDelay:    0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx) //nolint:errcheck // stopped by cancel

	waitFor(t, "streaming after retry", sup.Streaming)

	calls := transport.Calls()
	if calls[0] != "DELETE callback" || calls[1] != "DELETE callback" {
		t.Errorf("calls = %v, want the failed cleanup retried from the start", calls)
	}
}

func TestSupervisor_CancelStops(t *testing.T) {
	transport := NewMockTransport()
	sup := New(transport, &fakeHandler{}, &fakeRefresher{}, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// OpenStream blocks because no stream is queued.
	waitFor(t, "open attempt", func() bool { return len(transport.Calls()) == 5 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sup.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", sup.State())
	}
}
