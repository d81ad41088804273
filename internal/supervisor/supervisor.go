package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sensorbridge/internal/vendorapi"
)

// State is the notification channel state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateStreaming     State = "streaming"
	StateReconnecting  State = "reconnecting"
)

// Defaults for Config zero values.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultSettleDelay    = 2 * time.Second
)

// Transport is the part of the vendor API the supervisor drives.
// *vendorapi.Client implements it.
type Transport interface {
	DeleteChannel(ctx context.Context, kind string) error
	RegisterWebsocketChannel(ctx context.Context) error
	OpenStream(ctx context.Context) (vendorapi.Stream, error)
}

// FrameHandler consumes stream frames. *router.Router implements it.
type FrameHandler interface {
	HandleFrame(frame []byte)
}

// Refresher schedules a device registry refresh.
type Refresher interface {
	RequestRefresh(full bool)
}

// Config holds supervisor settings.
type Config struct {
	// ReconnectDelay is the fixed wait between a lost connection and the
	// next attempt.
	ReconnectDelay time.Duration

	// SettleDelay is how long an open stream may stay silent before it is
	// considered streaming anyway. The vendor sends nothing until there is
	// something to report.
	SettleDelay time.Duration

	// OnStateChange is called after every transition, from the Run goroutine.
	OnStateChange func(from, to State)
}

// DefaultConfig returns a Config with the default delays.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: DefaultReconnectDelay,
		SettleDelay:    DefaultSettleDelay,
	}
}

// Logger defines the logging interface for the supervisor.
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

// Stats describes the supervisor's history.
type Stats struct {
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	Sessions  int64     `json:"sessions"`
	Frames    int64     `json:"frames"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor owns the notification channel.
//
// Each session deletes every notification channel kind, registers the
// websocket channel, opens the stream and feeds frames to the handler one
// at a time in arrival order. Entering Streaming requests a full registry
// refresh. When the stream ends the supervisor waits ReconnectDelay and
// starts a new session. It never gives up; only ctx cancellation stops it.
//
// Thread Safety:
//   - State, Streaming and GetStats are safe for concurrent use.
//   - Run must be called once.
type Supervisor struct {
	transport Transport
	handler   FrameHandler
	refresher Refresher
	config    Config
	logger    Logger

	mu        sync.RWMutex
	state     State
	since     time.Time
	sessions  int64
	frames    int64
	lastError error
}

// New creates a supervisor in the Disconnected state.
func New(transport Transport, handler FrameHandler, refresher Refresher, cfg Config) *Supervisor {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Supervisor{
		transport: transport,
		handler:   handler,
		refresher: refresher,
		config:    cfg,
		logger:    noopLogger{},
		state:     StateDisconnected,
		since:     time.Now(),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Streaming reports whether the channel is streaming.
func (s *Supervisor) Streaming() bool {
	return s.State() == StateStreaming
}

// GetStats returns a snapshot of the supervisor state.
func (s *Supervisor) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		State:    s.state,
		Since:    s.since,
		Sessions: s.sessions,
		Frames:   s.frames,
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.since = time.Now()
	s.mu.Unlock()

	s.logger.Debug("connection state changed", "from", string(from), "to", string(to))
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(from, to)
	}
}

// Run supervises the channel until ctx is cancelled. It always returns nil
// after leaving the channel Disconnected.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()

		s.setState(StateReconnecting)
		if errors.Is(err, vendorapi.ErrAuth) {
			s.logger.Error("vendor rejected credentials, retrying", "error", err, "delay", s.config.ReconnectDelay)
		} else {
			s.logger.Warn("notification channel lost, reconnecting", "error", err, "delay", s.config.ReconnectDelay)
		}

		timer := time.NewTimer(s.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connect/stream cycle and returns why it ended.
func (s *Supervisor) session(ctx context.Context) error {
	s.setState(StateConnecting)
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	for _, kind := range []string{vendorapi.ChannelCallback, vendorapi.ChannelPull, vendorapi.ChannelWebsocket} {
		if err := s.transport.DeleteChannel(ctx, kind); err != nil {
			return fmt.Errorf("cleaning up channels: %w", err)
		}
	}
	if err := s.transport.RegisterWebsocketChannel(ctx); err != nil {
		return err
	}

	stream, err := s.transport.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close() //nolint:errcheck // stream is finished either way

	s.setState(StateAuthenticated)
	s.logger.Info("notification stream open")

	settle := time.NewTimer(s.config.SettleDelay)
	defer settle.Stop()
	settleC := settle.C

	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-settleC:
			settleC = nil
			s.enterStreaming()

		case frame, ok := <-frames:
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return vendorapi.ErrStreamClosed
			}
			settleC = nil
			s.enterStreaming()

			s.mu.Lock()
			s.frames++
			s.mu.Unlock()
			s.handler.HandleFrame(frame)
		}
	}
}

func (s *Supervisor) enterStreaming() {
	if s.State() == StateStreaming {
		return
	}
	s.setState(StateStreaming)
	s.logger.Info("notification channel streaming, refreshing registry")
	s.refresher.RequestRefresh(true)
}
