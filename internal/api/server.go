package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/sensorbridge/internal/correlator"
	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/config"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/logging"
	"github.com/nerrad567/sensorbridge/internal/router"
	"github.com/nerrad567/sensorbridge/internal/subscription"
	"github.com/nerrad567/sensorbridge/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceReader is the registry view the server needs. *device.Registry
// implements it.
type DeviceReader interface {
	List() []device.Device
	Get(id string) (device.Device, error)
	GetStats() device.Stats
}

// ConnectionReader reports notification channel state. *supervisor.Supervisor
// implements it.
type ConnectionReader interface {
	GetStats() supervisor.Stats
}

// SubscriptionReader reports the subscription table. *subscription.Manager
// implements it.
type SubscriptionReader interface {
	Subscriptions() []subscription.Subscription
	GetStats() subscription.Stats
}

// PendingReader reports outstanding async requests. *correlator.Correlator
// implements it.
type PendingReader interface {
	Len() int
	Stats() correlator.Stats
}

// FrameStats reports notification routing counters. *router.Router
// implements it.
type FrameStats interface {
	GetStats() router.Stats
}

// BrokerStatus reports MQTT connectivity. *mqtt.Client implements it.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Devices DeviceReader
	Version string

	// Optional sources.
	Connection    ConnectionReader
	Subscriptions SubscriptionReader
	Pending       PendingReader
	Frames        FrameStats
	MQTT          BrokerStatus
	DB            DBStats
	Audit         AuditReader

	// Hub, if set, is used instead of creating a new one. Pass the same hub
	// that sits in the router's sink fanout.
	Hub *Hub
}

// Server is the HTTP status server for the sensor bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	logger        *logging.Logger
	devices       DeviceReader
	connection    ConnectionReader
	subscriptions SubscriptionReader
	pending       PendingReader
	frames        FrameStats
	mqtt          BrokerStatus
	db            DBStats
	audit         AuditReader
	version       string
	startTime     time.Time
	server        *http.Server
	hub           *Hub
	cancel        context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, device registry)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WS, deps.Logger)
	}

	return &Server{
		cfg:           deps.Config,
		logger:        deps.Logger,
		devices:       deps.Devices,
		connection:    deps.Connection,
		subscriptions: deps.Subscriptions,
		pending:       deps.Pending,
		frames:        deps.Frames,
		mqtt:          deps.MQTT,
		db:            deps.DB,
		audit:         deps.Audit,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           hub,
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
