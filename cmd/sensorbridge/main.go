// Sensor Bridge - device notification reconciliation engine
//
// This is the main entry point for the sensor bridge. The bridge keeps a
// fleet of vendor-managed devices in step with a local store:
//   - One notification channel to the vendor, supervised and reconnected
//   - Resource subscriptions that follow device registration
//   - Values forwarded to MQTT, InfluxDB and live WebSocket clients
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sensorbridge/internal/api"
	"github.com/nerrad567/sensorbridge/internal/audit"
	"github.com/nerrad567/sensorbridge/internal/bridges/pelion"
	"github.com/nerrad567/sensorbridge/internal/correlator"
	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/config"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/database"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/logging"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorbridge/internal/router"
	"github.com/nerrad567/sensorbridge/internal/store"
	"github.com/nerrad567/sensorbridge/internal/subscription"
	"github.com/nerrad567/sensorbridge/internal/supervisor"
	"github.com/nerrad567/sensorbridge/internal/vendorapi"
	"github.com/nerrad567/sensorbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is linear but long
	log := logging.Default()
	log.Info("starting sensor bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	mapping, err := pelion.LoadConfig(cfg.Bridge.EndpointsFile)
	if err != nil {
		return fmt.Errorf("loading endpoint mapping: %w", err)
	}
	catalog, err := mapping.BuildCatalog()
	if err != nil {
		return fmt.Errorf("building endpoint catalog: %w", err)
	}
	log.Info("endpoint mapping loaded",
		"path", cfg.Bridge.EndpointsFile,
		"endpoints", len(mapping.Endpoints),
		"devices", len(mapping.Devices),
		"fleet_mode", mapping.Bridge.FleetMode,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Vendor transport
	vendor, err := vendorapi.NewClient(vendorapi.Options{
		APIURL:       cfg.Vendor.APIURL,
		StreamURL:    cfg.GetStreamURL(),
		Token:        cfg.Vendor.Token,
		Timeout:      cfg.GetRequestTimeout(),
		MaxBodyBytes: cfg.Vendor.MaxBodyBytes,
		PingInterval: cfg.GetStreamPingInterval(),
		PongTimeout:  cfg.GetStreamPongTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating vendor client: %w", err)
	}
	vendor.SetLogger(log.Component("vendorapi"))

	pending := correlator.New(correlator.WithHorizon(cfg.GetCorrelatorHorizon()))
	pending.SetLogger(log.Component("correlator"))

	// Device registry, restored from the last snapshot
	registry := device.NewRegistry(vendor, catalog, device.Options{
		PageSize:        cfg.Registry.PageSize,
		SyncConcurrency: cfg.Registry.SyncConcurrency,
		Repo:            device.NewSQLiteRepository(db.DB),
		Discoverer:      vendor,
	})
	registry.SetLogger(log.Component("registry"))
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry loaded", "devices", registry.GetStats().Devices)

	// Output store
	hub := api.NewHub(cfg.API.WS, log.Component("websocket"))
	mqttSink := store.NewMQTTSink(mqttClient)
	mqttSink.SetLogger(log.Component("store"))
	sinks := store.Fanout{mqttSink, store.RecorderSink{Recorder: registry}, hub}
	if influxClient != nil {
		sinks = append(sinks, store.NewInfluxSink(influxClient))
	}
	counter := store.NewCounter()
	sinks = append(sinks, counter)

	// Notification path
	frames := router.New(catalog, pending, registry, sinks)
	frames.SetLogger(log.Component("router"))

	sup := supervisor.New(vendor, frames, registry, supervisor.Config{
		ReconnectDelay: cfg.GetReconnectDelay(),
		SettleDelay:    cfg.GetSettleDelay(),
		OnStateChange: func(from, to supervisor.State) {
			log.Info("notification channel state", "from", from, "to", to)
		},
	})
	sup.SetLogger(log.Component("supervisor"))

	subs := subscription.NewManager(vendor, pending, sinks, subscription.Options{
		Gate:    sup,
		Devices: registry,
	})
	subs.SetLogger(log.Component("subscription"))
	registry.SetSyncer(subs)

	// MQTT-facing bridge: commands, polling, device announcements, health
	bridgeOpts := pelion.BridgeOptions{
		Config:     mapping,
		BridgeID:   cfg.Bridge.ID,
		Version:    version,
		MQTTClient: mqttClient,
		Commander:  subs,
		Devices:    registry,
		Gate:       sup,
		Sink:       sinks,
		Logger:     log.Component("bridge"),
		Snapshot: func() pelion.Snapshot {
			return snapshot(sup, registry, pending, subs, frames)
		},
	}
	if influxClient != nil {
		bridgeOpts.Points = influxClient
	}
	bridge, err := pelion.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	journal := audit.NewJournal(auditRepo)
	journal.SetLogger(log.Component("audit"))
	registry.SetOnChange(func(ch device.Change) {
		journal.Record(ch)
		bridge.HandleChange(ch)
	})

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:        cfg.API,
			Logger:        log.Component("api"),
			Devices:       registry,
			Version:       version,
			Connection:    sup,
			Subscriptions: subs,
			Pending:       pending,
			Frames:        frames,
			MQTT:          mqttClient,
			DB:            db.DB,
			Audit:         auditRepo,
			Hub:           hub,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete", "bridge_id", cfg.Bridge.ID)

	// Long-running loops; each returns when ctx is cancelled.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pending.Run(gctx, cfg.GetSweepInterval())
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		mqttSink.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sup.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("running bridge: %w", err)
	}

	log.Info("shutdown signal received, cleaning up",
		"forwarded", counter.Snapshot(),
	)

	// Deferred calls run in reverse order:
	// 1. API server (if enabled)
	// 2. Bridge
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("sensor bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SENSORBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SENSORBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// snapshot gathers health figures from the running components.
func snapshot(sup *supervisor.Supervisor, registry *device.Registry, pending *correlator.Correlator, subs *subscription.Manager, frames *router.Router) pelion.Snapshot {
	reg := registry.GetStats()
	fr := frames.GetStats()
	return pelion.Snapshot{
		Connection:    sup.GetStats(),
		Devices:       reg.Devices,
		Registered:    reg.Registered,
		Stale:         reg.Stale,
		PendingAsync:  pending.Len(),
		Subscriptions: subs.Count(),
		Forwarded:     fr.Forwarded,
		Dropped:       fr.DecodeErrors + fr.EndpointMisses + fr.CorrelationMisses + fr.FailedResponses,
	}
}
