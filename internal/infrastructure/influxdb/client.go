package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/sensorbridge/internal/infrastructure/config"
)

// Timeouts and batching defaults. Batching values apply when config leaves
// them at zero.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	millisecondsPerSecond = 1000
)

// Client wraps the InfluxDB v2 client for recording lane readings.
//
// Every forwarded lane value becomes one point in MeasurementReadings
// (see WriteReading). Points are queued in the client's batch
// buffer, so a slow or unreachable InfluxDB never holds up the
// notification path; failures surface through SetOnError instead.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write operations are non-blocking and batched.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	// connected is cleared by Close; later writes are dropped.
	connected bool
	mu        sync.RWMutex

	// onError receives batch write failures (optional, set via SetOnError).
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// Setup order:
//  1. Client with token auth and the configured batch size and flush interval
//  2. Ping; an unhealthy server fails Connect rather than silently dropping
//     every reading
//  3. Non-blocking write API for the configured org and bucket
//  4. Goroutine forwarding async write errors to the SetOnError callback
//
// Parameters:
//   - ctx: Bounds the initial ping (capped at defaultConnectTimeout)
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled when turned off in config, ErrConnectionFailed otherwise
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	c := &Client{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}

	go c.handleWriteErrors(writeAPI.Errors())

	return c, nil
}

// handleWriteErrors forwards async write errors until the write API closes
// its error channel on Close.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending writes and closes the client.
//
// Readings still in the batch buffer are sent before the client closes, so
// a graceful shutdown loses nothing that was already queued.
//
// Returns:
//   - error: Always nil; the InfluxDB client's Close does not report errors
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()

	return nil
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Context for cancellation; the ping is capped at defaultPingTimeout
//
// Returns:
//   - error: nil if healthy, ErrNotConnected after Close, the ping failure otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns the last known connection state.
//
// Note: this only tracks Close. Use HealthCheck for an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets a callback for asynchronous write failures.
//
// Writes return before the batch is sent, so this is the only place a
// rejected point or unreachable server shows up. The bridge logs it.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush forces all pending writes to be sent, blocking until the batch
// buffer is empty. Tests use it to make queued readings visible. Safe to
// call after Close (no-op).
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
