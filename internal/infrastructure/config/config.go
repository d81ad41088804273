package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the shortest accepted API signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for the sensor bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge     BridgeConfig     `yaml:"bridge"`
	Vendor     VendorConfig     `yaml:"vendor"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Registry   RegistryConfig   `yaml:"registry"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance and points at its endpoint mapping.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// EndpointsFile is the path to the endpoint mapping (lanes, URIs, devices).
	EndpointsFile string `yaml:"endpoints_file"`
}

// VendorConfig contains the device-management API connection settings.
type VendorConfig struct {
	// APIURL is the REST base, e.g. "https://api.us-east-1.mbedcloud.com".
	APIURL string `yaml:"api_url"`

	// StreamURL overrides the websocket endpoint. When empty it is derived
	// from APIURL (https -> wss) plus /v2/notification/websocket-connect.
	StreamURL string `yaml:"stream_url"`

	// Token is the bearer credential. Set it via SENSORBRIDGE_VENDOR_TOKEN.
	Token string `yaml:"token"`

	// RequestTimeout bounds every REST call in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// MaxBodyBytes caps how much of a chunked response is buffered, and
	// the size of one notification frame.
	MaxBodyBytes int `yaml:"max_body_bytes"`

	// PingInterval is how often the notification stream is pinged, in seconds.
	PingInterval int `yaml:"ping_interval"`

	// PongTimeout is how long past a ping interval a silent stream is
	// tolerated before it is reconnected, in seconds.
	PongTimeout int `yaml:"pong_timeout"`
}

// SupervisorConfig contains notification channel supervision settings.
type SupervisorConfig struct {
	// ReconnectDelayMS is the fixed delay between Reconnecting and Connecting.
	ReconnectDelayMS int `yaml:"reconnect_delay_ms"`

	// SettleDelayMS promotes an open, silent stream to Streaming.
	SettleDelayMS int `yaml:"settle_delay_ms"`
}

// CorrelatorConfig controls pending async request eviction.
type CorrelatorConfig struct {
	HorizonSeconds       int `yaml:"horizon_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// RegistryConfig controls device list fetching.
type RegistryConfig struct {
	PageSize        int `yaml:"page_size"`
	SyncConcurrency int `yaml:"sync_concurrency"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the read-only status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	WS       WebSocketConfig  `yaml:"websocket"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig guards the status API with bearer tokens.
type APIAuthConfig struct {
	// JWTSecret signs and verifies tokens. Empty leaves the API open.
	// Set it via SENSORBRIDGE_API_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the live value stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file in the working directory, if present (secrets for local runs)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: SENSORBRIDGE_SECTION_KEY
// For example: SENSORBRIDGE_VENDOR_TOKEN, SENSORBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// .env is optional; real environment variables still win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:            "sensorbridge-01",
			Name:          "Sensor Bridge",
			EndpointsFile: "./configs/endpoints.yaml",
		},
		Vendor: VendorConfig{
			APIURL:         "https://api.us-east-1.mbedcloud.com",
			RequestTimeout: 30,
			MaxBodyBytes:   4 << 20,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Supervisor: SupervisorConfig{
			ReconnectDelayMS: 5000,
			SettleDelayMS:    2000,
		},
		Correlator: CorrelatorConfig{
			HorizonSeconds:       600,
			SweepIntervalSeconds: 30,
		},
		Registry: RegistryConfig{
			PageSize:        100,
			SyncConcurrency: 8,
		},
		Database: DatabaseConfig{
			Path:        "./data/sensorbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sensorbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			WS: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SENSORBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Vendor
	if v := os.Getenv("SENSORBRIDGE_VENDOR_API_URL"); v != "" {
		cfg.Vendor.APIURL = v
	}
	if v := os.Getenv("SENSORBRIDGE_VENDOR_STREAM_URL"); v != "" {
		cfg.Vendor.StreamURL = v
	}
	if v := os.Getenv("SENSORBRIDGE_VENDOR_TOKEN"); v != "" {
		cfg.Vendor.Token = v
	}

	// Supervisor
	if v := os.Getenv("SENSORBRIDGE_SUPERVISOR_RECONNECT_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.ReconnectDelayMS = n
		}
	}

	// Database
	if v := os.Getenv("SENSORBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SENSORBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SENSORBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SENSORBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SENSORBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("SENSORBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SENSORBRIDGE_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// Vendor validation
	if c.Vendor.APIURL == "" {
		errs = append(errs, "vendor.api_url is required")
	} else if u, err := url.Parse(c.Vendor.APIURL); err != nil || u.Host == "" {
		errs = append(errs, "vendor.api_url must be an absolute URL")
	}
	if c.Vendor.Token == "" {
		errs = append(errs, "vendor.token is required (set SENSORBRIDGE_VENDOR_TOKEN environment variable)")
	}
	if c.Vendor.RequestTimeout < 1 {
		errs = append(errs, "vendor.request_timeout must be at least 1 second")
	}
	if c.Vendor.PingInterval < 1 || c.Vendor.PongTimeout < 1 {
		errs = append(errs, "vendor.ping_interval and vendor.pong_timeout must be at least 1 second")
	}

	if c.Supervisor.ReconnectDelayMS < 0 {
		errs = append(errs, "supervisor.reconnect_delay_ms must not be negative")
	}
	if c.Correlator.HorizonSeconds < 0 {
		errs = append(errs, "correlator.horizon_seconds must not be negative")
	}
	if c.Registry.PageSize < 1 || c.Registry.PageSize > 1000 {
		errs = append(errs, "registry.page_size must be between 1 and 1000")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetStreamPingInterval returns the notification stream ping interval.
func (c *Config) GetStreamPingInterval() time.Duration {
	return time.Duration(c.Vendor.PingInterval) * time.Second
}

// GetStreamPongTimeout returns how long a silent stream is tolerated past
// a ping interval.
func (c *Config) GetStreamPongTimeout() time.Duration {
	return time.Duration(c.Vendor.PongTimeout) * time.Second
}

// GetStreamURL returns the websocket notification endpoint.
func (c *Config) GetStreamURL() string {
	if c.Vendor.StreamURL != "" {
		return c.Vendor.StreamURL
	}
	base := strings.TrimRight(c.Vendor.APIURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v2/notification/websocket-connect"
}

// GetRequestTimeout returns the vendor request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Vendor.RequestTimeout) * time.Second
}

// GetReconnectDelay returns the supervisor reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Supervisor.ReconnectDelayMS) * time.Millisecond
}

// GetSettleDelay returns the supervisor settle delay as a Duration.
func (c *Config) GetSettleDelay() time.Duration {
	return time.Duration(c.Supervisor.SettleDelayMS) * time.Millisecond
}

// GetCorrelatorHorizon returns the pending request horizon as a Duration.
func (c *Config) GetCorrelatorHorizon() time.Duration {
	return time.Duration(c.Correlator.HorizonSeconds) * time.Second
}

// GetSweepInterval returns the correlator sweep interval as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Correlator.SweepIntervalSeconds) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
