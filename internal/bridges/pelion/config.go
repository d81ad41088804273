package pelion

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/sensorbridge/internal/device"
)

// Config is the endpoint mapping: which lanes exist, which resource URI
// feeds each lane, and bridge timings. Loaded once at startup.
type Config struct {
	Bridge    BridgeConfig     `yaml:"bridge"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Devices   []DeviceConfig   `yaml:"devices"`
}

// BridgeConfig contains bridge operational settings.
type BridgeConfig struct {
	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// PollInterval re-reads every enabled endpoint this often (seconds).
	// 0 disables polling; values then arrive only as notifications.
	PollInterval int `yaml:"poll_interval"`

	// FleetMode gives every device not listed under devices the shared
	// endpoint list.
	FleetMode bool `yaml:"fleet_mode"`
}

// EndpointConfig maps one resource URI to a lane.
type EndpointConfig struct {
	Name         string             `yaml:"name"`
	Lane         string             `yaml:"lane"`
	Enabled      bool               `yaml:"enabled"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Command      CommandConfig      `yaml:"command"`
}

// SubscriptionConfig holds the resource URI to subscribe to.
type SubscriptionConfig struct {
	URI string `yaml:"uri"`
}

// CommandConfig holds the device request method used for commands on the
// lane (POST or PUT). Empty means POST.
type CommandConfig struct {
	Method string `yaml:"method"`
}

// DeviceConfig gives one device its own endpoint list.
type DeviceConfig struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// DefaultEndpoints is the plant sensor board's resource layout.
func DefaultEndpoints() []EndpointConfig {
	ep := func(name, lane, uri string, enabled bool, method string) EndpointConfig {
		return EndpointConfig{
			Name:         name,
			Lane:         lane,
			Enabled:      enabled,
			Subscription: SubscriptionConfig{URI: uri},
			Command:      CommandConfig{Method: method},
		}
	}
	return []EndpointConfig{
		ep("Light level", "light_level", "/3203/0/5510", true, ""),
		ep("Soil moisture", "soil", "/3203/0/5511", true, ""),
		ep("Temperature", "temp", "/3203/0/5512", true, ""),
		ep("Pressure", "pressure", "/3203/0/5513", true, ""),
		ep("Humidity", "humidity", "/3203/0/5514", true, ""),
		ep("Button", "button", "/3200/0/5501", true, ""),
		ep("LED pattern", "pattern", "/3201/0/5853", false, "PUT"),
		ep("LED blink", "blink", "/3201/0/5850", false, "POST"),
	}
}

// LoadConfig reads the endpoint mapping from a YAML file.
//
// The loading order is:
//  1. Default values (board layout, fleet mode on)
//  2. YAML file values (override defaults)
//  3. Environment variables SENSORBRIDGE_POLL_INTERVAL,
//     SENSORBRIDGE_HEALTH_INTERVAL and SENSORBRIDGE_FLEET_MODE
//
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing endpoint mapping: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading endpoint mapping: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating endpoint mapping: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			HealthInterval: 30,
			FleetMode:      true,
		},
		Endpoints: DefaultEndpoints(),
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENSORBRIDGE_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.PollInterval = n
		}
	}
	if v := os.Getenv("SENSORBRIDGE_HEALTH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.HealthInterval = n
		}
	}
	if v := os.Getenv("SENSORBRIDGE_FLEET_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bridge.FleetMode = b
		}
	}
}

// Validate checks the mapping for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.PollInterval < 0 {
		errs = append(errs, "bridge.poll_interval must not be negative")
	}
	errs = append(errs, validateEndpoints("endpoints", c.Endpoints)...)

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicate", i, d.ID))
		}
		seen[d.ID] = true
		errs = append(errs, validateEndpoints(fmt.Sprintf("devices[%d].endpoints", i), d.Endpoints)...)
	}

	if !c.Bridge.FleetMode && len(c.Devices) == 0 {
		errs = append(errs, "devices must not be empty when fleet_mode is off")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEndpoints(prefix string, eps []EndpointConfig) []string {
	var errs []string
	lanes := make(map[string]bool, len(eps))
	for i, ep := range eps {
		if ep.Lane == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].lane is required", prefix, i))
		} else if lanes[ep.Lane] {
			errs = append(errs, fmt.Sprintf("%s[%d].lane %q is duplicate", prefix, i, ep.Lane))
		}
		lanes[ep.Lane] = true

		if !strings.HasPrefix(ep.Subscription.URI, "/") {
			errs = append(errs, fmt.Sprintf("%s[%d].subscription.uri %q must start with /", prefix, i, ep.Subscription.URI))
		}
		switch strings.ToUpper(ep.Command.Method) {
		case "", "POST", "PUT":
		default:
			errs = append(errs, fmt.Sprintf("%s[%d].command.method %q is invalid (use POST or PUT)", prefix, i, ep.Command.Method))
		}
	}
	return errs
}

func (e EndpointConfig) template() device.EndpointTemplate {
	return device.EndpointTemplate{
		Name:    e.Name,
		Lane:    e.Lane,
		URI:     e.Subscription.URI,
		Enabled: e.Enabled,
		Method:  strings.ToUpper(e.Command.Method),
	}
}

func templates(eps []EndpointConfig) []device.EndpointTemplate {
	out := make([]device.EndpointTemplate, 0, len(eps))
	for _, e := range eps {
		out = append(out, e.template())
	}
	return out
}

// BuildCatalog turns the mapping into a device endpoint catalog.
func (c *Config) BuildCatalog() (*device.Catalog, error) {
	perDevice := make(map[string][]device.EndpointTemplate, len(c.Devices))
	for _, d := range c.Devices {
		perDevice[d.ID] = templates(d.Endpoints)
	}
	return device.NewCatalog(templates(c.Endpoints), perDevice, c.Bridge.FleetMode)
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetPollInterval returns the poll interval; zero disables polling.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Second
}
