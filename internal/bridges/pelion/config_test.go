//nolint:goconst // Test files use repeated literals for clarity
package pelion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  health_interval: 15
  poll_interval: 60
  fleet_mode: false

endpoints:
  - name: "Soil moisture"
    lane: soil
    enabled: true
    subscription:
      uri: /3200/0/5700

devices:
  - id: "016e0000000000000000000000000001"
    name: "plant-1"
    endpoints:
      - name: "Button"
        lane: button
        enabled: true
        subscription:
          uri: /3200/0/5501
      - name: "Blink"
        lane: blink
        enabled: false
        subscription:
          uri: /3201/0/5850
        command:
          method: post
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.GetHealthInterval() != 15*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 15s", cfg.GetHealthInterval())
	}
	if cfg.GetPollInterval() != time.Minute {
		t.Errorf("GetPollInterval() = %v, want 1m", cfg.GetPollInterval())
	}
	if cfg.Bridge.FleetMode {
		t.Error("FleetMode = true, want false")
	}
	if len(cfg.Endpoints) != 1 {
		t.Errorf("Endpoints = %d, want file list to replace defaults", len(cfg.Endpoints))
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}
	eps := catalog.EndpointsFor("016e0000000000000000000000000001")
	if len(eps) != 2 {
		t.Fatalf("EndpointsFor() = %d, want 2", len(eps))
	}
	if eps[1].Method != "POST" {
		t.Errorf("blink method = %q, want POST", eps[1].Method)
	}
	if catalog.EndpointsFor("someone-else") != nil {
		t.Error("unlisted device should have no endpoints outside fleet mode")
	}
	if ep, ok := catalog.LookupPath("/3200/0/5700"); !ok || ep.Lane != "soil" {
		t.Errorf("LookupPath() = %+v, %v", ep, ok)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Bridge.FleetMode {
		t.Error("default FleetMode should be true")
	}
	if len(cfg.Endpoints) != len(DefaultEndpoints()) {
		t.Errorf("Endpoints = %d, want defaults", len(cfg.Endpoints))
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}
	want := map[string]string{
		"/3203/0/5510": "light_level",
		"/3203/0/5511": "soil",
		"/3203/0/5512": "temp",
		"/3203/0/5513": "pressure",
		"/3203/0/5514": "humidity",
		"/3200/0/5501": "button",
		"/3201/0/5853": "pattern",
		"/3201/0/5850": "blink",
	}
	for uri, lane := range want {
		if ep, ok := catalog.LookupPath(uri); !ok || ep.Lane != lane {
			t.Errorf("LookupPath(%s) = %q, want %q", uri, ep.Lane, lane)
		}
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SENSORBRIDGE_POLL_INTERVAL", "120")
	t.Setenv("SENSORBRIDGE_FLEET_MODE", "true")

	path := writeConfig(t, `
bridge:
  fleet_mode: false
  poll_interval: 5
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bridge.PollInterval != 120 {
		t.Errorf("PollInterval = %d, want 120", cfg.Bridge.PollInterval)
	}
	if !cfg.Bridge.FleetMode {
		t.Error("FleetMode should be overridden to true")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing lane",
			yaml: `
endpoints:
  - subscription: {uri: /1/0/1}
`,
			wantErr: "endpoints[0].lane is required",
		},
		{
			name: "relative uri",
			yaml: `
endpoints:
  - lane: soil
    subscription: {uri: "3203/0/5511"}
`,
			wantErr: "must start with /",
		},
		{
			name: "duplicate lane",
			yaml: `
endpoints:
  - {lane: soil, subscription: {uri: /1/0/1}}
  - {lane: soil, subscription: {uri: /1/0/2}}
`,
			wantErr: `lane "soil" is duplicate`,
		},
		{
			name: "bad method",
			yaml: `
endpoints:
  - {lane: soil, subscription: {uri: /1/0/1}, command: {method: PATCH}}
`,
			wantErr: "command.method",
		},
		{
			name: "duplicate device",
			yaml: `
devices:
  - {id: a}
  - {id: a}
`,
			wantErr: `devices[1].id "a" is duplicate`,
		},
		{
			name: "explicit mode without devices",
			yaml: `
bridge: {fleet_mode: false}
`,
			wantErr: "devices must not be empty",
		},
		{
			name: "health interval",
			yaml: `
bridge: {health_interval: 0}
`,
			wantErr: "health_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("LoadConfig() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
