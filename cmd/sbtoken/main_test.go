package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/sensorbridge/internal/auth"
)

const testSecret = "sbtoken-test-secret-0123456789abcdef"

func writeConfig(t *testing.T, secret string) string {
	t.Helper()
	content := `
bridge:
  id: test-bridge
  endpoints_file: "endpoints.yaml"

vendor:
  api_url: "https://api.example.com"
  token: "test-token"

database:
  path: "bridge.db"

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"

api:
  auth:
    jwt_secret: "` + secret + `"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestRun_MintsVerifiableToken(t *testing.T) {
	t.Setenv("SENSORBRIDGE_API_JWT_SECRET", "")
	path := writeConfig(t, testSecret)

	var out bytes.Buffer
	if err := run([]string{"-config", path, "-subject", "grafana", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "grafana" {
		t.Errorf("Subject = %q, want grafana", claims.Subject)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Setenv("SENSORBRIDGE_API_JWT_SECRET", "")

	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantErr error
	}{
		{
			name: "missing subject",
			args: func(t *testing.T) []string { return []string{"-config", writeConfig(t, testSecret)} },
		},
		{
			name: "missing config",
			args: func(t *testing.T) []string {
				return []string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "-subject", "x"}
			},
		},
		{
			name:    "no secret configured",
			args:    func(t *testing.T) []string { return []string{"-config", writeConfig(t, ""), "-subject", "x"} },
			wantErr: auth.ErrNoSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(tt.args(t), &out)
			if err == nil {
				t.Fatal("run() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("run() error = %v, want %v", err, tt.wantErr)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}
