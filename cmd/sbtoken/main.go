// sbtoken mints bearer tokens for the sensor bridge status API.
//
// The signing secret is read from the same configuration the bridge uses,
// so SENSORBRIDGE_CONFIG and SENSORBRIDGE_API_JWT_SECRET apply here too:
//
//	sbtoken -subject grafana -ttl 720h
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/sensorbridge/internal/auth"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/config"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sbtoken", flag.ContinueOnError)
	subject := fs.String("subject", "", "token subject (required)")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	configPath := fs.String("config", configPathFromEnv(), "path to the bridge configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := auth.GenerateToken(*subject, cfg.API.Auth.JWTSecret, *ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}
	fmt.Fprintln(out, token) //nolint:errcheck // CLI output
	return nil
}

func configPathFromEnv() string {
	if path := os.Getenv("SENSORBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
