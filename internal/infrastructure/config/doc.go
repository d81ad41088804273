// Package config handles loading and validating sensor bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file for local secrets
//   - Overriding with environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - The vendor API token and broker credentials should be set via
//     environment variables, never committed to the YAML file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Vendor.APIURL)
package config
