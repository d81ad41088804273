// Package logging provides structured logging for the sensor bridge.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production, text for development
//   - Default fields (service, version) on all log entries
//   - Per-component children via Component("router")
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log the vendor token or broker passwords.
package logging
