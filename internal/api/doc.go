// Package api implements the read-only status server for the sensor bridge.
//
// This package provides:
//   - REST endpoints for bridge health, notification channel state,
//     devices, subscriptions and metrics
//   - A WebSocket hub that streams lane values as they are forwarded
//   - Middleware stack (request ID, logging, recovery)
//
// # Architecture
//
// The server only reads. Devices come from the registry, channel state from
// the supervisor, and counters from the router, correlator and subscription
// manager. The Hub implements store.Sink so it can sit in the router's sink
// fanout next to MQTT and InfluxDB.
//
// # Graceful Degradation
//
// Every source except the device registry is optional. Missing sources are
// omitted from responses.
package api
