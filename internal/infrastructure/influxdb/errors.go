package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The bridge then runs without the time-series sink.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed wraps ping and health failures during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: client closed")
)
