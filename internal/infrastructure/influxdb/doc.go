// Package influxdb records lane readings as time series.
//
// The MQTT lane topics only hold the latest value. When enabled, every
// forwarded value is also written to InfluxDB (measurement
// "sensor_readings", tags device_id and lane) so dashboards can chart
// history. Writes are batched and non-blocking; failures arrive through
// the SetOnError callback.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	client.WriteReading("dev1", "soil", "123", time.Now())
package influxdb
