package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementReadings is the measurement every lane value is written to.
const MeasurementReadings = "sensor_readings"

// WriteReading records one lane value. The write is non-blocking.
//
// Values that parse as numbers land in the "value" field so they can be
// charted; anything else (button states, patterns) goes to "value_text".
//
// Example:
//
//	client.WriteReading("016e...", "temp", "21.5")
func (c *Client) WriteReading(deviceID, lane, value string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ReadingPoint(deviceID, lane, value, ts))
}

// ReadingPoint builds the point WriteReading sends.
func ReadingPoint(deviceID, lane, value string, ts time.Time) *write.Point {
	fields := map[string]interface{}{}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		fields["value"] = f
	} else {
		fields["value_text"] = value
	}

	return write.NewPoint(
		MeasurementReadings,
		map[string]string{
			"device_id": deviceID,
			"lane":      lane,
		},
		fields,
		ts,
	)
}

// WritePoint writes a custom point with full control over tags and fields.
// The bridge health reporter uses it for connection statistics.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
