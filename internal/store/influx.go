package store

import "time"

// ReadingWriter records a lane reading as a time series point.
// *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReading(deviceID, lane, value string, ts time.Time)
}

// InfluxSink keeps the history of every latest value. Metadata calls are
// ignored; only SetLatest produces a point.
type InfluxSink struct {
	w   ReadingWriter
	now func() time.Time
}

// NewInfluxSink creates a sink over a reading writer.
func NewInfluxSink(w ReadingWriter) *InfluxSink {
	return &InfluxSink{w: w, now: time.Now}
}

// SetLatest implements Sink.
func (s *InfluxSink) SetLatest(deviceID, lane, value string) {
	s.w.WriteReading(deviceID, lane, value, s.now())
}

// SetInfo implements Sink.
func (s *InfluxSink) SetInfo(string, string, EndpointInfo) {}

// SetAsyncID implements Sink.
func (s *InfluxSink) SetAsyncID(string, string, string) {}

// CreateDevice implements Sink.
func (s *InfluxSink) CreateDevice(DeviceInfo) {}
