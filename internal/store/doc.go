// Package store delivers decoded device values to the output store.
//
// The engine only ever talks to the Sink interface. The production store
// is MQTT (retained lane topics) with an optional InfluxDB history, joined
// with Fanout:
//
//	sink := store.Fanout{
//	    store.NewMQTTSink(mqttClient),
//	    store.NewInfluxSink(influxClient),
//	    store.RecorderSink{Recorder: registry},
//	}
//	sink.SetLatest("dev1", "soil", "123")
//
// Delivery is at-most-once. A failed publish is logged and dropped.
package store
