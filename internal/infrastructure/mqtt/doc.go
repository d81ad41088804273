// Package mqtt connects the bridge to its MQTT broker.
//
// The broker is the bridge's output store: every lane value, lane metadata
// record, pending async id and device description is published as a
// retained message under sensorbridge/device/..., so dashboards that
// subscribe late still see current state. The same connection carries the
// downstream command intake (sensorbridge/command/{device}/{lane}) and the
// bridge health topic.
//
// Topic helpers live on Topics{} so the hierarchy is defined in one place.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DeviceLane("dev1", "soil", mqtt.LaneLatest)
//	err = client.PublishJSON(topic, map[string]string{"value": "123"})
package mqtt
