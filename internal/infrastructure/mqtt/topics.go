package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the bridge publishes or consumes.
const TopicPrefix = "sensorbridge"

// Lane value kinds. Each device lane publishes one retained topic per kind.
const (
	LaneLatest  = "latest"
	LaneInfo    = "info"
	LaneAsyncID = "async_id"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceLane("016e...", "soil", mqtt.LaneLatest)
//	// Returns: "sensorbridge/device/016e.../soil/latest"
type Topics struct{}

// DeviceLane returns the retained topic for one kind of lane value.
//
// Example: sensorbridge/device/dev1/soil/latest
func (Topics) DeviceLane(deviceID, lane, kind string) string {
	return fmt.Sprintf("%s/device/%s/%s/%s", TopicPrefix, deviceID, lane, kind)
}

// DeviceInfo returns the retained topic describing a device.
//
// Example: sensorbridge/device/dev1/info
func (Topics) DeviceInfo(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/info", TopicPrefix, deviceID)
}

// Command returns the topic on which downstream consumers request a
// device command for a lane.
//
// Example: sensorbridge/command/dev1/pattern
func (Topics) Command(deviceID, lane string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceID, lane)
}

// AllCommands returns the wildcard subscription for every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// Health returns the retained topic for bridge health.
//
// Example: sensorbridge/health/sensorbridge-01
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}

// SystemStatus returns the topic for the process online/offline status (LWT).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseCommand splits a command topic into its device id and lane.
// It reports false for any other topic shape.
func (Topics) ParseCommand(topic string) (deviceID, lane string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
