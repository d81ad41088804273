package pelion

import (
	"time"

	"github.com/nerrad567/sensorbridge/internal/supervisor"
)

// CommandMessage is a downstream request to act on a device lane.
// Topic: sensorbridge/command/{device_id}/{lane}
type CommandMessage struct {
	// Method is the device request method. Empty uses the lane's
	// configured method.
	Method string `json:"method,omitempty"`

	// Value is sent base64-encoded as the request payload.
	Value string `json:"value,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is streaming and the broker is up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but cannot deliver values.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// Snapshot gathers the figures a health message reports.
type Snapshot struct {
	Connection    supervisor.Stats
	Devices       int
	Registered    int
	Stale         int
	PendingAsync  int
	Subscriptions int
	Forwarded     int64
	Dropped       int64
}

// HealthMessage reports bridge status.
// Topic: sensorbridge/health/{bridge_id}
// QoS: configured, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Connection *ConnectionStatus `json:"connection,omitempty"`
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the notification channel.
type ConnectionStatus struct {
	State    string    `json:"state"`
	Since    time.Time `json:"since"`
	Sessions int64     `json:"sessions"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	Devices       int   `json:"devices"`
	Registered    int   `json:"registered"`
	Stale         int   `json:"stale"`
	PendingAsync  int   `json:"pending_async"`
	Subscriptions int   `json:"subscriptions"`
	Frames        int64 `json:"frames"`
	Forwarded     int64 `json:"forwarded"`
	Dropped       int64 `json:"dropped"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, snap Snapshot, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection: &ConnectionStatus{
			State:    string(snap.Connection.State),
			Since:    snap.Connection.Since,
			Sessions: snap.Connection.Sessions,
		},
		Statistics: &BridgeStatistics{
			Devices:       snap.Devices,
			Registered:    snap.Registered,
			Stale:         snap.Stale,
			PendingAsync:  snap.PendingAsync,
			Subscriptions: snap.Subscriptions,
			Frames:        snap.Connection.Frames,
			Forwarded:     snap.Forwarded,
			Dropped:       snap.Dropped,
		},
	}
}
