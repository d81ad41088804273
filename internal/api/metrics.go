package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/sensorbridge/internal/correlator"
	"github.com/nerrad567/sensorbridge/internal/router"
	"github.com/nerrad567/sensorbridge/internal/subscription"
	"github.com/nerrad567/sensorbridge/internal/supervisor"
)

// DBStats reports connection pool statistics. *sql.DB implements it.
type DBStats interface {
	Stats() sql.DBStats
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	WebSocket     WSMetrics           `json:"websocket"`
	MQTT          *MQTTMetrics        `json:"mqtt,omitempty"`
	Connection    *supervisor.Stats   `json:"connection,omitempty"`
	Devices       DeviceMetrics       `json:"devices"`
	Subscriptions *subscription.Stats `json:"subscriptions,omitempty"`
	Pending       *PendingMetrics     `json:"pending,omitempty"`
	Frames        *router.Stats       `json:"frames,omitempty"`
	Database      *DatabaseMetrics    `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total        int        `json:"total"`
	Registered   int        `json:"registered"`
	Deregistered int        `json:"deregistered"`
	Stale        int        `json:"stale"`
	Refreshes    int64      `json:"refreshes"`
	RefreshFails int64      `json:"refresh_failures"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`
}

// PendingMetrics contains async request correlation statistics.
type PendingMetrics struct {
	Outstanding int   `json:"outstanding"`
	Registered  int64 `json:"registered"`
	Resolved    int64 `json:"resolved"`
	Misses      int64 `json:"misses"`
	Duplicates  int64 `json:"duplicates"`
	Expired     int64 `json:"expired"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns counters from every configured component.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if s.connection != nil {
		stats := s.connection.GetStats()
		metrics.Connection = &stats
	}

	regStats := s.devices.GetStats()
	metrics.Devices = DeviceMetrics{
		Total:        regStats.Devices,
		Registered:   regStats.Registered,
		Deregistered: regStats.Deregistered,
		Stale:        regStats.Stale,
		Refreshes:    regStats.Refreshes,
		RefreshFails: regStats.RefreshFails,
	}
	if !regStats.LastRefresh.IsZero() {
		last := regStats.LastRefresh
		metrics.Devices.LastRefresh = &last
	}

	if s.subscriptions != nil {
		stats := s.subscriptions.GetStats()
		metrics.Subscriptions = &stats
	}

	if s.pending != nil {
		metrics.Pending = pendingMetrics(s.pending.Len(), s.pending.Stats())
	}

	if s.frames != nil {
		stats := s.frames.GetStats()
		metrics.Frames = &stats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func pendingMetrics(outstanding int, st correlator.Stats) *PendingMetrics {
	return &PendingMetrics{
		Outstanding: outstanding,
		Registered:  st.Registered,
		Resolved:    st.Resolved,
		Misses:      st.Misses,
		Duplicates:  st.Duplicates,
		Expired:     st.Expired,
	}
}
