package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/bridges/avr"
	"github.com/nerrad567/gray-logic-connect/internal/bridges/solar"
)

// StatusResponse is the complete gateway status document.
type StatusResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeStatus  `json:"runtime"`
	Corelink      CorelinkStatus `json:"corelink"`
	WebSocket     WSStatus       `json:"websocket"`
	Bus           *BusStatus     `json:"bus,omitempty"`
	Solar         *solar.Status  `json:"solar,omitempty"`
	AVR           *avr.Status    `json:"avr,omitempty"`
	Telemetry     *InfluxStatus  `json:"telemetry,omitempty"`
	Database      *DBStatus      `json:"database,omitempty"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// CorelinkStatus describes both controller link slots.
//
// States is the non-blocking transport snapshot; Alive is the full liveness
// check (session up, subscription confirmed, transport connected), which may
// take up to the bounded handshake wait per slot.
type CorelinkStatus struct {
	States   map[string]string        `json:"states"`
	Alive    map[string]bool          `json:"alive"`
	Counters corelinkCountersResponse `json:"counters"`
}

// corelinkCountersResponse mirrors the bridge's cumulative counters.
type corelinkCountersResponse struct {
	RxMessages       uint64 `json:"rx_messages"`
	TxMessages       uint64 `json:"tx_messages"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	StateChanges     uint64 `json:"state_changes"`
}

// WSStatus contains WebSocket hub statistics.
type WSStatus struct {
	ConnectedClients int `json:"connected_clients"`
}

// BusStatus contains local bus client statistics.
type BusStatus struct {
	Connected bool `json:"connected"`
}

// InfluxStatus contains telemetry store statistics.
type InfluxStatus struct {
	Connected bool `json:"connected"`
}

// DBStatus contains journal database connection pool statistics.
type DBStatus struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleStatus returns the full gateway status: runtime figures, both link
// slots, and whichever optional subsystems are wired.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	counters := s.link.Counters()

	status := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStatus{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Corelink: CorelinkStatus{
			States: s.link.SlotStates(),
			Alive:  s.link.SlotLiveness(),
			Counters: corelinkCountersResponse{
				RxMessages:       counters.RxMessages,
				TxMessages:       counters.TxMessages,
				DeliveryFailures: counters.DeliveryFailures,
				StateChanges:     counters.StateChanges,
			},
		},
		WebSocket: WSStatus{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	// Bus connectivity (if wired)
	if s.bus != nil {
		status.Bus = &BusStatus{Connected: s.bus.IsConnected()}
	}

	// Solar poller (if enabled)
	if s.solar != nil {
		solarStatus := s.solar.Status()
		status.Solar = &solarStatus
	}

	// AVR serial bridge (if enabled)
	if s.avr != nil {
		avrStatus := s.avr.Status()
		status.AVR = &avrStatus
	}

	// Telemetry store (if enabled)
	if s.influx != nil {
		status.Telemetry = &InfluxStatus{Connected: s.influx.IsConnected()}
	}

	// Journal database pool stats (if wired)
	if s.db != nil {
		dbStats := s.db.Stats()
		status.Database = &DBStatus{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}
