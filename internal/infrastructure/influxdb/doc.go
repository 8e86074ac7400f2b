// Package influxdb provides InfluxDB connectivity for Gray Logic Connect.
//
// It wraps the official influxdb-client-go v2 library with Gray Logic-specific
// patterns for connection management, telemetry writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Solar inverter telemetry (power and energy counters)
//   - Controller link stability events (connect/disconnect per slot)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "glconnect",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Write an inverter sample
//	client.WriteSolarSample(1850.0, 4200.0, 612000.0, 9834000.0)
//
//	// Read recent samples back for the history endpoint
//	samples, err := client.RecentSolarSamples(ctx, 24*time.Hour)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection, query, and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
