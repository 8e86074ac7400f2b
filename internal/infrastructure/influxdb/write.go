package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names used by the gateway.
const (
	// measurementSolar holds inverter power-flow samples.
	measurementSolar = "solar"

	// measurementLinkEvents holds controller link state transitions.
	measurementLinkEvents = "link_events"
)

// WriteSolarSample writes one inverter power-flow sample.
//
// This is the primary method for recording solar telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - powerW: Instantaneous generation in watts
//   - energyDayWh: Energy generated today in watt-hours
//   - energyYearWh: Energy generated this year in watt-hours
//   - energyTotalWh: Lifetime energy in watt-hours
//
// Example:
//
//	client.WriteSolarSample(3250.5, 12400, 2.1e6, 1.8e7)
func (c *Client) WriteSolarSample(powerW, energyDayWh, energyYearWh, energyTotalWh float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementSolar,
		map[string]string{},
		map[string]interface{}{
			"power_w":    powerW,
			"e_day_wh":   energyDayWh,
			"e_year_wh":  energyYearWh,
			"e_total_wh": energyTotalWh,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLinkEvent records a controller link state transition.
//
// Used for tracking link stability over time (disconnect frequency,
// time-to-reconnect). Slot is a low-cardinality tag; the state travels
// as a field alongside a boolean for simple aggregation.
//
// Parameters:
//   - slot: The link slot ("public" or "profile")
//   - state: The new link state ("disconnected", "connecting", "connected")
func (c *Client) WriteLinkEvent(slot string, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementLinkEvents,
		map[string]string{
			"slot": slot,
		},
		map[string]interface{}{
			"state":     state,
			"connected": state == "connected",
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "gateway-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
