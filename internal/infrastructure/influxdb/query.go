package influxdb

import (
	"context"
	"fmt"
	"time"
)

// SolarSample is one decoded inverter sample from the solar measurement.
type SolarSample struct {
	Time          time.Time `json:"time"`
	PowerW        float64   `json:"power_w"`
	EnergyDayWh   float64   `json:"e_day_wh"`
	EnergyYearWh  float64   `json:"e_year_wh"`
	EnergyTotalWh float64   `json:"e_total_wh"`
}

// RecentSolarSamples returns solar samples from the last window, oldest first.
//
// The query pivots the stored fields back into one row per sample so
// callers get complete SolarSample values rather than per-field series.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - window: How far back to query (must be positive)
//
// Returns:
//   - []SolarSample: Samples in ascending time order (empty, not nil, when none)
//   - error: nil on success, otherwise the query error
func (c *Client) RecentSolarSamples(ctx context.Context, window time.Duration) ([]SolarSample, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	start := time.Now().Add(-window).UTC().Format(time.RFC3339)

	// The start literal is formatted above from a duration; the bucket comes
	// from config, not request input.
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`,
		c.cfg.Bucket, start, measurementSolar,
	)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	samples := []SolarSample{}
	for result.Next() {
		record := result.Record()
		samples = append(samples, SolarSample{
			Time:          record.Time(),
			PowerW:        floatValue(record.ValueByKey("power_w")),
			EnergyDayWh:   floatValue(record.ValueByKey("e_day_wh")),
			EnergyYearWh:  floatValue(record.ValueByKey("e_year_wh")),
			EnergyTotalWh: floatValue(record.ValueByKey("e_total_wh")),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return samples, nil
}

// floatValue coerces a Flux record value to float64, tolerating the
// integer types the client returns for whole numbers.
func floatValue(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return 0
	}
}
