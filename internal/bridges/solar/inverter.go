package solar

import (
	"encoding/json"
	"fmt"
	"time"
)

// powerFlowDocument mirrors the inverter's realtime power-flow response.
// Only the inverter nodes are read; the site section is ignored.
type powerFlowDocument struct {
	Body struct {
		Data struct {
			Inverters map[string]inverterNode `json:"Inverters"`
		} `json:"Data"`
	} `json:"Body"`
}

// inverterNode is one inverter entry in the power-flow document. The field
// names are fixed by the device firmware: DT is the device type code, P the
// instantaneous power in watts, and the E_* counters are daily, yearly and
// lifetime energy in watt-hours.
type inverterNode struct {
	DT     float64 `json:"DT"`
	P      float64 `json:"P"`
	EDay   float64 `json:"E_Day"`
	EYear  float64 `json:"E_Year"`
	ETotal float64 `json:"E_Total"`
}

// Snapshot is one aggregated site reading, published retained to the bus
// and served by the status API.
type Snapshot struct {
	PowerW        float64   `json:"power_w"`
	EnergyDayWh   float64   `json:"e_day_wh"`
	EnergyYearWh  float64   `json:"e_year_wh"`
	EnergyTotalWh float64   `json:"e_total_wh"`
	Inverters     int       `json:"inverters"`
	Timestamp     time.Time `json:"timestamp"`
}

// decodeSnapshot parses a power-flow document and sums the inverter nodes
// into one site-level snapshot. Multi-inverter sites report additive power
// and energy, so summing matches what the site meter would read.
func decodeSnapshot(data []byte, at time.Time) (Snapshot, error) {
	var doc powerFlowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode power-flow document: %w", err)
	}

	inverters := doc.Body.Data.Inverters
	if len(inverters) == 0 {
		return Snapshot{}, fmt.Errorf("power-flow document has no inverters")
	}

	snap := Snapshot{
		Inverters: len(inverters),
		Timestamp: at.UTC(),
	}
	for _, inv := range inverters {
		snap.PowerW += inv.P
		snap.EnergyDayWh += inv.EDay
		snap.EnergyYearWh += inv.EYear
		snap.EnergyTotalWh += inv.ETotal
	}

	return snap, nil
}
