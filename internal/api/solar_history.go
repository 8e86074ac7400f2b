package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	// defaultHistoryWindow is the lookback used when no window is given.
	defaultHistoryWindow = 24 * time.Hour

	// maxHistoryWindow caps the lookback to keep Flux queries bounded.
	maxHistoryWindow = 7 * 24 * time.Hour
)

// handleSolarHistory returns recent solar production samples from the
// telemetry store.
//
// Query parameters:
//   - window: lookback duration (default 24h, max 7d). Accepts Go duration
//     syntax plus d/w suffixes, e.g. 90m, 12h, 2d.
func (s *Server) handleSolarHistory(w http.ResponseWriter, r *http.Request) {
	if s.influx == nil || !s.influx.IsConnected() {
		writeInternalError(w, "telemetry store not available")
		return
	}

	window, err := parseWindowParam(r.URL.Query().Get("window"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	samples, err := s.influx.RecentSolarSamples(r.Context(), window)
	if err != nil {
		s.logger.Error("solar history query failed", "error", err, "window", window.String())
		writeInternalError(w, "failed to query solar history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window":  window.String(),
		"samples": samples,
	})
}

// parseWindowParam parses the lookback window with bounds enforcement.
func parseWindowParam(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultHistoryWindow, nil
	}

	window, err := time.ParseDuration(raw)
	if err != nil {
		window, err = parseExtendedDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid window")
		}
	}

	if window <= 0 {
		return 0, fmt.Errorf("invalid window")
	}
	if window > maxHistoryWindow {
		return 0, fmt.Errorf("window exceeds maximum")
	}

	return window, nil
}

// parseExtendedDuration handles day/week suffixes not supported by
// time.ParseDuration.
func parseExtendedDuration(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid duration")
	}

	number := raw[:len(raw)-1]
	unit := raw[len(raw)-1]

	multiplier, ok := map[byte]time.Duration{
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration")
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid duration")
	}

	return time.Duration(value * float64(multiplier)), nil
}
