package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-connect/internal/journal"
)

// handleListEvents returns paginated journal entries with optional filters.
//
// Query parameters:
//   - source: filter by source (corelink, solar, avr)
//   - slot: filter by link slot (public, profile)
//   - kind: filter by event kind (link_state, link_command, delivery_failure, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeInternalError(w, "event journal not configured")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Source: q.Get("source"),
		Slot:   q.Get("slot"),
		Kind:   q.Get("kind"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal events", "error", err)
		writeInternalError(w, "failed to list journal events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
