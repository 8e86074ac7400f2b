// Package journal provides access to the link_events table for
// recording and querying notable gateway activity.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event represents a single journal entry. Slot is empty for events
// that are not tied to a link slot (solar poller faults, AVR reconnects).
type Event struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Slot      string         `json:"slot,omitempty"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which events to return.
type Filter struct {
	Source string // optional: filter by source (corelink, solar, avr)
	Slot   string // optional: filter by slot (public, profile)
	Kind   string // optional: filter by kind (link_state, link_command, delivery_failure, ...)
	Limit  int    // default 50, max 200
	Offset int    // pagination offset
}

// ListResult contains the paginated journal results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for journal operations.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository reads and writes journal events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new journal event. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if event.Detail != nil {
		b, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshalling event detail: %w", err)
		}
		s := string(b)
		detailJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO link_events (id, source, slot, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Source,
		nullableString(event.Slot),
		event.Kind, detailJSON,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}

	return nil
}

// RecordEvent is a convenience wrapper around Create for callers that only
// carry the event fields. It satisfies the recorder interfaces the bridge
// packages accept.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, source, slot, kind string, detail map[string]any) error {
	return r.Create(ctx, &Event{
		Source: source,
		Slot:   slot,
		Kind:   kind,
		Detail: detail,
	})
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns journal events matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for journal queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Slot != "" {
		conditions = append(conditions, "slot = ?")
		args = append(args, filter.Slot)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	// WHERE clause is built from parameterised conditions (? placeholders) — no user input in SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM link_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal events: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, source, slot, kind, detail, created_at FROM link_events %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var slot, detailJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&event.ID, &event.Source, &slot,
			&event.Kind, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal event: %w", err)
		}

		if slot.Valid {
			event.Slot = slot.String
		}
		if detailJSON.Valid && detailJSON.String != "" {
			var detail map[string]any
			if json.Unmarshal([]byte(detailJSON.String), &detail) == nil {
				event.Detail = detail
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05Z", createdAt)
			if err != nil {
				return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
			}
		}
		event.CreatedAt = t

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
