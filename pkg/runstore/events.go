package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventCategory groups events by severity.
type EventCategory string

const (
	EventCategoryInfo    EventCategory = "info"
	EventCategoryWarning EventCategory = "warning"
	EventCategoryError   EventCategory = "error"
)

// EventType identifies specific event types.
type EventType string

const (
	EventTypeRunStarted        EventType = "run_started"
	EventTypeRunCompleted      EventType = "run_completed"
	EventTypeRunFailed         EventType = "run_failed"
	EventTypeCheckpointSaved   EventType = "checkpoint_saved"
	EventTypeCheckpointRestore EventType = "checkpoint_restored"
	EventTypeUploadFailed      EventType = "upload_failed"
)

// RunEvent is a diagnostic event attached to a run.
type RunEvent struct {
	EventID       string
	RunID         string
	OccurredAt    time.Time
	EventType     EventType
	EventCategory EventCategory
	Detail        *string
}

// RecordRunEvent records an event for a run. EventID and OccurredAt are
// filled in when zero.
func RecordRunEvent(ctx context.Context, db *sql.DB, event RunEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO run_events
		 (event_id, run_id, occurred_at, event_type, event_category, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, formatTime(event.OccurredAt),
		string(event.EventType), string(event.EventCategory), event.Detail)
	if err != nil {
		return fmt.Errorf("record run event: %w", err)
	}
	return nil
}

// ListRunEvents retrieves events for a run, oldest first. A nil category
// lists every event.
func ListRunEvents(ctx context.Context, db *sql.DB, runID string, category *EventCategory) ([]RunEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT event_id, run_id, occurred_at, event_type, event_category, detail
		 FROM run_events WHERE run_id = ?`
	args := []any{runID}
	if category != nil {
		query += ` AND event_category = ?`
		args = append(args, string(*category))
	}
	query += ` ORDER BY occurred_at ASC, event_id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var occurredAt, eventType, category string
		var detail sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.RunID, &occurredAt, &eventType, &category, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		t, err := parseTime(occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		ev.OccurredAt = t
		ev.EventType = EventType(eventType)
		ev.EventCategory = EventCategory(category)
		if detail.Valid {
			d := detail.String
			ev.Detail = &d
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return events, nil
}

// StringPtr returns a pointer to s, for RunEvent.Detail.
func StringPtr(s string) *string {
	return &s
}
