package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/event"
)

// AppendEvent appends one event to the log and returns it with the id and
// creation timestamp assigned. The id comes from AUTOINCREMENT, so the log
// order is total and monotonic across concurrent writers.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if !evt.Type.IsValid() {
		return event.Event{}, fmt.Errorf("event type is required")
	}
	if strings.TrimSpace(string(evt.RelatedTable)) == "" || strings.TrimSpace(evt.RelatedID) == "" {
		return event.Event{}, fmt.Errorf("related table and id are required")
	}

	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	evt.CreatedAt = evt.CreatedAt.UTC().Truncate(time.Millisecond)

	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	// Rows live forever, so a payload that does not decode must never land.
	if _, err := event.ParsePayload(payload); err != nil {
		return event.Event{}, fmt.Errorf("validate payload: %w", err)
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO events (event_type, related_table, related_id, root_id, writer_id, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(evt.Type),
		string(evt.RelatedTable),
		evt.RelatedID,
		evt.RootID,
		evt.WriterID,
		string(payload),
		toMillis(evt.CreatedAt),
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("read event id: %w", err)
	}
	evt.ID = uint64(id)
	evt.PayloadJSON = payload
	return evt, nil
}

// ListEventsAfter returns all events with id > after in ascending id order.
// No scope filtering happens here: the catch-up service filters in memory so
// the cursor still advances past rows outside the viewer's scope.
func (s *Store) ListEventsAfter(ctx context.Context, after uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, event_type, related_table, related_id, root_id, writer_id, payload_json, created_at
FROM events WHERE id > ? ORDER BY id ASC`, int64(after))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			id        int64
			evtType   string
			table     string
			relatedID string
			rootID    string
			writerID  string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&id, &evtType, &table, &relatedID, &rootID, &writerID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event.Event{
			ID:           uint64(id),
			Type:         event.Type(evtType),
			RelatedTable: event.Table(table),
			RelatedID:    relatedID,
			RootID:       rootID,
			WriterID:     writerID,
			PayloadJSON:  []byte(payload),
			CreatedAt:    fromMillis(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestEventID returns the highest assigned event id, or zero for an empty log.
func (s *Store) LatestEventID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var latest int64
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM events").Scan(&latest); err != nil {
		return 0, fmt.Errorf("latest event id: %w", err)
	}
	return uint64(latest), nil
}
