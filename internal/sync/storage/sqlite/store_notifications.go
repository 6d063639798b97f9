package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// GetNotification returns one notification. Notifications are private to
// their recipient: any other viewer gets ErrForbidden.
func (s *Store) GetNotification(ctx context.Context, id, viewerID string) (story.Notification, error) {
	if err := ctx.Err(); err != nil {
		return story.Notification{}, err
	}
	if s == nil || s.sqlDB == nil {
		return story.Notification{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return story.Notification{}, fmt.Errorf("notification id is required")
	}

	var (
		notification story.Notification
		readAt       sql.NullInt64
		createdAt    int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, recipient_id, kind, payload_json, read_at, created_at
FROM notifications WHERE id = ?`, id)
	if err := row.Scan(
		&notification.ID,
		&notification.RecipientID,
		&notification.Kind,
		&notification.PayloadJSON,
		&readAt,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return story.Notification{}, storage.ErrNotFound
		}
		return story.Notification{}, fmt.Errorf("get notification: %w", err)
	}
	notification.ReadAt = fromMillisPtr(readAt)
	notification.CreatedAt = fromMillis(createdAt)

	if notification.RecipientID != viewerID {
		return story.Notification{}, storage.ErrForbidden
	}
	return notification, nil
}

// PutNotification persists one notification inbox row.
func (s *Store) PutNotification(ctx context.Context, notification story.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(notification.ID) == "" || strings.TrimSpace(notification.RecipientID) == "" {
		return fmt.Errorf("notification id and recipient are required")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	payload := notification.PayloadJSON
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO notifications (id, recipient_id, kind, payload_json, read_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  kind = excluded.kind,
  payload_json = excluded.payload_json,
  read_at = excluded.read_at`,
		notification.ID,
		notification.RecipientID,
		notification.Kind,
		payload,
		timeToNull(notification.ReadAt),
		toMillis(notification.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	return nil
}
