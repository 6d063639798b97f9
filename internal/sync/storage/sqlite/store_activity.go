package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/story"
)

// activityWindow bounds what counts as "recent" for the presence snapshot.
const activityWindow = 24 * time.Hour

// ActivitySnapshot returns the platform-wide activity summary backing the
// users:activity channel.
func (s *Store) ActivitySnapshot(ctx context.Context) (story.ActivitySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return story.ActivitySnapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return story.ActivitySnapshot{}, fmt.Errorf("storage is not configured")
	}

	now := time.Now().UTC()
	windowStart := toMillis(now.Add(-activityWindow))

	var snapshot story.ActivitySnapshot
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM games WHERE closed_at IS NULL AND (open_for_changes IS NULL OR open_for_changes = 1)),
  (SELECT COUNT(DISTINCT author_id) FROM texts WHERE created_at > ?),
  (SELECT COUNT(*) FROM texts WHERE created_at > ?)`,
		windowStart, windowStart)
	if err := row.Scan(&snapshot.OpenGames, &snapshot.ActiveWriters, &snapshot.RecentContributions); err != nil {
		return story.ActivitySnapshot{}, fmt.Errorf("activity snapshot: %w", err)
	}
	snapshot.CapturedAt = now
	return snapshot, nil
}
