// Package fetch wraps storage reads with transient-failure retries. Every
// read borrows a store from the pool; on a transient error the whole pool is
// refreshed before the retry so a wedged connection cannot poison later
// attempts.
package fetch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/filter"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

const (
	maxAttempts = 3
	retryPause  = 100 * time.Millisecond
)

// transientMarkers lists error-text fragments that indicate a connection or
// contention failure worth retrying. Anything else propagates immediately.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"database is locked",
	"sqlite_busy",
	"server has gone away",
	"bad connection",
}

// IsTransient reports whether an error looks like a recoverable connection
// or contention failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Fetcher reads entities through a store pool with retry on transient
// failures.
type Fetcher struct {
	pool *storage.Pool

	// sleep is replaced in tests to avoid real pauses.
	sleep func(time.Duration)
}

// New returns a fetcher over the given pool.
func New(pool *storage.Pool) (*Fetcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Fetcher{pool: pool, sleep: time.Sleep}, nil
}

// withRetry borrows a store and runs op, retrying transient failures after a
// pool refresh. Non-transient failures and context cancellation return
// immediately.
func (f *Fetcher) withRetry(ctx context.Context, label string, op func(storage.Store) error) error {
	if f == nil || f.pool == nil {
		return fmt.Errorf("fetcher is not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		store, err := f.pool.Borrow()
		if err != nil {
			lastErr = err
		} else {
			err = op(store)
			f.pool.Return(store)
			if err == nil {
				return nil
			}
			lastErr = err
		}

		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		log.Printf("%s attempt %d failed, refreshing pool: %v", label, attempt, lastErr)
		f.pool.Refresh()
		f.sleep(retryPause)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", label, maxAttempts, lastErr)
}

// Game fetches one game summary as seen by viewerID.
func (f *Fetcher) Game(ctx context.Context, id, viewerID string) (story.Game, error) {
	var game story.Game
	err := f.withRetry(ctx, "fetch game", func(store storage.Store) error {
		var opErr error
		game, opErr = store.GetGame(ctx, id, viewerID)
		return opErr
	})
	return game, err
}

// TextNode fetches one text node subtree as seen by viewerID.
func (f *Fetcher) TextNode(ctx context.Context, id, viewerID string) (story.TextNode, error) {
	var node story.TextNode
	err := f.withRetry(ctx, "fetch text node", func(store storage.Store) error {
		var opErr error
		node, opErr = store.GetTextNode(ctx, id, viewerID)
		return opErr
	})
	return node, err
}

// Notification fetches one notification, enforcing recipient privacy.
func (f *Fetcher) Notification(ctx context.Context, id, viewerID string) (story.Notification, error) {
	var notification story.Notification
	err := f.withRetry(ctx, "fetch notification", func(store storage.Store) error {
		var opErr error
		notification, opErr = store.GetNotification(ctx, id, viewerID)
		return opErr
	})
	return notification, err
}

// GamesSince fetches game summaries updated after since.
func (f *Fetcher) GamesSince(ctx context.Context, since time.Time, cond filter.SQLCondition, search string) ([]story.Game, error) {
	var games []story.Game
	err := f.withRetry(ctx, "fetch games", func(store storage.Store) error {
		var opErr error
		games, opErr = store.ListGamesSince(ctx, since, cond, search)
		return opErr
	})
	return games, err
}

// SearchTexts fetches text nodes under rootID matching term changed after
// since.
func (f *Fetcher) SearchTexts(ctx context.Context, rootID, term string, since time.Time) ([]story.TextNode, error) {
	var results []story.TextNode
	err := f.withRetry(ctx, "search texts", func(store storage.Store) error {
		var opErr error
		results, opErr = store.SearchTexts(ctx, rootID, term, since)
		return opErr
	})
	return results, err
}

// ActivitySnapshot fetches the platform activity summary.
func (f *Fetcher) ActivitySnapshot(ctx context.Context) (story.ActivitySnapshot, error) {
	var snapshot story.ActivitySnapshot
	err := f.withRetry(ctx, "fetch activity", func(store storage.Store) error {
		var opErr error
		snapshot, opErr = store.ActivitySnapshot(ctx)
		return opErr
	})
	return snapshot, err
}

// RootTextID fetches the root text node id recorded for a game.
func (f *Fetcher) RootTextID(ctx context.Context, gameID string) (string, error) {
	var rootID string
	err := f.withRetry(ctx, "fetch root text id", func(store storage.Store) error {
		var opErr error
		rootID, opErr = store.RootTextID(ctx, gameID)
		return opErr
	})
	return rootID, err
}

// EventsAfter fetches event-log rows past a cursor.
func (f *Fetcher) EventsAfter(ctx context.Context, after uint64) ([]event.Event, error) {
	var events []event.Event
	err := f.withRetry(ctx, "fetch events", func(store storage.Store) error {
		var opErr error
		events, opErr = store.ListEventsAfter(ctx, after)
		return opErr
	})
	return events, err
}
