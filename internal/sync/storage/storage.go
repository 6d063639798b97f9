// Package storage defines the persistence contracts for the sync service:
// the append-only event log, the read models behind catch-up, and the
// shared connection pool.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/filter"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden indicates the viewer may not observe the record.
	ErrForbidden = errors.New("record not visible to viewer")
)

// EventLog is the append-only, strictly ordered store of change records.
// Rows are never updated or deleted; ids are assigned monotonically on
// append and "id > cursor" is a complete definition of "new since last
// check".
type EventLog interface {
	// AppendEvent appends one event and returns it with ID and CreatedAt
	// assigned.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	// ListEventsAfter returns all events with id > after in ascending id
	// order, unscoped. Scope filtering happens in the catch-up service so
	// the cursor can advance past rows outside the viewer's scope.
	ListEventsAfter(ctx context.Context, after uint64) ([]event.Event, error)
	// LatestEventID returns the highest assigned event id, or zero.
	LatestEventID(ctx context.Context) (uint64, error)
}

// Reader exposes the per-entity fetches used by catch-up and by the push
// consumer's materialize-on-notify step. Every method is a pure read of
// current state.
type Reader interface {
	// GetGame returns one game summary with viewer-relative storage fields
	// (invitation, contribution) resolved for viewerID.
	GetGame(ctx context.Context, id, viewerID string) (story.Game, error)
	// ListGamesSince returns game summaries updated after since, optionally
	// narrowed by a filter condition and a title search term.
	ListGamesSince(ctx context.Context, since time.Time, cond filter.SQLCondition, search string) ([]story.Game, error)
	// GetTextNode returns one text node with its subtree materialized and
	// viewer-relative vote state resolved for viewerID.
	GetTextNode(ctx context.Context, id, viewerID string) (story.TextNode, error)
	// GetNotification returns one notification. It fails with ErrForbidden
	// when viewerID is not the recipient.
	GetNotification(ctx context.Context, id, viewerID string) (story.Notification, error)
	// SearchTexts returns text nodes under rootID matching term that changed
	// after since.
	SearchTexts(ctx context.Context, rootID, term string, since time.Time) ([]story.TextNode, error)
	// ActivitySnapshot returns the platform-wide activity summary.
	ActivitySnapshot(ctx context.Context) (story.ActivitySnapshot, error)
	// RootTextID returns the root text node id recorded for a game.
	RootTextID(ctx context.Context, gameID string) (string, error)
}

// Store is the full storage surface the pool hands out.
type Store interface {
	EventLog
	Reader
	// Ping verifies the underlying connection is healthy.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}
