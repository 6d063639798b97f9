// Package event defines the change-notification events distributed by the
// sync service and the static registry describing how each event type fans
// out into log rows.
//
// The event log is a change index, not a value store: consumers treat rows
// purely as "entity X changed" triggers and always re-fetch current state.
package event

import (
	"strings"
	"time"
)

// Type identifies the type of a sync event. The set of types is closed;
// every type has exactly one Definition in the registry.
type Type string

// Text events.
const (
	// TypeRootPublished records publishing a root text, which starts a game.
	TypeRootPublished Type = "text.root_published"
	// TypeContribPublished records publishing a contribution under an
	// existing tree.
	TypeContribPublished Type = "text.contrib_published"
	// TypeNoteAdded records attaching a note to a text node.
	TypeNoteAdded Type = "text.note_added"
	// TypeTextVoted records a vote cast on a text node.
	TypeTextVoted Type = "text.voted"
)

// Game events.
const (
	// TypeGameClosed records a game being closed for changes.
	TypeGameClosed Type = "game.closed"
)

// Notification events.
const (
	// TypeNotificationCreated records a new inbox item for one recipient.
	TypeNotificationCreated Type = "notification.created"
)

// Table identifies which read model an event row points at.
type Table string

const (
	// TableGames marks rows that invalidate a game summary.
	TableGames Table = "games"
	// TableTexts marks rows that invalidate a text node.
	TableTexts Table = "texts"
	// TableNotifications marks rows that invalidate one user's inbox.
	TableNotifications Table = "notifications"
)

// Event is one immutable row of the sync event log.
type Event struct {
	// ID is the monotonically increasing log position, assigned by storage
	// on append. It is the sole ordering key and the client cursor value.
	ID uint64
	// Type identifies the kind of change.
	Type Type
	// RelatedTable and RelatedID identify the entity that changed.
	RelatedTable Table
	RelatedID    string
	// RootID is the root text node of the tree this change belongs to.
	// Empty for changes that are not tree-scoped (notifications).
	RootID string
	// WriterID is the actor who caused the change. For notification rows it
	// is the sole intended recipient. Empty for system-driven events.
	WriterID string
	// PayloadJSON holds small advisory context (title, action). Consumers
	// never trust it as the source of truth.
	PayloadJSON []byte
	// CreatedAt is the insertion timestamp, informational only.
	CreatedAt time.Time
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type ("text", "game").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
