// Package story defines the entities synchronized by the sync service.
//
// These are read-model views of the collaborative-writing domain: a game is
// a shared story, text nodes form its contribution tree, notifications are
// per-user inbox items, and the activity snapshot summarizes platform-wide
// presence. All of them are re-fetched from storage on every sync cycle;
// none is ever reconstructed from event payloads.
package story

import "time"

// Game is a read-model summary of one collaborative story.
//
// Tri-state boolean fields are pointers: nil means the storage layer did not
// record a value and the permission layer fills in the documented default.
type Game struct {
	// ID is the stable game identifier.
	ID string `json:"id"`
	// RootTextID is the id of the tree's root text node. It doubles as the
	// root aggregate id that scopes sync queries.
	RootTextID string `json:"root_text_id"`
	// OwnerID is the user who started the game.
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Genre   string `json:"genre,omitempty"`
	// Language is a BCP 47 tag ("en", "pt-BR").
	Language string `json:"language,omitempty"`
	// OpenForChanges reports whether new contributions are accepted.
	// Absent defaults to true.
	OpenForChanges *bool `json:"open_for_changes,omitempty"`
	// HasInvitation reports whether the viewer holds a pending invitation.
	// Absent defaults to false.
	HasInvitation *bool `json:"has_invitation,omitempty"`
	// HasContributed reports whether the viewer authored any node in this
	// tree. Absent defaults to false.
	HasContributed *bool `json:"has_contributed,omitempty"`
	// ClosedAt is set once the game has been closed.
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Viewer-relative permission flags, set by the permission layer.
	CanEdit    bool `json:"can_edit"`
	CanIterate bool `json:"can_iterate"`
	CanPublish bool `json:"can_publish"`
	CanDelete  bool `json:"can_delete"`
	CanAddNote bool `json:"can_add_note"`
}

// TextNode is one contribution in a game's story tree.
type TextNode struct {
	ID string `json:"id"`
	// GameID is the owning game.
	GameID string `json:"game_id"`
	// RootTextID is the root of the tree this node belongs to. For the root
	// node it equals ID.
	RootTextID string `json:"root_text_id"`
	// ParentID is empty for the root node. Parents are always created before
	// children, so parent ids strictly precede child ids in insertion order
	// and the tree is acyclic.
	ParentID string `json:"parent_id,omitempty"`
	AuthorID string `json:"author_id"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	// Draft reports whether the node is unpublished. Absent defaults to false.
	Draft *bool `json:"draft,omitempty"`
	// VoteCount is the current number of votes for this node.
	VoteCount int `json:"vote_count"`
	// IsWinner reports whether this node won its sibling vote. Absent
	// defaults to false.
	IsWinner *bool `json:"is_winner,omitempty"`
	// HasVoted reports whether the viewer voted for this node. Absent
	// defaults to false.
	HasVoted *bool `json:"has_voted,omitempty"`
	// Children holds the node's subtree when the fetch materialized it.
	Children  []*TextNode `json:"children,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	// Viewer-relative permission flags, set by the permission layer.
	CanEdit    bool `json:"can_edit"`
	CanIterate bool `json:"can_iterate"`
	CanPublish bool `json:"can_publish"`
	CanDelete  bool `json:"can_delete"`
	CanAddNote bool `json:"can_add_note"`
}

// Notification is one per-user inbox item.
type Notification struct {
	ID string `json:"id"`
	// RecipientID is the sole user allowed to observe this notification.
	RecipientID string `json:"recipient_id"`
	// Kind names the notification template ("vote.won", "game.invite", ...).
	Kind string `json:"kind"`
	// PayloadJSON holds advisory template context.
	PayloadJSON string     `json:"payload_json,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ActivitySnapshot summarizes platform-wide activity for the presence channel.
type ActivitySnapshot struct {
	OpenGames           int       `json:"open_games"`
	ActiveWriters       int       `json:"active_writers"`
	RecentContributions int       `json:"recent_contributions"`
	CapturedAt          time.Time `json:"captured_at"`
}
