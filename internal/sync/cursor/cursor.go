// Package cursor provides the client-held sync cursor and its opaque token
// encoding.
//
// The cursor carries three independent watermarks: the last event-log id the
// client fully processed, and the last times the tree and game summaries were
// checked. They advance at different granularities and feed different
// queries, so they are tracked separately.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor is the client-held sync position. It is never persisted server-side.
type Cursor struct {
	// LastEventID is the highest event-log id the client has processed.
	LastEventID uint64 `json:"last_event_id"`
	// LastTreeCheck is when text-node changes were last evaluated.
	LastTreeCheck time.Time `json:"last_tree_check"`
	// LastGameCheck is when game summaries were last evaluated.
	LastGameCheck time.Time `json:"last_game_check"`
	// FilterHash invalidates tokens when the game filter changes.
	FilterHash string `json:"filter_hash,omitempty"`
}

// New builds a cursor for the given watermarks, binding it to the active
// filter expression.
func New(lastEventID uint64, treeCheck, gameCheck time.Time, filter string) Cursor {
	return Cursor{
		LastEventID:   lastEventID,
		LastTreeCheck: treeCheck.UTC(),
		LastGameCheck: gameCheck.UTC(),
		FilterHash:    HashFilter(filter),
	}
}

// Encode encodes a cursor to an opaque base64 token.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode decodes an opaque base64 token to a cursor.
// Returns an error if the token is invalid or malformed.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("empty token")
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode base64: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return c, nil
}

// HashFilter computes a short hash of the filter string for token validation.
// Returns empty string for an empty filter.
func HashFilter(filter string) string {
	if filter == "" {
		return ""
	}
	h := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(h[:8])
}

// ValidateFilterHash checks whether the cursor's filter hash matches the
// current filter. A changed filter invalidates the token: the client must
// restart from a fresh cursor or keep its discrete watermarks.
func ValidateFilterHash(c Cursor, currentFilter string) error {
	if c.FilterHash != HashFilter(currentFilter) {
		return fmt.Errorf("filter changed since cursor was created")
	}
	return nil
}
