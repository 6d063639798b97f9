package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// GetTextNode returns one text node with its subtree materialized and the
// viewer's vote state resolved when viewerID is set.
func (s *Store) GetTextNode(ctx context.Context, id, viewerID string) (story.TextNode, error) {
	if err := ctx.Err(); err != nil {
		return story.TextNode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return story.TextNode{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return story.TextNode{}, fmt.Errorf("text id is required")
	}

	var rootID string
	err := s.sqlDB.QueryRowContext(ctx, "SELECT root_text_id FROM texts WHERE id = ?", id).Scan(&rootID)
	if err != nil {
		if err == sql.ErrNoRows {
			return story.TextNode{}, storage.ErrNotFound
		}
		return story.TextNode{}, fmt.Errorf("get text node: %w", err)
	}

	nodes, err := s.loadTree(ctx, rootID, viewerID)
	if err != nil {
		return story.TextNode{}, err
	}

	// Attach children. Parents always precede children in creation order, so
	// a single pass over the creation-ordered slice links the whole tree.
	byID := make(map[string]*story.TextNode, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}
	for _, node := range nodes {
		if node.ParentID == "" {
			continue
		}
		if parent, ok := byID[node.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}

	requested, ok := byID[id]
	if !ok {
		return story.TextNode{}, storage.ErrNotFound
	}
	return *requested, nil
}

func (s *Store) loadTree(ctx context.Context, rootID, viewerID string) ([]*story.TextNode, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT t.id, t.game_id, t.root_text_id, t.parent_id, t.author_id, t.title, t.body,
       t.draft, t.is_winner, t.created_at, t.updated_at,
       (SELECT COUNT(*) FROM votes v WHERE v.text_id = t.id) AS vote_count,
       CASE WHEN ? = '' THEN NULL
            ELSE EXISTS(SELECT 1 FROM votes v WHERE v.text_id = t.id AND v.voter_id = ?)
       END AS has_voted
FROM texts t
WHERE t.root_text_id = ?
ORDER BY t.created_at ASC, t.id ASC`, viewerID, viewerID, rootID)
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	defer rows.Close()

	var nodes []*story.TextNode
	for rows.Next() {
		node, err := scanTextNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan text node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate text nodes: %w", err)
	}
	return nodes, nil
}

// SearchTexts returns text nodes under rootID whose title or body match term
// and that changed after since. Used to re-evaluate an active search against
// only the newly touched part of the tree.
func (s *Store) SearchTexts(ctx context.Context, rootID, term string, since time.Time) ([]story.TextNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(rootID) == "" {
		return nil, fmt.Errorf("root text id is required")
	}
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}

	pattern := "%" + strings.TrimSpace(term) + "%"
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT t.id, t.game_id, t.root_text_id, t.parent_id, t.author_id, t.title, t.body,
       t.draft, t.is_winner, t.created_at, t.updated_at,
       (SELECT COUNT(*) FROM votes v WHERE v.text_id = t.id) AS vote_count,
       NULL AS has_voted
FROM texts t
WHERE t.root_text_id = ? AND t.updated_at > ? AND (t.title LIKE ? OR t.body LIKE ?)
ORDER BY t.updated_at ASC, t.id ASC`, rootID, toMillis(since), pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search texts: %w", err)
	}
	defer rows.Close()

	var results []story.TextNode
	for rows.Next() {
		node, err := scanTextNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}

// PutTextNode persists one text node row. Maintained by the out-of-scope
// CRUD services; written here only by tests and seeds.
func (s *Store) PutTextNode(ctx context.Context, node story.TextNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(node.ID) == "" || strings.TrimSpace(node.RootTextID) == "" {
		return fmt.Errorf("text id and root text id are required")
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO texts (id, game_id, root_text_id, parent_id, author_id, title, body, draft, is_winner, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  body = excluded.body,
  draft = excluded.draft,
  is_winner = excluded.is_winner,
  updated_at = excluded.updated_at`,
		node.ID,
		node.GameID,
		node.RootTextID,
		node.ParentID,
		node.AuthorID,
		node.Title,
		node.Body,
		boolToNull(node.Draft),
		boolToNull(node.IsWinner),
		toMillis(node.CreatedAt),
		toMillis(node.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put text node: %w", err)
	}
	return nil
}

// PutVote records one vote for a text node.
func (s *Store) PutVote(ctx context.Context, textID, voterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT OR IGNORE INTO votes (text_id, voter_id, created_at) VALUES (?, ?, ?)",
		textID, voterID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("put vote: %w", err)
	}
	return nil
}

func scanTextNode(row rowScanner) (*story.TextNode, error) {
	var (
		node      story.TextNode
		draft     sql.NullInt64
		isWinner  sql.NullInt64
		createdAt int64
		updatedAt int64
		voteCount int
		hasVoted  sql.NullInt64
	)
	if err := row.Scan(
		&node.ID,
		&node.GameID,
		&node.RootTextID,
		&node.ParentID,
		&node.AuthorID,
		&node.Title,
		&node.Body,
		&draft,
		&isWinner,
		&createdAt,
		&updatedAt,
		&voteCount,
		&hasVoted,
	); err != nil {
		return nil, err
	}
	node.Draft = boolPtr(draft)
	node.IsWinner = boolPtr(isWinner)
	node.HasVoted = boolPtr(hasVoted)
	node.VoteCount = voteCount
	node.CreatedAt = fromMillis(createdAt)
	node.UpdatedAt = fromMillis(updatedAt)
	return &node, nil
}
