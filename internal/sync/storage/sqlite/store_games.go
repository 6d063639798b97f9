package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/filter"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

const gameColumns = "id, root_text_id, owner_id, title, genre, language, open_for_changes, closed_at, created_at, updated_at"

// GetGame returns one game summary with the viewer-relative storage fields
// (invitation, contribution) resolved when viewerID is set.
func (s *Store) GetGame(ctx context.Context, id, viewerID string) (story.Game, error) {
	if err := ctx.Err(); err != nil {
		return story.Game{}, err
	}
	if s == nil || s.sqlDB == nil {
		return story.Game{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return story.Game{}, fmt.Errorf("game id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+gameColumns+" FROM games WHERE id = ?", id)
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return story.Game{}, storage.ErrNotFound
		}
		return story.Game{}, fmt.Errorf("get game: %w", err)
	}

	if strings.TrimSpace(viewerID) != "" {
		if err := s.resolveViewerGameFields(ctx, &game, viewerID); err != nil {
			return story.Game{}, err
		}
	}
	return game, nil
}

func (s *Store) resolveViewerGameFields(ctx context.Context, game *story.Game, viewerID string) error {
	var invited, contributed int
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT
  EXISTS(SELECT 1 FROM invitations WHERE game_id = ? AND user_id = ?),
  EXISTS(SELECT 1 FROM texts WHERE game_id = ? AND author_id = ?)`,
		game.ID, viewerID, game.ID, viewerID)
	if err := row.Scan(&invited, &contributed); err != nil {
		return fmt.Errorf("resolve viewer game fields: %w", err)
	}
	hasInvitation := invited != 0
	hasContributed := contributed != 0
	game.HasInvitation = &hasInvitation
	game.HasContributed = &hasContributed
	return nil
}

// ListGamesSince returns game summaries updated after since, optionally
// narrowed by a translated filter condition and a title search term.
func (s *Store) ListGamesSince(ctx context.Context, since time.Time, cond filter.SQLCondition, search string) ([]story.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := "SELECT " + gameColumns + " FROM games WHERE updated_at > ?"
	params := []any{toMillis(since)}
	if !cond.IsEmpty() {
		query += " AND (" + cond.Clause + ")"
		params = append(params, cond.Params...)
	}
	if term := strings.TrimSpace(search); term != "" {
		query += " AND title LIKE ?"
		params = append(params, "%"+term+"%")
	}
	query += " ORDER BY updated_at ASC, id ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var games []story.Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return games, nil
}

// RootTextID returns the root text node id recorded for a game.
func (s *Store) RootTextID(ctx context.Context, gameID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(gameID) == "" {
		return "", fmt.Errorf("game id is required")
	}

	var rootID string
	err := s.sqlDB.QueryRowContext(ctx, "SELECT root_text_id FROM games WHERE id = ?", gameID).Scan(&rootID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("root text id: %w", err)
	}
	return rootID, nil
}

// PutGame persists one game summary row. The summary is maintained by the
// out-of-scope CRUD services; the sync service writes it only in tests and
// seeds.
func (s *Store) PutGame(ctx context.Context, game story.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(game.ID) == "" || strings.TrimSpace(game.RootTextID) == "" {
		return fmt.Errorf("game id and root text id are required")
	}
	if game.CreatedAt.IsZero() {
		game.CreatedAt = time.Now().UTC()
	}
	if game.UpdatedAt.IsZero() {
		game.UpdatedAt = game.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO games (id, root_text_id, owner_id, title, genre, language, open_for_changes, closed_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  genre = excluded.genre,
  language = excluded.language,
  open_for_changes = excluded.open_for_changes,
  closed_at = excluded.closed_at,
  updated_at = excluded.updated_at`,
		game.ID,
		game.RootTextID,
		game.OwnerID,
		game.Title,
		game.Genre,
		game.Language,
		boolToNull(game.OpenForChanges),
		timeToNull(game.ClosedAt),
		toMillis(game.CreatedAt),
		toMillis(game.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put game: %w", err)
	}
	return nil
}

// PutInvitation records a pending invitation for one user.
func (s *Store) PutInvitation(ctx context.Context, gameID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT OR IGNORE INTO invitations (game_id, user_id, created_at) VALUES (?, ?, ?)",
		gameID, userID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("put invitation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (story.Game, error) {
	var (
		game           story.Game
		openForChanges sql.NullInt64
		closedAt       sql.NullInt64
		createdAt      int64
		updatedAt      int64
	)
	if err := row.Scan(
		&game.ID,
		&game.RootTextID,
		&game.OwnerID,
		&game.Title,
		&game.Genre,
		&game.Language,
		&openForChanges,
		&closedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return story.Game{}, err
	}
	game.OpenForChanges = boolPtr(openForChanges)
	game.ClosedAt = fromMillisPtr(closedAt)
	game.CreatedAt = fromMillis(createdAt)
	game.UpdatedAt = fromMillis(updatedAt)
	return game, nil
}
