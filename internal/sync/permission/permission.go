// Package permission finalizes fetched entities for one viewer: it resolves
// the viewer's capabilities and normalizes nullable storage fields to their
// presentation defaults. Every entity leaving the sync service passes
// through here exactly once.
package permission

import (
	"fmt"

	"github.com/louisbranch/storytree/internal/sync/domain/story"
)

// defaultMaxDepth caps the tree walk. Story trees are shallow in practice;
// the cap guards against cyclic parent links in corrupted data.
const defaultMaxDepth = 64

// Aggregator resolves viewer capabilities on entities. The concrete policy
// lives with the game rules; the sync service only requires that aggregation
// is pure and viewer-scoped.
type Aggregator interface {
	AggregateGame(game *story.Game, viewerID string)
	AggregateText(node *story.TextNode, viewerID string)
}

// Service applies permission aggregation and normalization.
type Service struct {
	aggregator Aggregator
	maxDepth   int
}

// Option configures a Service.
type Option func(*Service)

// WithMaxDepth overrides the tree walk depth cap.
func WithMaxDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// New wires a permission service. aggregator may be nil when no capability
// policy applies; normalization still runs.
func New(aggregator Aggregator, opts ...Option) *Service {
	s := &Service{aggregator: aggregator, maxDepth: defaultMaxDepth}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyGame finalizes one game summary for viewerID.
func (s *Service) ApplyGame(game *story.Game, viewerID string) {
	if s == nil || game == nil {
		return
	}
	normalizeGame(game)
	if s.aggregator != nil {
		s.aggregator.AggregateGame(game, viewerID)
	}
}

// ApplyGames finalizes a batch of game summaries for viewerID.
func (s *Service) ApplyGames(games []story.Game, viewerID string) {
	for i := range games {
		s.ApplyGame(&games[i], viewerID)
	}
}

// ApplyText finalizes a text node and its whole subtree for viewerID. The
// walk is iterative with an explicit stack and fails when the tree exceeds
// the depth cap.
func (s *Service) ApplyText(node *story.TextNode, viewerID string) error {
	if s == nil || node == nil {
		return nil
	}

	type frame struct {
		node  *story.TextNode
		depth int
	}
	stack := []frame{{node: node, depth: 1}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.depth > s.maxDepth {
			return fmt.Errorf("text tree exceeds depth limit %d", s.maxDepth)
		}

		normalizeText(current.node)
		if s.aggregator != nil {
			s.aggregator.AggregateText(current.node, viewerID)
		}

		for _, child := range current.node.Children {
			if child == nil {
				continue
			}
			stack = append(stack, frame{node: child, depth: current.depth + 1})
		}
	}
	return nil
}

// normalizeGame replaces nullable storage fields with presentation defaults.
// A game with no recorded open flag is open.
func normalizeGame(game *story.Game) {
	game.OpenForChanges = defaultBool(game.OpenForChanges, true)
	game.HasInvitation = defaultBool(game.HasInvitation, false)
	game.HasContributed = defaultBool(game.HasContributed, false)
	if game.CreatedAt.IsZero() {
		game.CreatedAt = game.UpdatedAt
	}
}

func normalizeText(node *story.TextNode) {
	node.Draft = defaultBool(node.Draft, false)
	node.IsWinner = defaultBool(node.IsWinner, false)
	node.HasVoted = defaultBool(node.HasVoted, false)
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}
}

func defaultBool(value *bool, fallback bool) *bool {
	if value != nil {
		return value
	}
	v := fallback
	return &v
}
