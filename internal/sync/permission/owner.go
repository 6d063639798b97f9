package permission

import "github.com/louisbranch/storytree/internal/sync/domain/story"

// OwnerAggregator is the default capability policy: ownership and authorship
// grant mutation rights, openness grants iteration.
type OwnerAggregator struct{}

// AggregateGame resolves game capabilities for viewerID.
func (OwnerAggregator) AggregateGame(game *story.Game, viewerID string) {
	if game == nil || viewerID == "" {
		return
	}
	isOwner := game.OwnerID == viewerID
	open := game.OpenForChanges != nil && *game.OpenForChanges && game.ClosedAt == nil

	game.CanEdit = isOwner
	game.CanDelete = isOwner
	game.CanPublish = isOwner
	game.CanIterate = open && !isOwner
	game.CanAddNote = open
}

// AggregateText resolves text node capabilities for viewerID. Draft nodes
// are mutable only by their author.
func (OwnerAggregator) AggregateText(node *story.TextNode, viewerID string) {
	if node == nil || viewerID == "" {
		return
	}
	isAuthor := node.AuthorID == viewerID
	draft := node.Draft != nil && *node.Draft

	node.CanEdit = isAuthor && draft
	node.CanDelete = isAuthor && draft
	node.CanPublish = isAuthor && draft
	node.CanIterate = !draft
	node.CanAddNote = !draft
}
