// Package main provides a CLI for seeding a local sync database with demo
// stories, contributions, votes, and notifications, including the event-log
// rows a live publisher would have produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/louisbranch/storytree/internal/platform/config"
	"github.com/louisbranch/storytree/internal/platform/id"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/publisher"
	"github.com/louisbranch/storytree/internal/sync/storage/sqlite"
)

func main() {
	dbPath := flag.String("db", filepath.Join("data", "sync.db"), "path to the sync database file")
	games := flag.Int("games", 3, "number of demo games to create")
	verbose := flag.Bool("v", false, "verbose output")
	flag.Parse()

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		config.Exitf("open store: %v", err)
	}
	defer store.Close()

	registry, err := event.NewRegistry()
	if err != nil {
		config.Exitf("event registry: %v", err)
	}
	pub, err := publisher.New(registry, store, store, nil)
	if err != nil {
		config.Exitf("publisher: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < *games; i++ {
		ownerID := id.MustNewID()
		contributorID := id.MustNewID()
		if err := seedGame(ctx, store, pub, i, ownerID, contributorID); err != nil {
			config.Exitf("seed game %d: %v", i+1, err)
		}
		if *verbose {
			fmt.Printf("seeded game %d (owner %s)\n", i+1, ownerID)
		}
	}
	fmt.Printf("seeded %d games into %s\n", *games, *dbPath)
}

// seedGame creates one game with a root text, a contribution, a vote, and an
// invitation notification, publishing the matching events.
func seedGame(ctx context.Context, store *sqlite.Store, pub *publisher.Publisher, n int, ownerID, contributorID string) error {
	gameID := id.MustNewID()
	rootTextID := id.MustNewID()
	branchTextID := id.MustNewID()
	notificationID := id.MustNewID()

	title := fmt.Sprintf("Demo Story %d", n+1)
	if err := store.PutGame(ctx, story.Game{
		ID:         gameID,
		RootTextID: rootTextID,
		OwnerID:    ownerID,
		Title:      title,
		Genre:      "mystery",
		Language:   "en",
	}); err != nil {
		return err
	}

	if err := store.PutTextNode(ctx, story.TextNode{
		ID:         rootTextID,
		GameID:     gameID,
		RootTextID: rootTextID,
		AuthorID:   ownerID,
		Title:      title,
		Body:       "It began, as these things do, with a locked door.",
	}); err != nil {
		return err
	}
	if err := store.PutTextNode(ctx, story.TextNode{
		ID:         branchTextID,
		GameID:     gameID,
		RootTextID: rootTextID,
		ParentID:   rootTextID,
		AuthorID:   contributorID,
		Title:      "The Key Under the Mat",
		Body:       "Of course the key was exactly where keys always are.",
	}); err != nil {
		return err
	}
	if err := store.PutVote(ctx, branchTextID, ownerID); err != nil {
		return err
	}
	if err := store.PutInvitation(ctx, gameID, contributorID); err != nil {
		return err
	}
	if err := store.PutNotification(ctx, story.Notification{
		ID:          notificationID,
		RecipientID: contributorID,
		Kind:        "game.invite",
		PayloadJSON: fmt.Sprintf(`{"gameId":%q,"title":%q}`, gameID, title),
	}); err != nil {
		return err
	}

	steps := []struct {
		eventType event.Type
		data      map[string]string
		evtCtx    publisher.Context
	}{
		{
			eventType: event.TypeRootPublished,
			data:      map[string]string{"textId": rootTextID, "gameId": gameID, "title": title},
			evtCtx:    publisher.Context{Action: "published", ActorID: ownerID},
		},
		{
			eventType: event.TypeContribPublished,
			data:      map[string]string{"textId": branchTextID, "gameId": gameID, "parentId": rootTextID, "title": "The Key Under the Mat"},
			evtCtx:    publisher.Context{Action: "published", ActorID: contributorID},
		},
		{
			eventType: event.TypeTextVoted,
			data:      map[string]string{"textId": branchTextID, "gameId": gameID, "voterId": ownerID, "votes": "1"},
			evtCtx:    publisher.Context{Action: "voted", ActorID: ownerID},
		},
		{
			eventType: event.TypeNotificationCreated,
			data:      map[string]string{"notificationId": notificationID, "recipientId": contributorID, "kind": "game.invite", "title": title},
			evtCtx:    publisher.Context{Action: "notified", ActorID: ownerID},
		},
	}
	for _, step := range steps {
		if err := pub.CreateEvents(ctx, step.eventType, step.data, step.evtCtx); err != nil {
			return err
		}
	}
	return nil
}
