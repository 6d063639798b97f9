package sqlite

import (
	"context"
	"testing"

	"github.com/louisbranch/storytree/internal/sync/domain/event"
)

func TestAppendEventAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 3; i++ {
		evt, err := store.AppendEvent(ctx, event.Event{
			Type:         event.TypeTextVoted,
			RelatedTable: event.TableTexts,
			RelatedID:    "text-1",
			RootID:       "root-1",
			WriterID:     "writer-1",
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
		if evt.ID <= last {
			t.Fatalf("expected id > %d, got %d", last, evt.ID)
		}
		last = evt.ID
	}
}

func TestAppendEventDefaults(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)

	evt, err := store.AppendEvent(context.Background(), event.Event{
		Type:         event.TypeGameClosed,
		RelatedTable: event.TableGames,
		RelatedID:    "game-1",
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if string(evt.PayloadJSON) != "{}" {
		t.Fatalf("expected empty payload default, got %q", evt.PayloadJSON)
	}
	if evt.CreatedAt.IsZero() {
		t.Fatal("expected creation timestamp to be assigned")
	}
}

func TestAppendEventRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvent(ctx, event.Event{RelatedTable: event.TableGames, RelatedID: "game-1"}); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := store.AppendEvent(ctx, event.Event{Type: event.TypeGameClosed}); err == nil {
		t.Fatal("expected error for missing related row")
	}
	_, err := store.AppendEvent(ctx, event.Event{
		Type:         event.TypeGameClosed,
		RelatedTable: event.TableGames,
		RelatedID:    "game-1",
		PayloadJSON:  []byte("{not json"),
	})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}

	latest, err := store.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("latest event id: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected no rows after rejected appends, got head %d", latest)
	}
}

func TestListEventsAfter(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	var ids []uint64
	for _, related := range []string{"text-1", "text-2", "text-3"} {
		evt, err := store.AppendEvent(ctx, event.Event{
			Type:         event.TypeNoteAdded,
			RelatedTable: event.TableTexts,
			RelatedID:    related,
			RootID:       "root-1",
			WriterID:     "writer-1",
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
		ids = append(ids, evt.ID)
	}

	events, err := store.ListEventsAfter(ctx, ids[0])
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after %d, got %d", ids[0], len(events))
	}
	if events[0].ID != ids[1] || events[1].ID != ids[2] {
		t.Fatalf("expected ascending ids %v, got %d and %d", ids[1:], events[0].ID, events[1].ID)
	}
	if events[0].RelatedID != "text-2" {
		t.Fatalf("expected related id text-2, got %q", events[0].RelatedID)
	}

	events, err = store.ListEventsAfter(ctx, ids[2])
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events past the tail, got %d", len(events))
	}
}

func TestLatestEventID(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	latest, err := store.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("latest event id: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected 0 for empty log, got %d", latest)
	}

	evt, err := store.AppendEvent(ctx, event.Event{
		Type:         event.TypeRootPublished,
		RelatedTable: event.TableTexts,
		RelatedID:    "text-1",
		RootID:       "text-1",
		WriterID:     "writer-1",
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}

	latest, err = store.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("latest event id: %v", err)
	}
	if latest != evt.ID {
		t.Fatalf("expected latest %d, got %d", evt.ID, latest)
	}
}
