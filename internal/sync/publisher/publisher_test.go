package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/louisbranch/storytree/internal/sync/broker"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
)

type memoryLog struct {
	rows   []event.Event
	nextID uint64
	fail   bool
	// failAfter, when positive, fails every append once that many rows exist.
	failAfter int
}

func (m *memoryLog) AppendEvent(_ context.Context, evt event.Event) (event.Event, error) {
	if m.fail {
		return event.Event{}, errors.New("append failed")
	}
	if m.failAfter > 0 && len(m.rows) >= m.failAfter {
		return event.Event{}, errors.New("append failed")
	}
	m.nextID++
	evt.ID = m.nextID
	m.rows = append(m.rows, evt)
	return evt, nil
}

func (m *memoryLog) ListEventsAfter(_ context.Context, after uint64) ([]event.Event, error) {
	var out []event.Event
	for _, row := range m.rows {
		if row.ID > after {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryLog) LatestEventID(_ context.Context) (uint64, error) {
	return m.nextID, nil
}

type staticRoots struct {
	byGame map[string]string
}

func (r staticRoots) RootTextID(_ context.Context, gameID string) (string, error) {
	rootID, ok := r.byGame[gameID]
	if !ok {
		return "", fmt.Errorf("no root for game %s", gameID)
	}
	return rootID, nil
}

type recordingBroker struct {
	published map[string][]broker.Envelope
	fail      bool
}

func (b *recordingBroker) Available(context.Context) bool { return true }

func (b *recordingBroker) Publish(_ context.Context, channel string, env broker.Envelope) (int64, error) {
	if b.fail {
		return 0, errors.New("publish failed")
	}
	if b.published == nil {
		b.published = make(map[string][]broker.Envelope)
	}
	b.published[channel] = append(b.published[channel], env)
	return 1, nil
}

func (b *recordingBroker) Subscribe(context.Context, []string, broker.Handler) error {
	return errors.New("not implemented")
}

func newTestPublisher(t *testing.T, eventLog *memoryLog, signals broker.Broker) *Publisher {
	t.Helper()
	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	roots := staticRoots{byGame: map[string]string{"game-1": "text-root"}}
	pub, err := New(registry, eventLog, roots, signals)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	return pub
}

func TestCreateEventsFansOut(t *testing.T) {
	t.Parallel()

	eventLog := &memoryLog{}
	signals := &recordingBroker{}
	pub := newTestPublisher(t, eventLog, signals)

	err := pub.CreateEvents(context.Background(), event.TypeContribPublished, map[string]string{
		"textId":   "text-7",
		"gameId":   "game-1",
		"parentId": "text-root",
		"title":    "A Fork in the Road",
	}, Context{Action: "published", ActorID: "writer-1"})
	if err != nil {
		t.Fatalf("create events: %v", err)
	}

	if len(eventLog.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(eventLog.rows))
	}

	textRow := eventLog.rows[0]
	if textRow.RelatedTable != event.TableTexts || textRow.RelatedID != "text-7" {
		t.Fatalf("unexpected text row %+v", textRow)
	}
	if textRow.RootID != "text-root" {
		t.Fatalf("expected root resolved from game, got %q", textRow.RootID)
	}
	if textRow.WriterID != "writer-1" {
		t.Fatalf("expected actor as writer, got %q", textRow.WriterID)
	}

	var payload map[string]any
	if err := json.Unmarshal(textRow.PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["action"] != "published" || payload["title"] != "A Fork in the Road" {
		t.Fatalf("unexpected payload %v", payload)
	}

	gameRow := eventLog.rows[1]
	if gameRow.RelatedTable != event.TableGames || gameRow.RelatedID != "game-1" {
		t.Fatalf("unexpected game row %+v", gameRow)
	}

	if got := len(signals.published["texts:text-root"]); got != 1 {
		t.Fatalf("expected 1 tree signal, got %d", got)
	}
	if got := len(signals.published[broker.ChannelGames]); got != 1 {
		t.Fatalf("expected 1 game signal, got %d", got)
	}
	if got := len(signals.published[broker.ChannelActivity]); got != 1 {
		t.Fatalf("expected 1 activity signal, got %d", got)
	}
}

func TestCreateEventsRootFromSelf(t *testing.T) {
	t.Parallel()

	eventLog := &memoryLog{}
	pub := newTestPublisher(t, eventLog, nil)

	err := pub.CreateEvents(context.Background(), event.TypeRootPublished, map[string]string{
		"textId": "text-new",
		"gameId": "game-1",
		"title":  "Opening",
	}, Context{ActorID: "writer-1"})
	if err != nil {
		t.Fatalf("create events: %v", err)
	}
	// A root publish is exactly one log row; the game list learns about the
	// new game through its updated_at watermark, not a second row.
	if len(eventLog.rows) != 1 {
		t.Fatalf("expected a single row for a root publish, got %d: %+v", len(eventLog.rows), eventLog.rows)
	}
	if eventLog.rows[0].RelatedTable != event.TableTexts {
		t.Fatalf("expected a texts row, got %q", eventLog.rows[0].RelatedTable)
	}
	if eventLog.rows[0].RootID != "text-new" {
		t.Fatalf("expected the published node as its own root, got %q", eventLog.rows[0].RootID)
	}
}

func TestCreateEventsNotificationWriterOverride(t *testing.T) {
	t.Parallel()

	eventLog := &memoryLog{}
	signals := &recordingBroker{}
	pub := newTestPublisher(t, eventLog, signals)

	err := pub.CreateEvents(context.Background(), event.TypeNotificationCreated, map[string]string{
		"notificationId": "notif-1",
		"recipientId":    "writer-2",
		"kind":           "invitation",
	}, Context{ActorID: "writer-1"})
	if err != nil {
		t.Fatalf("create events: %v", err)
	}

	row := eventLog.rows[0]
	if row.WriterID != "writer-2" {
		t.Fatalf("expected recipient as writer, got %q", row.WriterID)
	}
	if row.RootID != "" {
		t.Fatalf("expected no root aggregate, got %q", row.RootID)
	}
	if got := len(signals.published["notifications:writer-2"]); got != 1 {
		t.Fatalf("expected 1 inbox signal, got %d", got)
	}
	if got := len(signals.published[broker.ChannelActivity]); got != 0 {
		t.Fatalf("expected no activity signal for notifications, got %d", got)
	}
}

func TestCreateEventsValidationWritesNothing(t *testing.T) {
	t.Parallel()

	eventLog := &memoryLog{}
	pub := newTestPublisher(t, eventLog, nil)

	err := pub.CreateEvents(context.Background(), event.TypeRootPublished, map[string]string{
		"textId": "text-new",
	}, Context{ActorID: "writer-1"})
	if !errors.Is(err, event.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if len(eventLog.rows) != 0 {
		t.Fatalf("expected no rows after validation failure, got %d", len(eventLog.rows))
	}
}

func TestCreateEventsSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	eventLog := &memoryLog{}
	pub := newTestPublisher(t, eventLog, &recordingBroker{fail: true})

	err := pub.CreateEvents(context.Background(), event.TypeGameClosed, map[string]string{
		"gameId": "game-1",
		"reason": "completed",
	}, Context{ActorID: "writer-1"})
	if err != nil {
		t.Fatalf("expected durable write to succeed despite signal failure: %v", err)
	}
	if len(eventLog.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(eventLog.rows))
	}
}

func TestCreateEventsUnknownType(t *testing.T) {
	t.Parallel()

	pub := newTestPublisher(t, &memoryLog{}, nil)
	err := pub.CreateEvents(context.Background(), event.Type("game.renamed"), nil, Context{})
	if !errors.Is(err, event.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCreateEventsSignalsEachRowAsItLands(t *testing.T) {
	t.Parallel()

	eventLog := &memoryLog{failAfter: 1}
	signals := &recordingBroker{}
	pub := newTestPublisher(t, eventLog, signals)

	err := pub.CreateEvents(context.Background(), event.TypeContribPublished, map[string]string{
		"textId":   "text-7",
		"gameId":   "game-1",
		"parentId": "text-root",
		"title":    "A Fork in the Road",
	}, Context{Action: "published", ActorID: "writer-1"})
	if err == nil {
		t.Fatal("expected the second append to fail")
	}

	if len(eventLog.rows) != 1 {
		t.Fatalf("expected the first row to remain durable, got %d rows", len(eventLog.rows))
	}
	// The durable row's signal went out before the batch broke down.
	sent := signals.published["texts:text-root"]
	if len(sent) != 1 {
		t.Fatalf("expected one signal on texts:text-root, got %d", len(sent))
	}
	if sent[0].RelatedID != "text-7" {
		t.Fatalf("unexpected signaled envelope %+v", sent[0])
	}
	if len(signals.published[broker.ChannelActivity]) != 0 {
		t.Fatal("expected no activity signal for a failed batch")
	}
}
