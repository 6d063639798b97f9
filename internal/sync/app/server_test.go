package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/louisbranch/storytree/internal/sync/broker"
	"github.com/louisbranch/storytree/internal/sync/catchup"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/fetch"
	"github.com/louisbranch/storytree/internal/sync/filter"
	"github.com/louisbranch/storytree/internal/sync/permission"
	"github.com/louisbranch/storytree/internal/sync/publisher"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// fakeStore backs the HTTP tests with plain maps.
type fakeStore struct {
	events        []event.Event
	games         map[string]story.Game
	texts         map[string]story.TextNode
	notifications map[string]story.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games:         make(map[string]story.Game),
		texts:         make(map[string]story.TextNode),
		notifications: make(map[string]story.Notification),
	}
}

func (f *fakeStore) AppendEvent(_ context.Context, evt event.Event) (event.Event, error) {
	evt.ID = uint64(len(f.events) + 1)
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	f.events = append(f.events, evt)
	return evt, nil
}

func (f *fakeStore) ListEventsAfter(_ context.Context, after uint64) ([]event.Event, error) {
	var out []event.Event
	for _, evt := range f.events {
		if evt.ID > after {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestEventID(context.Context) (uint64, error) {
	return uint64(len(f.events)), nil
}

func (f *fakeStore) GetGame(_ context.Context, id, _ string) (story.Game, error) {
	game, ok := f.games[id]
	if !ok {
		return story.Game{}, storage.ErrNotFound
	}
	return game, nil
}

func (f *fakeStore) ListGamesSince(_ context.Context, since time.Time, _ filter.SQLCondition, _ string) ([]story.Game, error) {
	var out []story.Game
	for _, game := range f.games {
		if game.UpdatedAt.After(since) {
			out = append(out, game)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTextNode(_ context.Context, id, _ string) (story.TextNode, error) {
	node, ok := f.texts[id]
	if !ok {
		return story.TextNode{}, storage.ErrNotFound
	}
	return node, nil
}

func (f *fakeStore) GetNotification(_ context.Context, id, viewerID string) (story.Notification, error) {
	notification, ok := f.notifications[id]
	if !ok {
		return story.Notification{}, storage.ErrNotFound
	}
	if notification.RecipientID != viewerID {
		return story.Notification{}, storage.ErrForbidden
	}
	return notification, nil
}

func (f *fakeStore) SearchTexts(context.Context, string, string, time.Time) ([]story.TextNode, error) {
	return nil, nil
}

func (f *fakeStore) ActivitySnapshot(context.Context) (story.ActivitySnapshot, error) {
	return story.ActivitySnapshot{OpenGames: 1, CapturedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) RootTextID(_ context.Context, gameID string) (string, error) {
	game, ok := f.games[gameID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return game.RootTextID, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func newTestServer(t *testing.T, store *fakeStore, signals broker.Broker) *Server {
	t.Helper()

	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	pool := storage.NewPool(func() (storage.Store, error) { return store, nil })
	fetcher, err := fetch.New(pool)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	perms := permission.New(permission.OwnerAggregator{})

	pub, err := publisher.New(registry, store, store, signals)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	catchupSvc, err := catchup.New(fetcher, perms)
	if err != nil {
		t.Fatalf("new catch-up service: %v", err)
	}

	var relay *Relay
	if signals != nil {
		relay, err = NewRelay(signals, fetcher, perms)
		if err != nil {
			t.Fatalf("new relay: %v", err)
		}
	}

	server, err := NewServer(pub, catchupSvc, relay, pool)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func postJSON(t *testing.T, handler http.Handler, path, viewerID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if viewerID != "" {
		req.Header.Set(viewerHeader, viewerID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateEventsEndpoint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.games["game-1"] = story.Game{ID: "game-1", RootTextID: "root-1", OwnerID: "owner-1"}
	handler := newTestServer(t, store, nil).Handler()

	rec := postJSON(t, handler, "/v1/events", "writer-1", createEventsRequest{
		Type:   string(event.TypeNoteAdded),
		Data:   map[string]string{"textId": "text-1", "gameId": "game-1", "note": "tighten the pacing"},
		Action: "noted",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected 1 event row, got %d", len(store.events))
	}
	if store.events[0].WriterID != "writer-1" {
		t.Fatalf("expected viewer header as writer, got %q", store.events[0].WriterID)
	}

	rec = postJSON(t, handler, "/v1/events", "writer-1", createEventsRequest{
		Type: string(event.TypeNoteAdded),
		Data: map[string]string{"textId": "text-1"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}

	rec = postJSON(t, handler, "/v1/events", "writer-1", createEventsRequest{Type: "game.renamed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}
}

func TestUpdatesEndpoint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.texts["text-1"] = story.TextNode{ID: "text-1", RootTextID: "root-1", Title: "Branch"}
	store.events = []event.Event{{
		ID: 1, Type: event.TypeContribPublished,
		RelatedTable: event.TableTexts, RelatedID: "text-1", RootID: "root-1",
	}}
	handler := newTestServer(t, store, nil).Handler()

	rec := postJSON(t, handler, "/v1/updates", "viewer-1", updatesRequest{RootID: "root-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var first updatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if first.Cursor == "" {
		t.Fatal("expected a cursor token")
	}
	if first.ModifiedNodes == nil {
		t.Fatal("expected the changed node in the response")
	}

	// Polling again with the returned cursor yields nothing new.
	rec = postJSON(t, handler, "/v1/updates", "viewer-1", updatesRequest{Cursor: first.Cursor, RootID: "root-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var second updatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if second.ModifiedNodes != nil {
		t.Fatal("expected no repeated changes on the second poll")
	}
}

func TestUpdatesRejectsInvalidCursor(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, newFakeStore(), nil).Handler()
	rec := postJSON(t, handler, "/v1/updates", "viewer-1", updatesRequest{Cursor: "not-a-token"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStreamUnavailableWithoutBroker(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, newFakeStore(), nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.events = append(store.events,
		event.Event{ID: 1, Type: event.TypeNoteAdded, RelatedTable: event.TableTexts, RelatedID: "text-1"},
		event.Event{ID: 2, Type: event.TypeNoteAdded, RelatedTable: event.TableTexts, RelatedID: "text-2"},
	)

	handler := newTestServer(t, store, nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status        string `json:"status"`
		LatestEventID uint64 `json:"latest_event_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected ok status, got %q", body.Status)
	}
	if body.LatestEventID != 2 {
		t.Fatalf("expected log head 2 in health body, got %d", body.LatestEventID)
	}
}

var errBrokerDown = errors.New("broker down")

// downBroker always reports unavailable.
type downBroker struct{}

func (downBroker) Available(context.Context) bool { return false }
func (downBroker) Publish(context.Context, string, broker.Envelope) (int64, error) {
	return 0, errBrokerDown
}
func (downBroker) Subscribe(context.Context, []string, broker.Handler) error {
	return errBrokerDown
}

func TestStreamUnavailableWhenBrokerDown(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, newFakeStore(), downBroker{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
