package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/louisbranch/storytree/internal/platform/id"
	"github.com/louisbranch/storytree/internal/sync/broker"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/fetch"
	"github.com/louisbranch/storytree/internal/sync/permission"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// StreamRequest scopes one push stream to a viewer and their open story.
type StreamRequest struct {
	ViewerID string
	RootID   string
}

// StreamMessage is one server-sent event. Entity state is re-fetched on
// every signal; the payload never echoes what the broker carried.
type StreamMessage struct {
	EventID uint64      `json:"event_id"`
	Type    event.Type  `json:"event_type"`
	Table   event.Table `json:"related_table"`
	Entity  any         `json:"entity,omitempty"`
}

// Relay subscribes to the push channels for one viewer and forwards
// materialized changes as server-sent events.
type Relay struct {
	signals broker.Broker
	fetcher *fetch.Fetcher
	perms   *permission.Service
}

// NewRelay wires a push relay.
func NewRelay(signals broker.Broker, fetcher *fetch.Fetcher, perms *permission.Service) (*Relay, error) {
	if signals == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if perms == nil {
		return nil, fmt.Errorf("permission service is required")
	}
	return &Relay{signals: signals, fetcher: fetcher, perms: perms}, nil
}

// Available reports whether the push channel is reachable.
func (r *Relay) Available(ctx context.Context) bool {
	return r != nil && r.signals.Available(ctx)
}

// Channels returns the subscription set for one stream request.
func (r *Relay) Channels(req StreamRequest) []string {
	channels := []string{broker.ChannelGames, broker.ChannelActivity}
	if req.RootID != "" {
		channels = append(channels, broker.TextsChannel(req.RootID))
	}
	if req.ViewerID != "" {
		channels = append(channels, broker.NotificationsChannel(req.ViewerID))
	}
	return channels
}

// ServeStream holds the connection open and forwards signals until the
// client disconnects.
func (r *Relay) ServeStream(w http.ResponseWriter, req *http.Request, stream StreamRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	streamID, err := id.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream setup failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Stream-ID", streamID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()
	err = r.signals.Subscribe(ctx, r.Channels(stream), func(channel string, env broker.Envelope) bool {
		message := r.materialize(ctx, channel, env, stream)
		if message == nil {
			return true
		}
		if err := writeSSE(w, *message); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("push stream %s for viewer %q ended: %v", streamID, stream.ViewerID, err)
	}
}

// materialize re-fetches the entity behind a signal. A signal that cannot be
// materialized is dropped; the durable log still covers it on the next poll.
func (r *Relay) materialize(ctx context.Context, channel string, env broker.Envelope, stream StreamRequest) *StreamMessage {
	message := StreamMessage{EventID: env.ID, Type: env.Type, Table: env.RelatedTable}

	if channel == broker.ChannelActivity {
		snapshot, err := r.fetcher.ActivitySnapshot(ctx)
		if err != nil {
			log.Printf("activity snapshot for signal %d failed: %v", env.ID, err)
			return nil
		}
		message.Entity = snapshot
		return &message
	}

	switch env.RelatedTable {
	case event.TableGames:
		game, err := r.fetcher.Game(ctx, env.RelatedID, stream.ViewerID)
		if err != nil {
			log.Printf("game %s for signal %d failed: %v", env.RelatedID, env.ID, err)
			return nil
		}
		r.perms.ApplyGame(&game, stream.ViewerID)
		message.Entity = game
	case event.TableTexts:
		node, err := r.fetcher.TextNode(ctx, env.RelatedID, stream.ViewerID)
		if err != nil {
			log.Printf("text %s for signal %d failed: %v", env.RelatedID, env.ID, err)
			return nil
		}
		if err := r.perms.ApplyText(&node, stream.ViewerID); err != nil {
			log.Printf("text %s for signal %d skipped: %v", env.RelatedID, env.ID, err)
			return nil
		}
		message.Entity = node
	case event.TableNotifications:
		notification, err := r.fetcher.Notification(ctx, env.RelatedID, stream.ViewerID)
		if err != nil {
			if !errors.Is(err, storage.ErrForbidden) {
				log.Printf("notification %s for signal %d failed: %v", env.RelatedID, env.ID, err)
			}
			return nil
		}
		message.Entity = notification
	default:
		return nil
	}
	return &message
}

func writeSSE(w http.ResponseWriter, message StreamMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode stream message: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload); err != nil {
		return fmt.Errorf("write stream message: %w", err)
	}
	return nil
}
