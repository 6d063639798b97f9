// Package broker carries lightweight change signals between the event
// publisher and connected clients. Signals are advisory: every envelope is
// also durable in the event log, so a lost publish only delays delivery
// until the next poll.
package broker

import (
	"context"

	"github.com/louisbranch/storytree/internal/sync/domain/event"
)

// Channel names. Game list changes and platform activity fan out on shared
// channels; tree and inbox changes are scoped per root text and per writer.
const (
	ChannelGames    = "games:updates"
	ChannelActivity = "users:activity"
)

// TextsChannel returns the channel carrying tree changes for one story root.
func TextsChannel(rootID string) string {
	return "texts:" + rootID
}

// NotificationsChannel returns the private inbox channel for one writer.
func NotificationsChannel(writerID string) string {
	return "notifications:" + writerID
}

// Envelope is the wire form of a change signal. It identifies what changed
// but never carries entity state; subscribers re-fetch through storage.
type Envelope struct {
	ID           uint64      `json:"id"`
	Type         event.Type  `json:"event_type"`
	RelatedTable event.Table `json:"related_table"`
	RelatedID    string      `json:"related_id"`
	RootID       string      `json:"root_aggregate_id,omitempty"`
	WriterID     string      `json:"writer_id,omitempty"`
}

// Handler consumes one envelope from a subscribed channel. Returning false
// stops the subscription.
type Handler func(channel string, env Envelope) bool

// Broker publishes and subscribes to change signals.
//
// Available reports whether the backing transport is reachable; when it is
// not, Publish and Subscribe fail fast and callers fall back to polling.
type Broker interface {
	Available(ctx context.Context) bool
	Publish(ctx context.Context, channel string, env Envelope) (int64, error)
	Subscribe(ctx context.Context, channels []string, handler Handler) error
}

// ChannelsForEnvelope returns every channel an envelope fans out on.
func ChannelsForEnvelope(env Envelope) []string {
	switch env.RelatedTable {
	case event.TableGames:
		return []string{ChannelGames}
	case event.TableTexts:
		if env.RootID == "" {
			return nil
		}
		return []string{TextsChannel(env.RootID)}
	case event.TableNotifications:
		if env.WriterID == "" {
			return nil
		}
		return []string{NotificationsChannel(env.WriterID)}
	}
	return nil
}
