// Package publisher turns semantic application events into durable event-log
// rows and advisory push signals.
package publisher

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/storytree/internal/sync/broker"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// RootResolver looks up the root text node recorded for a game.
type RootResolver interface {
	RootTextID(ctx context.Context, gameID string) (string, error)
}

// Context carries the acting user and a human-readable action label into the
// produced rows.
type Context struct {
	// Action is an advisory label ("published", "voted") copied into payloads.
	Action string
	// ActorID is the writer recorded on every produced row unless a fan-out
	// rule overrides it.
	ActorID string
}

// Publisher validates semantic events, fans them out into event-log rows,
// and signals connected clients over the push channel.
//
// The log write is the source of truth. Each row is signaled as soon as it
// is durable, and signaling is fire-and-forget: a failed publish is logged,
// never rolled back, and the change still reaches clients on their next poll.
type Publisher struct {
	registry *event.Registry
	eventLog storage.EventLog
	roots    RootResolver
	signals  broker.Broker
	tracer   trace.Tracer
}

// New wires a publisher. signals may be nil for poll-only deployments.
func New(registry *event.Registry, eventLog storage.EventLog, roots RootResolver, signals broker.Broker) (*Publisher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if eventLog == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if roots == nil {
		return nil, fmt.Errorf("root resolver is required")
	}
	return &Publisher{
		registry: registry,
		eventLog: eventLog,
		roots:    roots,
		signals:  signals,
		tracer:   otel.Tracer("sync/publisher"),
	}, nil
}

// CreateEvents records one semantic event as its fan-out rows.
//
// Validation is all-or-nothing up front; a failed append mid-way leaves the
// earlier rows in place, which at-least-once delivery tolerates.
func (p *Publisher) CreateEvents(ctx context.Context, t event.Type, data map[string]string, evtCtx Context) error {
	if p == nil {
		return fmt.Errorf("publisher is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "publisher.CreateEvents",
		trace.WithAttributes(
			attribute.String("event.type", string(t)),
			attribute.String("event.domain", t.Domain()),
		))
	defer span.End()

	def, err := p.registry.Validate(t, data)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return fmt.Errorf("validate %s: %w", t, err)
	}

	rootID, err := p.resolveRoot(ctx, def, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "root resolution failed")
		return err
	}

	appended := make([]event.Event, 0, len(def.FanOuts))
	for _, rule := range def.FanOuts {
		payload, err := event.BuildPayload(t, rule, data, evtCtx.Action)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "payload build failed")
			return fmt.Errorf("build payload for %s/%s: %w", t, rule.Table, err)
		}

		writerID := evtCtx.ActorID
		if rule.WriterIDField != "" {
			writerID = data[rule.WriterIDField]
		}

		row, err := p.eventLog.AppendEvent(ctx, event.Event{
			Type:         t,
			RelatedTable: rule.Table,
			RelatedID:    data[rule.RelatedIDField],
			RootID:       rootID,
			WriterID:     writerID,
			PayloadJSON:  payload,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "append failed")
			return fmt.Errorf("append %s/%s: %w", t, rule.Table, err)
		}
		appended = append(appended, row)
		p.signalRow(ctx, row)
	}

	p.signalActivity(ctx, t, appended)
	return nil
}

func (p *Publisher) resolveRoot(ctx context.Context, def event.Definition, data map[string]string) (string, error) {
	switch def.Root {
	case event.RootFromSelf:
		return data["textId"], nil
	case event.RootFromGame:
		rootID, err := p.roots.RootTextID(ctx, data["gameId"])
		if err != nil {
			return "", fmt.Errorf("resolve root for game %s: %w", data["gameId"], err)
		}
		return rootID, nil
	case event.RootNone:
		return "", nil
	}
	return "", fmt.Errorf("unknown root resolution for %s", def.Type)
}

// signalRow pushes the advisory envelope for a single already-durable row.
// It runs immediately after the row's append so a later append failure in
// the same batch cannot hold back signals for rows that did land. Errors
// are logged and swallowed; polling covers the gap.
func (p *Publisher) signalRow(ctx context.Context, row event.Event) {
	if p.signals == nil || !p.signals.Available(ctx) {
		return
	}

	env := broker.Envelope{
		ID:           row.ID,
		Type:         row.Type,
		RelatedTable: row.RelatedTable,
		RelatedID:    row.RelatedID,
		RootID:       row.RootID,
		WriterID:     row.WriterID,
	}
	for _, channel := range broker.ChannelsForEnvelope(env) {
		if _, err := p.signals.Publish(ctx, channel, env); err != nil {
			log.Printf("push signal for event %d on %s failed: %v", row.ID, channel, err)
		}
	}
}

// signalActivity pushes the platform-wide activity signal once per batch.
func (p *Publisher) signalActivity(ctx context.Context, t event.Type, rows []event.Event) {
	if p.signals == nil || !p.signals.Available(ctx) {
		return
	}

	if changesActivity(t) && len(rows) > 0 {
		env := broker.Envelope{
			ID:           rows[0].ID,
			Type:         rows[0].Type,
			RelatedTable: rows[0].RelatedTable,
			RelatedID:    rows[0].RelatedID,
			RootID:       rows[0].RootID,
		}
		if _, err := p.signals.Publish(ctx, broker.ChannelActivity, env); err != nil {
			log.Printf("activity signal for event %d failed: %v", rows[0].ID, err)
		}
	}
}

// changesActivity reports whether a type moves the platform activity counters.
func changesActivity(t event.Type) bool {
	switch t {
	case event.TypeRootPublished, event.TypeContribPublished, event.TypeGameClosed:
		return true
	}
	return false
}
