// Package catchup answers "what changed since I last looked" for one viewer.
// It reads the event log past the viewer's cursor, narrows the rows to the
// viewer's scope, deduplicates per entity, and re-fetches each surviving
// entity so the response always carries current authoritative state.
package catchup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/domain/story"
	"github.com/louisbranch/storytree/internal/sync/fetch"
	"github.com/louisbranch/storytree/internal/sync/filter"
	"github.com/louisbranch/storytree/internal/sync/permission"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// Request describes one viewer's poll.
type Request struct {
	// LastEventID is the viewer's event-log cursor; only rows past it are
	// considered.
	LastEventID uint64
	// ViewerID scopes notifications and viewer-relative entity fields.
	ViewerID string
	// RootID scopes tree changes to the story the viewer has open. Blank
	// drops all text rows from the response.
	RootID string
	// Filter optionally narrows the refreshed game list.
	Filter string
	// SearchTerm, when set, re-evaluates the viewer's active tree search
	// against nodes changed since LastTreeCheck.
	SearchTerm string
	// LastTreeCheck and LastGameCheck are the viewer's modification-time
	// watermarks for tree search and game list refreshes.
	LastTreeCheck time.Time
	LastGameCheck time.Time
}

// Result is the materialized answer to one poll.
type Result struct {
	// ModifiedGames is the refreshed game list, present only when a game
	// change occurred past the cursor.
	ModifiedGames []story.Game
	// ModifiedNodes holds the re-fetched subtree per changed text node in
	// the viewer's open story.
	ModifiedNodes []story.TextNode
	// SearchResults re-evaluates the viewer's active search against nodes
	// changed since the tree watermark.
	SearchResults []story.TextNode
	// Notifications holds the viewer's new inbox entries.
	Notifications []story.Notification
	// NewCursor is the highest event id observed, scoped or not. The cursor
	// always advances past rows outside the viewer's scope.
	NewCursor uint64
	// CheckedAt is the server time of this poll, the viewer's next
	// watermark.
	CheckedAt time.Time
}

// Service runs catch-up reads.
type Service struct {
	fetcher *fetch.Fetcher
	perms   *permission.Service
	tracer  trace.Tracer
}

// New wires a catch-up service.
func New(fetcher *fetch.Fetcher, perms *permission.Service) (*Service, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if perms == nil {
		return nil, fmt.Errorf("permission service is required")
	}
	return &Service{
		fetcher: fetcher,
		perms:   perms,
		tracer:  otel.Tracer("sync/catchup"),
	}, nil
}

// Check answers one poll.
//
// A failed per-entity fetch is logged and the entity omitted; the batch
// continues and the cursor still advances, so a missing entity reappears on
// a later event rather than wedging the viewer.
func (s *Service) Check(ctx context.Context, req Request) (Result, error) {
	if s == nil {
		return Result{}, fmt.Errorf("catch-up service is not configured")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "catchup.Check",
		trace.WithAttributes(attribute.Int64("cursor.last_event_id", int64(req.LastEventID))))
	defer span.End()

	result := Result{NewCursor: req.LastEventID, CheckedAt: time.Now().UTC()}

	events, err := s.fetcher.EventsAfter(ctx, req.LastEventID)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("read event log: %w", err)
	}
	if len(events) == 0 {
		return result, nil
	}

	// The cursor covers every observed row, in or out of scope. Skipped
	// out-of-scope rows must never be replayed.
	result.NewCursor = events[len(events)-1].ID

	scoped := scopeEvents(events, req)
	latest := dedupeLatest(scoped)

	textsChanged := false
	for _, evt := range latest {
		switch evt.RelatedTable {
		case event.TableGames:
			// Game rows need no per-entity fetch; the list refresh below
			// covers them.
		case event.TableTexts:
			textsChanged = true
			node, err := s.fetcher.TextNode(ctx, evt.RelatedID, req.ViewerID)
			if err != nil {
				s.skipEntity(ctx, evt, err)
				continue
			}
			if err := s.perms.ApplyText(&node, req.ViewerID); err != nil {
				s.skipEntity(ctx, evt, err)
				continue
			}
			result.ModifiedNodes = append(result.ModifiedNodes, node)
		case event.TableNotifications:
			notification, err := s.fetcher.Notification(ctx, evt.RelatedID, req.ViewerID)
			if err != nil {
				s.skipEntity(ctx, evt, err)
				continue
			}
			result.Notifications = append(result.Notifications, notification)
		}
	}

	// The game list refresh keys off the modification-time watermark alone:
	// any activity past the cursor warrants one ListGamesSince pass, and a
	// newly started game surfaces here without needing its own games row.
	games, err := s.refreshGames(ctx, req)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	result.ModifiedGames = games

	if textsChanged && req.SearchTerm != "" && req.RootID != "" {
		results, err := s.fetcher.SearchTexts(ctx, req.RootID, req.SearchTerm, req.LastTreeCheck)
		if err != nil {
			log.Printf("search refresh for root %s failed: %v", req.RootID, err)
		} else {
			for i := range results {
				if err := s.perms.ApplyText(&results[i], req.ViewerID); err != nil {
					log.Printf("search result %s skipped: %v", results[i].ID, err)
				}
			}
			result.SearchResults = results
		}
	}

	span.SetAttributes(
		attribute.Int("events.observed", len(events)),
		attribute.Int("events.materialized", len(latest)),
	)
	return result, nil
}

func (s *Service) refreshGames(ctx context.Context, req Request) ([]story.Game, error) {
	cond := filter.SQLCondition{}
	if req.Filter != "" {
		parsed, err := filter.ParseGameFilter(req.Filter)
		if err != nil {
			return nil, fmt.Errorf("parse game filter: %w", err)
		}
		cond = parsed
	}

	games, err := s.fetcher.GamesSince(ctx, req.LastGameCheck, cond, req.SearchTerm)
	if err != nil {
		return nil, fmt.Errorf("refresh games: %w", err)
	}
	s.perms.ApplyGames(games, req.ViewerID)
	return games, nil
}

// skipEntity records a per-entity failure without failing the batch. Privacy
// and deletion races are expected, anything else is logged loudly.
func (s *Service) skipEntity(_ context.Context, evt event.Event, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrForbidden) {
		return
	}
	log.Printf("skipping %s %s after event %d: %v", evt.RelatedTable, evt.RelatedID, evt.ID, err)
}

// scopeEvents drops rows outside the viewer's scope: notifications for other
// recipients, tree changes for other roots. Game rows always pass; the game
// list is a shared surface.
func scopeEvents(events []event.Event, req Request) []event.Event {
	scoped := make([]event.Event, 0, len(events))
	for _, evt := range events {
		switch evt.RelatedTable {
		case event.TableGames:
			scoped = append(scoped, evt)
		case event.TableTexts:
			if req.RootID != "" && evt.RootID == req.RootID {
				scoped = append(scoped, evt)
			}
		case event.TableNotifications:
			if req.ViewerID != "" && evt.WriterID == req.ViewerID {
				scoped = append(scoped, evt)
			}
		}
	}
	return scoped
}

// dedupeLatest keeps only the highest-id row per (table, entity), preserving
// event order among the survivors. Re-fetching an entity once answers every
// older row about it.
func dedupeLatest(events []event.Event) []event.Event {
	type key struct {
		table event.Table
		id    string
	}
	latest := make(map[key]event.Event, len(events))
	for _, evt := range events {
		k := key{table: evt.RelatedTable, id: evt.RelatedID}
		if prev, ok := latest[k]; !ok || evt.ID > prev.ID {
			latest[k] = evt
		}
	}

	deduped := make([]event.Event, 0, len(latest))
	for _, evt := range events {
		k := key{table: evt.RelatedTable, id: evt.RelatedID}
		if latest[k].ID == evt.ID {
			deduped = append(deduped, evt)
		}
	}
	return deduped
}
