package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validation sentinels. Callers must not retry with the same input.
var (
	// ErrUnknownType indicates the event type has no registry definition.
	ErrUnknownType = errors.New("unknown event type")
	// ErrMissingField indicates a required application-data field is absent.
	ErrMissingField = errors.New("missing required field")
)

// RootResolution selects how the root aggregate id is derived for a type.
type RootResolution int

const (
	// RootFromSelf uses the changed text node itself as the root: publishing
	// a root text starts a new tree, so root = the node's own id.
	RootFromSelf RootResolution = iota
	// RootFromGame looks up the recorded root text node of the supplied game.
	RootFromGame
	// RootNone leaves the root aggregate empty; the change is not scoped to
	// one tree (notifications).
	RootNone
)

// FanOut declares one event-log row a semantic event produces.
type FanOut struct {
	// Table is the read model the row invalidates.
	Table Table
	// RelatedIDField names the application-data field holding the changed
	// entity's id.
	RelatedIDField string
	// WriterIDField optionally overrides the acting user as the row's
	// writer. Notification rows use it to record the recipient, which the
	// catch-up scope filter relies on for privacy.
	WriterIDField string
	// PayloadFields lists the application-data fields copied into the row's
	// advisory payload.
	PayloadFields []string
}

// Definition describes the contract for one event type.
type Definition struct {
	Type Type
	// Required lists application-data fields that must be present. A missing
	// field fails the whole call before any row is written.
	Required []string
	// FanOuts lists the rows produced per call, in order.
	FanOuts []FanOut
	// Root selects the root-aggregate resolution strategy.
	Root RootResolution
}

// definitions is the closed static table behind the registry. Adding an
// event type without a definition here fails NewRegistry, and the registry
// test cross-checks this table against the declared Type constants.
func definitions() []Definition {
	return []Definition{
		{
			// A root publish is exactly one log row. The new game reaches
			// list clients through the updated_at watermark refresh, not
			// through a second games row.
			Type:     TypeRootPublished,
			Required: []string{"textId", "gameId", "title"},
			Root:     RootFromSelf,
			FanOuts: []FanOut{
				{Table: TableTexts, RelatedIDField: "textId", PayloadFields: []string{"title"}},
			},
		},
		{
			Type:     TypeContribPublished,
			Required: []string{"textId", "gameId", "parentId", "title"},
			Root:     RootFromGame,
			FanOuts: []FanOut{
				{Table: TableTexts, RelatedIDField: "textId", PayloadFields: []string{"title", "parentId"}},
				{Table: TableGames, RelatedIDField: "gameId", PayloadFields: []string{"title"}},
			},
		},
		{
			Type:     TypeNoteAdded,
			Required: []string{"textId", "gameId", "note"},
			Root:     RootFromGame,
			FanOuts: []FanOut{
				{Table: TableTexts, RelatedIDField: "textId", PayloadFields: []string{"note"}},
			},
		},
		{
			Type:     TypeTextVoted,
			Required: []string{"textId", "gameId", "voterId"},
			Root:     RootFromGame,
			FanOuts: []FanOut{
				{Table: TableTexts, RelatedIDField: "textId"},
				{Table: TableGames, RelatedIDField: "gameId"},
			},
		},
		{
			Type:     TypeGameClosed,
			Required: []string{"gameId", "reason"},
			Root:     RootFromGame,
			FanOuts: []FanOut{
				{Table: TableGames, RelatedIDField: "gameId"},
			},
		},
		{
			Type:     TypeNotificationCreated,
			Required: []string{"notificationId", "recipientId", "kind"},
			Root:     RootNone,
			FanOuts: []FanOut{
				{Table: TableNotifications, RelatedIDField: "notificationId", WriterIDField: "recipientId"},
			},
		},
	}
}

// Registry validates semantic events against their static definitions.
type Registry struct {
	byType map[Type]Definition
}

// NewRegistry builds the registry from the static definitions table.
func NewRegistry() (*Registry, error) {
	byType := make(map[Type]Definition)
	for _, def := range definitions() {
		if !def.Type.IsValid() {
			return nil, fmt.Errorf("definition with empty type")
		}
		if _, dup := byType[def.Type]; dup {
			return nil, fmt.Errorf("duplicate definition for %s", def.Type)
		}
		if len(def.FanOuts) == 0 {
			return nil, fmt.Errorf("definition %s has no fan-out rules", def.Type)
		}
		for _, rule := range def.FanOuts {
			if strings.TrimSpace(rule.RelatedIDField) == "" {
				return nil, fmt.Errorf("definition %s fan-out for %s has no related-id field", def.Type, rule.Table)
			}
		}
		byType[def.Type] = def
	}
	return &Registry{byType: byType}, nil
}

// Definition returns the definition for an event type.
func (r *Registry) Definition(t Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.byType[t]
	return def, ok
}

// ListDefinitions returns all definitions ordered by type name.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil {
		return nil
	}
	defs := make([]Definition, 0, len(r.byType))
	for _, def := range r.byType {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// Validate checks an event type and its application data, returning the
// definition on success. The check is all-or-nothing: callers must not write
// any row when it fails.
func (r *Registry) Validate(t Type, data map[string]string) (Definition, error) {
	def, ok := r.Definition(t)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	for _, field := range def.Required {
		if strings.TrimSpace(data[field]) == "" {
			return Definition{}, fmt.Errorf("%w: %s requires %s", ErrMissingField, t, field)
		}
	}
	return def, nil
}
