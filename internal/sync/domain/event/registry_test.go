package event

import (
	"errors"
	"testing"
)

// allTypes mirrors the declared Type constants. The registry must cover
// exactly this set; a new constant without a definition (or the reverse)
// fails this test.
var allTypes = []Type{
	TypeRootPublished,
	TypeContribPublished,
	TypeNoteAdded,
	TypeTextVoted,
	TypeGameClosed,
	TypeNotificationCreated,
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestRegistryCoversEveryType(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	for _, typ := range allTypes {
		if _, ok := registry.Definition(typ); !ok {
			t.Fatalf("no definition for %s", typ)
		}
	}
	if got := len(registry.ListDefinitions()); got != len(allTypes) {
		t.Fatalf("expected %d definitions, got %d", len(allTypes), got)
	}
}

func TestRegistryDefinitionsHaveRelatedIDFields(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	for _, def := range registry.ListDefinitions() {
		if len(def.FanOuts) == 0 {
			t.Fatalf("definition %s has no fan-out rules", def.Type)
		}
		for _, rule := range def.FanOuts {
			if rule.RelatedIDField == "" {
				t.Fatalf("definition %s fan-out for %s has empty related-id field", def.Type, rule.Table)
			}
		}
	}
}

func TestValidateUnknownType(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	_, err := registry.Validate(Type("text.renamed"), map[string]string{})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestValidateMissingField(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	_, err := registry.Validate(TypeRootPublished, map[string]string{
		"textId": "t1",
		"gameId": "g1",
		// title missing
	})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}

	// Whitespace-only counts as absent.
	_, err = registry.Validate(TypeRootPublished, map[string]string{
		"textId": "t1",
		"gameId": "g1",
		"title":  "   ",
	})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField for blank value, got %v", err)
	}
}

func TestValidateSuccessReturnsDefinition(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	def, err := registry.Validate(TypeNotificationCreated, map[string]string{
		"notificationId": "n1",
		"recipientId":    "u1",
		"kind":           "vote.won",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if def.Root != RootNone {
		t.Fatalf("expected RootNone for notifications, got %v", def.Root)
	}
	if len(def.FanOuts) != 1 || def.FanOuts[0].Table != TableNotifications {
		t.Fatalf("unexpected fan-out rules: %+v", def.FanOuts)
	}
	if def.FanOuts[0].WriterIDField != "recipientId" {
		t.Fatalf("expected recipientId writer override, got %q", def.FanOuts[0].WriterIDField)
	}
}

func TestRootResolutionPerType(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	cases := map[Type]RootResolution{
		TypeRootPublished:       RootFromSelf,
		TypeContribPublished:    RootFromGame,
		TypeNoteAdded:           RootFromGame,
		TypeTextVoted:           RootFromGame,
		TypeGameClosed:          RootFromGame,
		TypeNotificationCreated: RootNone,
	}
	for typ, want := range cases {
		def, ok := registry.Definition(typ)
		if !ok {
			t.Fatalf("no definition for %s", typ)
		}
		if def.Root != want {
			t.Fatalf("%s: expected root resolution %v, got %v", typ, want, def.Root)
		}
	}
}
