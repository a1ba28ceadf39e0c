package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/events"
	"github.com/flare576/ei/internal/queueproc"
	"github.com/flare576/ei/internal/state"
	"github.com/flare576/ei/internal/storage"
)

func newTestHandlerContext(t *testing.T) (*Context, *state.Manager, eitypes.PersonaEntity) {
	t.Helper()
	st := state.New(storage.NewMemoryStorage())
	if err := st.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	persona, err := st.PersonaGet(state.DefaultEiAlias)
	if err != nil {
		t.Fatalf("PersonaGet: %v", err)
	}
	hc := &Context{State: st, Events: &events.Sink{}, Now: func() time.Time { return time.Now() }}
	return hc, st, *persona
}

// Scenario 5 (spec §8): Step 3 creates a new Fact from the analyzed
// message, tags it General (the persona's group_primary), and marks the
// message extracted.
func TestHandleItemUpdateCreatesNewFact(t *testing.T) {
	hc, st, persona := newTestHandlerContext(t)

	msg := st.MessagesAppend(persona.Name, eitypes.Message{
		Role:    eitypes.RoleHuman,
		Content: "My birthday is May 26, 1984",
	})

	item := eitypes.QueueItem{
		NextStep: eitypes.StepItemUpdate,
		Data: map[string]any{
			"bucket":       string(eitypes.BucketFact),
			"persona_id":   persona.ID,
			"persona_name": persona.Name,
			"match_id":     "",
			"message_ids":  []string{msg.ID},
		},
	}
	outcome := queueproc.Outcome{
		JSON: map[string]any{
			"name":        "Birthday",
			"description": "May 26, 1984",
			"sentiment":   0.0,
			"confidence":  0.9,
		},
	}

	follow, err := HandleItemUpdate(context.Background(), hc, item, outcome)
	if err != nil {
		t.Fatalf("HandleItemUpdate: %v", err)
	}
	if follow != nil {
		t.Fatalf("want no follow-up items, got %v", follow)
	}

	human := st.GetHuman()
	if len(human.Facts) != 1 {
		t.Fatalf("want 1 fact, got %d", len(human.Facts))
	}
	fact := human.Facts[0]
	if fact.Description != "May 26, 1984" {
		t.Fatalf("unexpected fact description: %q", fact.Description)
	}
	if len(fact.PersonaGroups) != 1 || fact.PersonaGroups[0] != eitypes.GeneralGroup {
		t.Fatalf("want persona_groups == [General], got %v", fact.PersonaGroups)
	}

	thread := st.MessagesGet(persona.Name, time.Time{})
	if !thread[0].FactDone {
		t.Fatalf("want scanned message marked fact-extracted, got %+v", thread[0])
	}
}

// Quote validation invariant (spec §8): a quote whose start/end are
// non-nil must satisfy messages[message_id].content[start:end] == text,
// and an LLM-proposed quote that cannot be located verbatim is discarded.
func TestExtractQuotesValidatesExactSubstring(t *testing.T) {
	hc, st, persona := newTestHandlerContext(t)

	msg := st.MessagesAppend(persona.Name, eitypes.Message{
		Role:    eitypes.RoleHuman,
		Content: "I always say: the best is yet to come.",
	})

	raw := map[string]any{
		"quotes": []any{
			map[string]any{"text": "the best is yet to come."},
			map[string]any{"text": "this text does not appear anywhere"},
		},
	}
	extractQuotes(hc, persona.Name, "item-1", persona.GroupPrimary, []string{msg.ID}, raw)

	quotes := st.GetHuman().Quotes
	if len(quotes) != 1 {
		t.Fatalf("want exactly 1 located quote, got %d: %+v", len(quotes), quotes)
	}
	q := quotes[0]
	if q.Start == nil || q.End == nil {
		t.Fatal("want start/end set for a located quote")
	}
	if msg.Content[*q.Start:*q.End] != q.Text {
		t.Fatalf("quote offsets don't round-trip: content[%d:%d]=%q, text=%q", *q.Start, *q.End, msg.Content[*q.Start:*q.End], q.Text)
	}
}

// Duplicate quotes (same message_id + [start,end]) are skipped.
func TestExtractQuotesSkipsDuplicates(t *testing.T) {
	hc, st, persona := newTestHandlerContext(t)
	msg := st.MessagesAppend(persona.Name, eitypes.Message{
		Role:    eitypes.RoleHuman,
		Content: "a memorable line here",
	})
	raw := map[string]any{"quotes": []any{map[string]any{"text": "memorable line"}}}

	extractQuotes(hc, persona.Name, "item-1", persona.GroupPrimary, []string{msg.ID}, raw)
	extractQuotes(hc, persona.Name, "item-1", persona.GroupPrimary, []string{msg.ID}, raw)

	quotes := st.GetHuman().Quotes
	if len(quotes) != 1 {
		t.Fatalf("want duplicate quote skipped, got %d entries", len(quotes))
	}
}
