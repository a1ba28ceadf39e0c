package orchestrators

import (
	"context"
	"testing"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/state"
	"github.com/flare576/ei/internal/storage"
)

func newTestManager(t *testing.T) *state.Manager {
	t.Helper()
	st := state.New(storage.NewMemoryStorage())
	if err := st.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return st
}

// Daily ceremony replies resolve validations by their rendered index:
// "keep" leaves the item as-is, "delete" removes it, "move <group>"
// re-tags its persona_groups (spec §4.7 Daily Ceremony).
func TestApplyDailyCeremonyReplyActions(t *testing.T) {
	st := newTestManager(t)
	fact := st.HumanFactUpsert(eitypes.Fact{DataItemBase: eitypes.DataItemBase{Name: "keepme"}}, eitypes.GeneralGroup)
	trait := st.HumanTraitUpsert(eitypes.Trait{DataItemBase: eitypes.DataItemBase{Name: "deleteme"}}, eitypes.GeneralGroup)
	topic := st.HumanTopicUpsert(eitypes.Topic{DataItemBase: eitypes.DataItemBase{Name: "moveme"}}, eitypes.GeneralGroup)

	st.ValidationEnqueue(eitypes.Validation{Kind: eitypes.ValidationCrossPersonaWrite, Bucket: eitypes.BucketFact, ItemID: fact.ID, Summary: "fact"})
	st.ValidationEnqueue(eitypes.Validation{Kind: eitypes.ValidationCrossPersonaWrite, Bucket: eitypes.BucketTrait, ItemID: trait.ID, Summary: "trait"})
	st.ValidationEnqueue(eitypes.Validation{Kind: eitypes.ValidationCrossPersonaWrite, Bucket: eitypes.BucketTopic, ItemID: topic.ID, Summary: "topic"})

	reply := "1: keep\n2: delete\n3: move Rae"
	resolved := ApplyDailyCeremonyReply(st, reply)

	if len(resolved) != 3 {
		t.Fatalf("want 3 resolved lines, got %d: %v", len(resolved), resolved)
	}
	if len(st.ValidationList()) != 0 {
		t.Fatalf("want all validations resolved, got %d remaining", len(st.ValidationList()))
	}

	human := st.GetHuman()
	found := false
	for _, f := range human.Facts {
		if f.ID == fact.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("kept fact should still exist")
	}

	for _, tr := range human.Traits {
		if tr.ID == trait.ID {
			t.Fatal("deleted trait should be gone")
		}
	}

	for _, tp := range human.Topics {
		if tp.ID == topic.ID {
			if len(tp.PersonaGroups) != 1 || tp.PersonaGroups[0] != "Rae" {
				t.Fatalf("want moved topic tagged to [Rae], got %v", tp.PersonaGroups)
			}
		}
	}
}

// Lines that don't reference a pending validation's index are ignored and
// leave it pending for the next ceremony.
func TestApplyDailyCeremonyReplyIgnoresUnmatchedLines(t *testing.T) {
	st := newTestManager(t)
	fact := st.HumanFactUpsert(eitypes.Fact{DataItemBase: eitypes.DataItemBase{Name: "f"}}, eitypes.GeneralGroup)
	st.ValidationEnqueue(eitypes.Validation{Kind: eitypes.ValidationCrossPersonaWrite, Bucket: eitypes.BucketFact, ItemID: fact.ID, Summary: "fact"})

	resolved := ApplyDailyCeremonyReply(st, "not a recognized reply format")

	if len(resolved) != 0 {
		t.Fatalf("want no resolved lines, got %v", resolved)
	}
	if len(st.ValidationList()) != 1 {
		t.Fatalf("want validation to remain pending, got %d", len(st.ValidationList()))
	}
}
