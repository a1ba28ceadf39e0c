package prompts

import (
	"strings"
	"testing"

	"github.com/flare576/ei/internal/eitypes"
)

func TestBuildResponsePromptUsesEiGuidelinesOnlyForEi(t *testing.T) {
	ei := BuildResponsePrompt(ResponseInput{Persona: PersonaView{Name: "Ei", IsEi: true}})
	if !strings.Contains(ei.System, "system-guide persona") {
		t.Fatalf("want Ei guideline text in system prompt, got %q", ei.System)
	}

	other := BuildResponsePrompt(ResponseInput{Persona: PersonaView{Name: "Rae", IsEi: false}})
	if strings.Contains(other.System, "system-guide persona") {
		t.Fatalf("non-Ei persona should not get the Ei framing, got %q", other.System)
	}
	if !strings.Contains(other.System, "Stay in character") {
		t.Fatalf("want universal guideline text, got %q", other.System)
	}
}

// Every response-family prompt must offer the "No Message" escape hatch
// (spec §4.5, §9 "fail closed" on no-reply detection).
func TestBuildResponsePromptAlwaysIncludesNoMessageInstruction(t *testing.T) {
	p := BuildResponsePrompt(ResponseInput{Persona: PersonaView{Name: "Rae"}})
	if !strings.Contains(p.System, "No Message") {
		t.Fatalf("want No Message instruction present, got %q", p.System)
	}
}

func TestBuildFastScanPromptExcludesKnownPersonaNamesFromPeople(t *testing.T) {
	p := BuildFastScanPrompt(FastScanInput{
		Bucket:            eitypes.BucketPerson,
		KnownPersonaNames: []string{"Rae", "Juno"},
	})
	if !strings.Contains(p.System, "Rae") || !strings.Contains(p.System, "Juno") {
		t.Fatalf("want known persona names surfaced so the model excludes them, got %q", p.System)
	}
}

func TestBuildItemUpdatePromptDistinguishesCreateFromUpdate(t *testing.T) {
	created := BuildItemUpdatePrompt(ItemUpdateInput{Bucket: eitypes.BucketFact})
	if !strings.Contains(created.System, "Create a new") {
		t.Fatalf("want create framing when Existing is nil, got %q", created.System)
	}

	existing := &eitypes.DataItemBase{Name: "Birthday"}
	updated := BuildItemUpdatePrompt(ItemUpdateInput{Bucket: eitypes.BucketFact, Existing: existing})
	if !strings.Contains(updated.System, "Update the existing") || !strings.Contains(updated.System, "Birthday") {
		t.Fatalf("want update framing naming the existing entry, got %q", updated.System)
	}
}
