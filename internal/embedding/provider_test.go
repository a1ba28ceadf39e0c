package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/flare576/ei/internal/eitypes"
)

func TestNormalizeEmbeddingUnitLength(t *testing.T) {
	vec := NormalizeEmbedding([]float64{3, 4})
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	if math.Abs(sumSquares-1) > 1e-9 {
		t.Fatalf("got magnitude^2 %v, want 1", sumSquares)
	}
}

func TestNormalizeEmbeddingGuardsNaNAndInf(t *testing.T) {
	vec := NormalizeEmbedding([]float64{1, math.NaN(), math.Inf(1)})
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("vec[%d] = %v, want finite", i, v)
		}
	}
}

func TestNormalizeEmbeddingZeroMagnitudePassesThrough(t *testing.T) {
	vec := NormalizeEmbedding([]float64{0, 0, 0})
	if vec[0] != 0 || vec[1] != 0 || vec[2] != 0 {
		t.Fatalf("got %v, want unchanged zero vector", vec)
	}
}

func TestMockProviderRecomputesOnEachCall(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	first, err := p.EmbedQuery(ctx, "short")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := p.EmbedQuery(ctx, "a much longer string")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if first[0] == second[0] {
		t.Fatalf("expected different vectors for different-length inputs")
	}
	if len(p.Calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(p.Calls))
	}
}

func TestResolveModelPrefersExplicitArgument(t *testing.T) {
	settings := eitypes.HumanSettings{
		ProviderAccounts: map[string]string{"embedding": "openai:text-embedding-3-large"},
		DefaultModel:     "openai:gpt-4o",
	}
	if got := ResolveModel(settings, "openai:explicit-model"); got != "openai:explicit-model" {
		t.Fatalf("got %q, want explicit model to win", got)
	}
}

func TestResolveModelFallsBackThroughChain(t *testing.T) {
	cases := []struct {
		name     string
		settings eitypes.HumanSettings
		want     string
	}{
		{
			name:     "embedding account mapping",
			settings: eitypes.HumanSettings{ProviderAccounts: map[string]string{"embedding": "local:bge-m3"}, OperationModelConcept: "openai:concept-model", DefaultModel: "openai:gpt-4o"},
			want:     "local:bge-m3",
		},
		{
			name:     "concept operation model",
			settings: eitypes.HumanSettings{OperationModelConcept: "openai:concept-model", DefaultModel: "openai:gpt-4o"},
			want:     "openai:concept-model",
		},
		{
			name:     "global default model",
			settings: eitypes.HumanSettings{DefaultModel: "openai:gpt-4o"},
			want:     "openai:gpt-4o",
		},
		{
			name:     "hardcoded fallback",
			settings: eitypes.HumanSettings{},
			want:     DefaultOpenAIEmbeddingModel,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveModel(tc.settings, ""); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewProviderForHumanUsesResolvedModel(t *testing.T) {
	settings := eitypes.HumanSettings{ProviderAccounts: map[string]string{"embedding": "text-embedding-3-large"}}
	p, err := NewProviderForHuman("test-key", "", settings, nil)
	if err != nil {
		t.Fatalf("NewProviderForHuman: %v", err)
	}
	if p.Model() != "text-embedding-3-large" {
		t.Fatalf("got model %q, want %q", p.Model(), "text-embedding-3-large")
	}
	if p.ID() != "openai" {
		t.Fatalf("got id %q, want openai", p.ID())
	}
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIProvider("", "", "", nil); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
