// Package embedding computes the optional `embedding` field on human data
// items (spec §3.1), recomputed only when a data item's name/description or
// a quote's text changes (spec §4.6). A Provider is attached to the
// processor optionally; when none is configured, embeddings stay nil and
// callers skip the field entirely.
package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/flare576/ei/internal/eitypes"
)

// Provider mirrors the teacher's memory.EmbeddingProvider interface
// (pkg/memory/types.go) trimmed to the two operations the core actually
// calls: a single query embedding and a batch embedding for backfill.
type Provider interface {
	ID() string
	Model() string
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// funcProvider adapts the teacher's closure-based Provider struct
// (pkg/memory/embedding/provider.go) to an interface so the OpenAI
// constructor below can be reached through ResolveModel's selection chain
// without an HTTP client field tying the interface to one transport shape.
type funcProvider struct {
	id         string
	model      string
	embedQuery func(ctx context.Context, text string) ([]float64, error)
	embedBatch func(ctx context.Context, texts []string) ([][]float64, error)
}

func (p *funcProvider) ID() string    { return p.id }
func (p *funcProvider) Model() string { return p.model }

func (p *funcProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if p.embedQuery == nil {
		return nil, nil
	}
	return p.embedQuery(ctx, text)
}

func (p *funcProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if p.embedBatch == nil {
		return nil, nil
	}
	return p.embedBatch(ctx, texts)
}

// NormalizeEmbedding L2-normalizes a raw embedding vector, guarding against
// NaN/Inf components and near-zero magnitude (grounded on the teacher's
// NormalizeEmbedding, pkg/memory/embedding/provider.go).
func NormalizeEmbedding(vec []float64) []float64 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sum += v * v
		}
	}
	if sum <= 0 {
		return vec
	}
	mag := math.Sqrt(sum)
	if mag < 1e-10 {
		return vec
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		} else {
			out[i] = v / mag
		}
	}
	return out
}

// embeddingAccountKey is the HumanSettings.ProviderAccounts key the core
// checks for an embedding-specific "account:model" mapping, ahead of the
// operation-level and global model settings. Embeddings ride along with the
// concept-extraction pipeline (Processor.maybeEmbedItem, called only from
// the human-data upsert path the three-step Scan/Match/Update orchestrator
// feeds) so a human who wants a cheaper or local embedding model than their
// chat model sets provider_accounts["embedding"] without touching
// operation_model_concept.
const embeddingAccountKey = "embedding"

// ResolveModel implements spec §6's model selection chain, specialized to
// the embedding operation: an explicit model argument (a future per-call
// override) → HumanSettings.ProviderAccounts["embedding"] → the concept
// operation's model (extraction is the embedding pipeline's only feeder) →
// the human's global default model → the hardcoded fallback. It never
// consults a persona's Model field: embeddings are computed on human data
// items, which are not persona-scoped.
func ResolveModel(settings eitypes.HumanSettings, explicitModel string) string {
	if m := strings.TrimSpace(explicitModel); m != "" {
		return m
	}
	if settings.ProviderAccounts != nil {
		if m := strings.TrimSpace(settings.ProviderAccounts[embeddingAccountKey]); m != "" {
			return m
		}
	}
	if m := strings.TrimSpace(settings.OperationModelConcept); m != "" {
		return m
	}
	if m := strings.TrimSpace(settings.DefaultModel); m != "" {
		return m
	}
	return DefaultOpenAIEmbeddingModel
}
