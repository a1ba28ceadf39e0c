package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/flare576/ei/internal/eitypes"
)

const (
	DefaultOpenAIBaseURL        = "https://api.openai.com/v1"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// NormalizeOpenAIModel strips a leading "openai/" alias prefix or the
// "openai:" provider prefix that persona/human settings carry in their
// provider:model strings (spec §6).
func NormalizeOpenAIModel(model string) string {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return DefaultOpenAIEmbeddingModel
	}
	if after, ok := strings.CutPrefix(trimmed, "openai/"); ok {
		return after
	}
	if after, ok := strings.CutPrefix(trimmed, "openai:"); ok {
		return after
	}
	return trimmed
}

// NewOpenAIProvider builds an embedding Provider against an OpenAI-compatible
// /v1/embeddings endpoint, grounded on the teacher's
// pkg/memory/embedding/openai.go with the httputil header-option dependency
// inlined (nothing else in this tree needs that package). baseURL is
// pluggable the same way internal/llm.OpenAIBackend's is: pointing it at a
// self-hosted endpoint is how the core talks to a local embedding server, so
// there is no separate "local" provider to maintain alongside this one.
func NewOpenAIProvider(apiKey, baseURL, model string, headers map[string]string) (Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai embeddings require api_key")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)}
	for key, value := range headers {
		if strings.TrimSpace(value) == "" {
			continue
		}
		opts = append(opts, option.WithHeader(key, value))
	}
	client := openai.NewClient(opts...)
	normalized := NormalizeOpenAIModel(model)

	embedBatch := func(ctx context.Context, texts []string) ([][]float64, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		params := openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(normalized),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		}
		resp, err := client.Embeddings.New(ctx, params)
		if err != nil {
			return nil, err
		}
		out := make([][]float64, 0, len(resp.Data))
		for _, entry := range resp.Data {
			out = append(out, NormalizeEmbedding(entry.Embedding))
		}
		return out, nil
	}

	return &funcProvider{
		id:    "openai",
		model: normalized,
		embedQuery: func(ctx context.Context, text string) ([]float64, error) {
			results, err := embedBatch(ctx, []string{text})
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return nil, nil
			}
			return results[0], nil
		},
		embedBatch: embedBatch,
	}, nil
}

// NewProviderForHuman builds the embedding provider the core actually wires
// into Processor.Config.Embedding, resolving the model through ResolveModel
// against the human's settings instead of a bare constant. apiKey/baseURL
// come from the environment the same way the LLM transport's do
// (EI_LLM_API_KEY/EI_LLM_BASE_URL, or an embedding-specific override);
// headers carry any provider-required extras (spec §6: "provider headers
// are the transport's concern").
func NewProviderForHuman(apiKey, baseURL string, settings eitypes.HumanSettings, headers map[string]string) (Provider, error) {
	model := ResolveModel(settings, "")
	return NewOpenAIProvider(apiKey, baseURL, model, headers)
}
