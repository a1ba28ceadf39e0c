package embedding

import "context"

// MockProvider returns a deterministic fixed-length vector derived from the
// input's length, letting tests assert "recomputed" vs "unchanged" without
// depending on network access.
type MockProvider struct {
	IDValue    string
	ModelValue string
	Calls      []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{IDValue: "mock", ModelValue: "mock-embed-v1"}
}

func (m *MockProvider) ID() string    { return m.IDValue }
func (m *MockProvider) Model() string { return m.ModelValue }

func (m *MockProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	m.Calls = append(m.Calls, text)
	return NormalizeEmbedding([]float64{float64(len(text)), 1, 1}), nil
}

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := m.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
