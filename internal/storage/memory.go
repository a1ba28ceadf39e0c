package storage

import (
	"context"
	"sync"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// MemoryStorage is an in-process Storage used by tests and cmd/eicore's
// demo driver. State is held as an encoded blob rather than a live pointer
// so Load/Save exercise the same copy semantics a real backend would.
type MemoryStorage struct {
	mu          sync.Mutex
	blob        []byte
	checkpoints map[string]storedCheckpoint
}

type storedCheckpoint struct {
	meta eitypes.CheckpointMeta
	blob []byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{checkpoints: make(map[string]storedCheckpoint)}
}

func (m *MemoryStorage) Load(ctx context.Context) (*eitypes.FullState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, nil
	}
	return decodeState(m.blob)
}

func (m *MemoryStorage) Save(ctx context.Context, state *eitypes.FullState) error {
	data, err := encodeState(state)
	if err != nil {
		return &eierrors.StorageError{Op: "save", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = data
	return nil
}

func (m *MemoryStorage) ListCheckpoints(ctx context.Context) ([]eitypes.CheckpointMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eitypes.CheckpointMeta, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp.meta)
	}
	return out, nil
}

func (m *MemoryStorage) GetCheckpoint(ctx context.Context, id string) (*eitypes.CheckpointMeta, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[id]
	if !ok {
		return nil, nil, &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
	}
	blob := make([]byte, len(cp.blob))
	copy(blob, cp.blob)
	meta := cp.meta
	return &meta, blob, nil
}

func (m *MemoryStorage) PutCheckpoint(ctx context.Context, meta eitypes.CheckpointMeta, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.checkpoints[meta.ID] = storedCheckpoint{meta: meta, blob: stored}
	return nil
}

func (m *MemoryStorage) DeleteCheckpoint(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[id]; !ok {
		return &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
	}
	delete(m.checkpoints, id)
	return nil
}
