// Package storage implements the C1 storage contract (spec §4.1): load and
// save the whole FullState blob, plus a checkpoint side-table. Every
// implementation must be atomic at the blob level, so callers never observe
// a partial read.
package storage

import (
	"context"
	"encoding/json"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// Storage is the C1 contract. Implementations wrap save/checkpoint failures
// in eierrors.StorageError; load failure at startup is fatal to the caller,
// everything else is treated as non-fatal and surfaced as an error event.
type Storage interface {
	Load(ctx context.Context) (*eitypes.FullState, error)
	Save(ctx context.Context, state *eitypes.FullState) error
	ListCheckpoints(ctx context.Context) ([]eitypes.CheckpointMeta, error)
	GetCheckpoint(ctx context.Context, id string) (*eitypes.CheckpointMeta, []byte, error)
	PutCheckpoint(ctx context.Context, meta eitypes.CheckpointMeta, blob []byte) error
	DeleteCheckpoint(ctx context.Context, id string) error
}

// encodeState and decodeState give the SQLite and in-memory backends the
// same blob shape (plain JSON), so both round-trip identically. FSStorage
// does not use them: it writes json5 through its own marshalling.
func encodeState(state *eitypes.FullState) ([]byte, error) {
	return json.Marshal(state)
}

func decodeState(data []byte) (*eitypes.FullState, error) {
	var state eitypes.FullState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &eierrors.StorageError{Op: "decode", Err: err}
	}
	return &state, nil
}
