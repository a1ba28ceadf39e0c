package storage

import (
	"context"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// FSStorage is a hand-editable C1 backend: the full-state blob and each
// checkpoint are written as json5 files a human can open and tweak directly,
// grounded on the teacher's cron store (pkg/cron/store.go LoadCronStore/
// SaveCronStore): tolerant parsing on read, an index file listing what's on
// disk, and a ".bak" copy kept alongside every write.
type FSStorage struct {
	dir string
}

const (
	fsStateFile           = "state.json5"
	fsCheckpointDir       = "checkpoints"
	fsCheckpointIndexFile = "index.json5"
)

// NewFSStorage opens a filesystem-backed Storage rooted at dir, creating it
// if necessary.
func NewFSStorage(dir string) (*FSStorage, error) {
	if err := os.MkdirAll(filepath.Join(dir, fsCheckpointDir), 0o755); err != nil {
		return nil, &eierrors.StorageError{Op: "open", Err: err}
	}
	return &FSStorage{dir: dir}, nil
}

func (s *FSStorage) Load(ctx context.Context) (*eitypes.FullState, error) {
	data, ok, err := readFile(filepath.Join(s.dir, fsStateFile))
	if err != nil {
		return nil, &eierrors.StorageError{Op: "load", Err: err}
	}
	if !ok {
		return nil, nil
	}
	var state eitypes.FullState
	if err := json5.Unmarshal(data, &state); err != nil {
		return nil, &eierrors.StorageError{Op: "decode", Err: err}
	}
	return &state, nil
}

func (s *FSStorage) Save(ctx context.Context, state *eitypes.FullState) error {
	data, err := json5.MarshalIndent(state, "", "  ")
	if err != nil {
		return &eierrors.StorageError{Op: "save", Err: err}
	}
	return writeFileWithBackup(filepath.Join(s.dir, fsStateFile), data)
}

type checkpointIndex struct {
	Entries []eitypes.CheckpointMeta `json:"entries"`
}

func (s *FSStorage) loadIndex() checkpointIndex {
	data, ok, err := readFile(filepath.Join(s.dir, fsCheckpointDir, fsCheckpointIndexFile))
	if err != nil || !ok {
		return checkpointIndex{}
	}
	var idx checkpointIndex
	if err := json5.Unmarshal(data, &idx); err != nil {
		return checkpointIndex{}
	}
	return idx
}

func (s *FSStorage) saveIndex(idx checkpointIndex) error {
	data, err := json5.MarshalIndent(idx, "", "  ")
	if err != nil {
		return &eierrors.StorageError{Op: "put_checkpoint", Err: err}
	}
	return writeFileWithBackup(filepath.Join(s.dir, fsCheckpointDir, fsCheckpointIndexFile), data)
}

func (s *FSStorage) ListCheckpoints(ctx context.Context) ([]eitypes.CheckpointMeta, error) {
	idx := s.loadIndex()
	return idx.Entries, nil
}

func (s *FSStorage) GetCheckpoint(ctx context.Context, id string) (*eitypes.CheckpointMeta, []byte, error) {
	idx := s.loadIndex()
	for _, meta := range idx.Entries {
		if meta.ID != id {
			continue
		}
		blob, ok, err := readFile(s.checkpointPath(id))
		if err != nil || !ok {
			return nil, nil, &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
		}
		found := meta
		return &found, blob, nil
	}
	return nil, nil, &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
}

func (s *FSStorage) PutCheckpoint(ctx context.Context, meta eitypes.CheckpointMeta, blob []byte) error {
	if err := writeFileWithBackup(s.checkpointPath(meta.ID), blob); err != nil {
		return &eierrors.StorageError{Op: "put_checkpoint", Err: err}
	}
	idx := s.loadIndex()
	replaced := false
	for i, existing := range idx.Entries {
		if existing.ID == meta.ID {
			idx.Entries[i] = meta
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Entries = append(idx.Entries, meta)
	}
	return s.saveIndex(idx)
}

func (s *FSStorage) DeleteCheckpoint(ctx context.Context, id string) error {
	idx := s.loadIndex()
	kept := idx.Entries[:0]
	found := false
	for _, meta := range idx.Entries {
		if meta.ID == id {
			found = true
			continue
		}
		kept = append(kept, meta)
	}
	if !found {
		return &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
	}
	idx.Entries = kept
	if err := s.saveIndex(idx); err != nil {
		return err
	}
	_ = os.Remove(s.checkpointPath(id))
	return nil
}

func (s *FSStorage) checkpointPath(id string) string {
	return filepath.Join(s.dir, fsCheckpointDir, id+".json5")
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// writeFileWithBackup keeps a ".bak" copy of whatever was previously on
// disk before overwriting, the same safety net pkg/cron/store.go's
// SaveCronStore gives its hand-edited job file.
func writeFileWithBackup(path string, data []byte) error {
	if existing, ok, err := readFile(path); err == nil && ok {
		_ = os.WriteFile(path+".bak", existing, 0o644)
	}
	return os.WriteFile(path, data, 0o644)
}
