package state

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// CheckpointCreate snapshots the current state into a checkpoint slot.
// Auto slots (0-9) are FIFO: when all ten are occupied, the oldest is
// evicted to make room. Manual slots (10-14) are bounded; all five full
// fails with CheckpointFullError (spec §4.3, §3.5).
func (m *Manager) CheckpointCreate(ctx context.Context, kind eitypes.CheckpointKind, name string) (*eitypes.CheckpointMeta, error) {
	m.mu.Lock()
	snapshot := m.cloneStateLocked()
	existing := append([]eitypes.CheckpointMeta(nil), m.state.Checkpoints...)
	m.mu.Unlock()

	slot, evictID, err := pickSlot(existing, kind)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return nil, &eierrors.StorageError{Op: "checkpoint_encode", Err: err}
	}

	meta := eitypes.CheckpointMeta{
		ID:        uuid.NewString(),
		Slot:      slot,
		Name:      name,
		CreatedAt: time.Now(),
		Kind:      kind,
	}

	if evictID != "" {
		if err := m.storage.DeleteCheckpoint(ctx, evictID); err != nil && !eierrors.IsNotFound(err) {
			return nil, err
		}
	}
	if err := m.storage.PutCheckpoint(ctx, meta, blob); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := existing[:0]
	for _, cp := range existing {
		if cp.ID != evictID {
			filtered = append(filtered, cp)
		}
	}
	m.state.Checkpoints = append(filtered, meta)
	return &meta, nil
}

// pickSlot chooses the slot number for a new checkpoint of the given kind
// and, for a full auto ring, the id of the oldest entry to evict.
func pickSlot(existing []eitypes.CheckpointMeta, kind eitypes.CheckpointKind) (slot int, evictID string, err error) {
	used := make(map[int]eitypes.CheckpointMeta)
	for _, cp := range existing {
		if cp.Kind == kind {
			used[cp.Slot] = cp
		}
	}

	if kind == eitypes.CheckpointAuto {
		for s := 0; s < eitypes.AutoSlotCount; s++ {
			if _, taken := used[s]; !taken {
				return s, "", nil
			}
		}
		oldest := oldestOf(used)
		return oldest.Slot, oldest.ID, nil
	}

	for s := eitypes.ManualSlotStart; s < eitypes.ManualSlotStart+eitypes.ManualSlotCount; s++ {
		if _, taken := used[s]; !taken {
			return s, "", nil
		}
	}
	return 0, "", &eierrors.CheckpointFullError{}
}

func oldestOf(used map[int]eitypes.CheckpointMeta) eitypes.CheckpointMeta {
	var list []eitypes.CheckpointMeta
	for _, cp := range used {
		list = append(list, cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list[0]
}

// CheckpointRestore replaces the live state with a checkpoint's snapshot.
// Fails if the queue is non-empty and not paused (spec §4.3).
func (m *Manager) CheckpointRestore(ctx context.Context, id string) error {
	m.mu.Lock()
	queueBusy := len(m.state.Queue.Items) > 0 && !m.state.Queue.Paused
	m.mu.Unlock()
	if queueBusy {
		return eierrors.NewInvariantError("cannot restore checkpoint %s: queue is non-empty and not paused", id)
	}

	_, blob, err := m.storage.GetCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	var snapshot eitypes.FullState
	if err := json.Unmarshal(blob, &snapshot); err != nil {
		return &eierrors.StorageError{Op: "checkpoint_decode", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = snapshot
	if m.state.Personas == nil {
		m.state.Personas = make(map[string]eitypes.PersonaEntity)
	}
	if m.state.Messages == nil {
		m.state.Messages = make(map[string][]eitypes.Message)
	}
	return nil
}

func (m *Manager) CheckpointList() []eitypes.CheckpointMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eitypes.CheckpointMeta, len(m.state.Checkpoints))
	copy(out, m.state.Checkpoints)
	return out
}

func (m *Manager) CheckpointDelete(ctx context.Context, id string) error {
	if err := m.storage.DeleteCheckpoint(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cp := range m.state.Checkpoints {
		if cp.ID == id {
			m.state.Checkpoints = append(m.state.Checkpoints[:i], m.state.Checkpoints[i+1:]...)
			return nil
		}
	}
	return nil
}
