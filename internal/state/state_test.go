package state

import (
	"context"
	"testing"
	"time"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(storage.NewMemoryStorage())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}

func TestInitializeSeedsDefaultEiPersona(t *testing.T) {
	m := newTestManager(t)
	ei, err := m.PersonaGet(DefaultEiAlias)
	if err != nil {
		t.Fatalf("get ei: %v", err)
	}
	if ei.GroupPrimary != eitypes.GeneralGroup {
		t.Fatalf("got group_primary %q, want %q", ei.GroupPrimary, eitypes.GeneralGroup)
	}
	if !ei.IsEi() {
		t.Fatalf("expected default persona to be recognized as Ei via wildcard visibility")
	}
}

func TestPersonaAddRejectsDuplicateAlias(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.PersonaAdd(eitypes.PersonaEntity{Name: "Rho", Aliases: []string{"rho"}}); err != nil {
		t.Fatalf("add rho: %v", err)
	}
	_, err := m.PersonaAdd(eitypes.PersonaEntity{Name: "Rho2", Aliases: []string{"rho"}})
	if !eierrors.IsInvariant(err) {
		t.Fatalf("got %v, want InvariantError on duplicate alias", err)
	}
}

func TestHumanFactUpsertDefaultsGroupsFromLearner(t *testing.T) {
	m := newTestManager(t)
	fact := m.HumanFactUpsert(eitypes.Fact{DataItemBase: eitypes.DataItemBase{Name: "likes tea"}}, "Work")
	if len(fact.PersonaGroups) != 1 || fact.PersonaGroups[0] != "Work" {
		t.Fatalf("got %v, want [Work]", fact.PersonaGroups)
	}

	updated := m.HumanFactUpsert(fact, "Other")
	if updated.ID != fact.ID {
		t.Fatalf("expected upsert by id to update in place, got new id %s vs %s", updated.ID, fact.ID)
	}
	// Groups were already set, so a second upsert doesn't overwrite them.
	if updated.PersonaGroups[0] != "Work" {
		t.Fatalf("got %v, want groups preserved across update", updated.PersonaGroups)
	}
}

func TestQueuePeekHighestPicksTopPriorityFIFOWithinBand(t *testing.T) {
	m := newTestManager(t)
	low := m.QueueEnqueue(eitypes.QueueItem{Priority: eitypes.PriorityLow})
	m.QueueEnqueue(eitypes.QueueItem{Priority: eitypes.PriorityNormal})
	first := m.QueueEnqueue(eitypes.QueueItem{Priority: eitypes.PriorityHigh})
	second := m.QueueEnqueue(eitypes.QueueItem{Priority: eitypes.PriorityHigh})

	top := m.QueuePeekHighest(time.Now())
	if top == nil || top.ID != first.ID {
		t.Fatalf("got %+v, want first high-priority item %s", top, first.ID)
	}

	if err := m.QueueComplete(first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	top = m.QueuePeekHighest(time.Now())
	if top == nil || top.ID != second.ID {
		t.Fatalf("got %+v, want second high-priority item %s", top, second.ID)
	}
	_ = low
}

func TestQueueFailDropsAfterMaxAttemptsAndRecordsDeadLetter(t *testing.T) {
	m := newTestManager(t)
	item := m.QueueEnqueue(eitypes.QueueItem{Priority: eitypes.PriorityNormal, Type: eitypes.RequestResponse})

	for i := 0; i < eitypes.MaxAttempts-1; i++ {
		if err := m.QueueFail(item.ID, nil); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
		if m.QueueLen() != 1 {
			t.Fatalf("expected item still queued after %d failures", i+1)
		}
	}

	if err := m.QueueFail(item.ID, errTestCause); err != nil {
		t.Fatalf("final fail: %v", err)
	}
	if m.QueueLen() != 0 {
		t.Fatalf("expected item dropped after reaching MaxAttempts")
	}
	letters := m.DeadLetters()
	if len(letters) != 1 || letters[0].ItemID != item.ID {
		t.Fatalf("got %+v, want one dead letter for %s", letters, item.ID)
	}
}

var errTestCause = &eierrors.ProviderError{Err: errBoom{}}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestCheckpointAutoSlotsFIFOEviction(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < eitypes.AutoSlotCount; i++ {
		meta, err := m.CheckpointCreate(ctx, eitypes.CheckpointAuto, "auto")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, meta.ID)
	}
	if len(m.CheckpointList()) != eitypes.AutoSlotCount {
		t.Fatalf("expected %d auto checkpoints, got %d", eitypes.AutoSlotCount, len(m.CheckpointList()))
	}

	// One more should evict the oldest (ids[0]) rather than erroring.
	newest, err := m.CheckpointCreate(ctx, eitypes.CheckpointAuto, "auto")
	if err != nil {
		t.Fatalf("create overflow: %v", err)
	}
	list := m.CheckpointList()
	if len(list) != eitypes.AutoSlotCount {
		t.Fatalf("expected slot count to stay at %d after eviction, got %d", eitypes.AutoSlotCount, len(list))
	}
	for _, cp := range list {
		if cp.ID == ids[0] {
			t.Fatalf("expected oldest auto checkpoint %s to be evicted", ids[0])
		}
	}
	if _, _, err := m.storage.GetCheckpoint(ctx, ids[0]); !eierrors.IsNotFound(err) {
		t.Fatalf("expected evicted checkpoint removed from storage, got %v", err)
	}
	_ = newest
}

func TestCheckpointManualSlotsFullErrors(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	for i := 0; i < eitypes.ManualSlotCount; i++ {
		if _, err := m.CheckpointCreate(ctx, eitypes.CheckpointManual, "manual"); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := m.CheckpointCreate(ctx, eitypes.CheckpointManual, "overflow")
	if !eierrors.IsCheckpointFull(err) {
		t.Fatalf("got %v, want CheckpointFullError", err)
	}
}

func TestCheckpointRestoreFailsWhenQueueBusy(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	meta, err := m.CheckpointCreate(ctx, eitypes.CheckpointAuto, "baseline")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m.QueueEnqueue(eitypes.QueueItem{Priority: eitypes.PriorityNormal})
	if err := m.CheckpointRestore(ctx, meta.ID); !eierrors.IsInvariant(err) {
		t.Fatalf("got %v, want InvariantError while queue busy", err)
	}

	m.QueuePause()
	if err := m.CheckpointRestore(ctx, meta.ID); err != nil {
		t.Fatalf("restore while paused: %v", err)
	}
}

func TestMessagesClearPendingRemovesOnlyTrailingHumanTurn(t *testing.T) {
	m := newTestManager(t)
	m.MessagesAppend("ei", eitypes.Message{Role: eitypes.RoleHuman, Content: "hi"})
	m.MessagesAppend("ei", eitypes.Message{Role: eitypes.RoleSystem, Content: "hello"})
	m.MessagesAppend("ei", eitypes.Message{Role: eitypes.RoleHuman, Content: "pending"})

	m.MessagesClearPending("ei")
	msgs := m.MessagesGet("ei", time.Time{})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 after clearing trailing pending human turn", len(msgs))
	}
	if msgs[len(msgs)-1].Content != "hello" {
		t.Fatalf("got last message %q, want %q", msgs[len(msgs)-1].Content, "hello")
	}
}
