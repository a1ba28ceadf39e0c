// Package state implements the C3 StateManager: the single in-memory
// authoritative copy of FullState, with typed CRUD over human/persona
// entities, the priority queue, and checkpoint slots. Every mutation
// updates the touched entity's last_updated field (spec §4.3); invariant
// violations return *eierrors.InvariantError and leave state untouched.
//
// Grounded on the teacher's domain-state-manager texture (pkg/connector/
// memory_manager.go: a mutex-guarded struct with a component logger,
// returning typed results rather than raw maps) adapted from a memory-search
// cache to the authoritative conversation/queue/checkpoint store this core
// needs.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eilog"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/storage"
)

// DefaultEiAlias is the reserved name of the always-present Ei persona
// seeded on first initialize (spec §4.3 "initialize... seeds defaults").
const DefaultEiAlias = "ei"

// DeadLetter records a queue item dropped after exhausting its attempt
// budget, the SUPPLEMENTED dead-letter debug sink (spec.md §3.4, expanded in
// SPEC_FULL.md).
type DeadLetter struct {
	ID       string
	ItemID   string
	Type     eitypes.RequestType
	Attempts int
	LastErr  string
	At       time.Time
}

const deadLetterCapacity = 200

// Manager is the C3 StateManager. All access goes through its methods,
// which hold the mutex for the duration of the mutation; no caller may hold
// a reference into Manager's internals across a suspension point (spec
// §4.11 "No state mutation may cross a suspension point").
type Manager struct {
	mu      sync.Mutex
	storage storage.Storage
	log     zerolog.Logger

	state eitypes.FullState

	deadLetters []DeadLetter
}

func New(store storage.Storage) *Manager {
	return &Manager{
		storage: store,
		log:     eilog.For("state-manager"),
	}
}

// Initialize loads state from storage, or seeds an empty human plus a
// default Ei persona when storage has nothing yet (spec §4.3).
func (m *Manager) Initialize(ctx context.Context) error {
	loaded, err := m.storage.Load(ctx)
	if err != nil {
		return &eierrors.StorageError{Op: "load", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if loaded != nil {
		m.state = *loaded
		if m.state.Personas == nil {
			m.state.Personas = make(map[string]eitypes.PersonaEntity)
		}
		if m.state.Messages == nil {
			m.state.Messages = make(map[string][]eitypes.Message)
		}
		return nil
	}

	m.state = eitypes.FullState{
		Version:  eitypes.CurrentBlobVersion,
		Personas: make(map[string]eitypes.PersonaEntity),
		Messages: make(map[string][]eitypes.Message),
	}
	ei := eitypes.PersonaEntity{
		ID:               uuid.NewString(),
		Entity:           "system",
		Name:             "Ei",
		Aliases:          []string{DefaultEiAlias},
		GroupPrimary:     eitypes.GeneralGroup,
		GroupsVisible:    []string{eitypes.WildcardGroup},
		IsDynamic:        true,
		HeartbeatDelayMs: eitypes.DefaultHeartbeatDelayMs,
		LastUpdated:      time.Now(),
	}
	m.state.Personas[ei.ID] = ei
	return nil
}

// Persist serializes the current state to storage.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.Lock()
	snapshot := m.cloneStateLocked()
	m.mu.Unlock()

	if err := m.storage.Save(ctx, &snapshot); err != nil {
		return &eierrors.StorageError{Op: "save", Err: err}
	}
	return nil
}

// cloneStateLocked returns a deep-enough copy for serialization: the top
// level and its maps/slices are copied so a concurrent mutation during
// marshal cannot race with storage.Save's encoding. Must be called with
// m.mu held.
func (m *Manager) cloneStateLocked() eitypes.FullState {
	out := m.state
	out.Personas = make(map[string]eitypes.PersonaEntity, len(m.state.Personas))
	for k, v := range m.state.Personas {
		out.Personas[k] = v
	}
	out.Messages = make(map[string][]eitypes.Message, len(m.state.Messages))
	for k, v := range m.state.Messages {
		msgs := make([]eitypes.Message, len(v))
		copy(msgs, v)
		out.Messages[k] = msgs
	}
	out.Queue.Items = append([]eitypes.QueueItem(nil), m.state.Queue.Items...)
	out.Checkpoints = append([]eitypes.CheckpointMeta(nil), m.state.Checkpoints...)
	out.Human.Facts = append([]eitypes.Fact(nil), m.state.Human.Facts...)
	out.Human.Traits = append([]eitypes.Trait(nil), m.state.Human.Traits...)
	out.Human.Topics = append([]eitypes.Topic(nil), m.state.Human.Topics...)
	out.Human.People = append([]eitypes.Person(nil), m.state.Human.People...)
	out.Human.Quotes = append([]eitypes.Quote(nil), m.state.Human.Quotes...)
	return out
}

// Snapshot returns a deep-enough copy of the full state, for checkpointing
// and for handing a read-only view to callers outside the package.
func (m *Manager) Snapshot() eitypes.FullState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloneStateLocked()
}

// DeadLetters returns every dropped queue item recorded so far, oldest
// first.
func (m *Manager) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.deadLetters))
	copy(out, m.deadLetters)
	return out
}

func (m *Manager) recordDeadLetterLocked(item eitypes.QueueItem, lastErr error) {
	dl := DeadLetter{
		ID:       xid.New().String(),
		ItemID:   item.ID,
		Type:     item.Type,
		Attempts: item.Attempts,
		At:       time.Now(),
	}
	if lastErr != nil {
		dl.LastErr = lastErr.Error()
	}
	m.deadLetters = append(m.deadLetters, dl)
	if len(m.deadLetters) > deadLetterCapacity {
		m.deadLetters = m.deadLetters[len(m.deadLetters)-deadLetterCapacity:]
	}
}
