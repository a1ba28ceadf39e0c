package state

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// PersonaList returns every persona, in no particular order.
func (m *Manager) PersonaList() []eitypes.PersonaEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eitypes.PersonaEntity, 0, len(m.state.Personas))
	for _, p := range m.state.Personas {
		out = append(out, p)
	}
	return out
}

// PersonaGet looks up a persona by id, name, or alias (case-insensitive).
func (m *Manager) PersonaGet(nameOrAlias string) (*eitypes.PersonaEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.findPersonaLocked(nameOrAlias)
	if !ok {
		return nil, &eierrors.NotFoundError{Kind: "persona", ID: nameOrAlias}
	}
	out := p
	return &out, nil
}

func (m *Manager) findPersonaLocked(nameOrAlias string) (eitypes.PersonaEntity, bool) {
	if p, ok := m.state.Personas[nameOrAlias]; ok {
		return p, true
	}
	want := strings.ToLower(nameOrAlias)
	for _, p := range m.state.Personas {
		if strings.ToLower(p.Name) == want {
			return p, true
		}
		for _, alias := range p.Aliases {
			if strings.ToLower(alias) == want {
				return p, true
			}
		}
	}
	return eitypes.PersonaEntity{}, false
}

// aliasTakenLocked reports whether any alias in candidates is already used
// by a different persona (spec §4.3 "Two personas may not share an alias").
func (m *Manager) aliasTakenLocked(excludeID string, candidates []string) (string, bool) {
	for _, candidate := range candidates {
		want := strings.ToLower(candidate)
		for id, p := range m.state.Personas {
			if id == excludeID {
				continue
			}
			for _, alias := range p.Aliases {
				if strings.ToLower(alias) == want {
					return candidate, true
				}
			}
			if strings.ToLower(p.Name) == want {
				return candidate, true
			}
		}
	}
	return "", false
}

// PersonaAdd creates a new persona. Name uniqueness is not enforced; alias
// uniqueness is (spec §4.3).
func (m *Manager) PersonaAdd(persona eitypes.PersonaEntity) (eitypes.PersonaEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clash, taken := m.aliasTakenLocked("", persona.Aliases); taken {
		return eitypes.PersonaEntity{}, eierrors.NewInvariantError("alias %q already in use", clash)
	}
	if persona.ID == "" {
		persona.ID = uuid.NewString()
	}
	if persona.Entity == "" {
		persona.Entity = "system"
	}
	if persona.GroupPrimary == "" {
		persona.GroupPrimary = eitypes.GeneralGroup
	}
	if persona.HeartbeatDelayMs == 0 {
		persona.HeartbeatDelayMs = eitypes.DefaultHeartbeatDelayMs
	}
	persona.LastUpdated = time.Now()
	if m.state.Personas == nil {
		m.state.Personas = make(map[string]eitypes.PersonaEntity)
	}
	m.state.Personas[persona.ID] = persona
	return persona, nil
}

// PersonaUpdate applies a full replacement of a persona's mutable fields,
// keyed by id. Re-checks alias uniqueness against every other persona.
func (m *Manager) PersonaUpdate(persona eitypes.PersonaEntity) (eitypes.PersonaEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.state.Personas[persona.ID]
	if !ok {
		return eitypes.PersonaEntity{}, &eierrors.NotFoundError{Kind: "persona", ID: persona.ID}
	}
	if clash, taken := m.aliasTakenLocked(persona.ID, persona.Aliases); taken {
		return eitypes.PersonaEntity{}, eierrors.NewInvariantError("alias %q already in use", clash)
	}
	persona.LastUpdated = time.Now()
	persona.IsArchived = existing.IsArchived
	persona.ArchivedDate = existing.ArchivedDate
	m.state.Personas[persona.ID] = persona
	return persona, nil
}

func (m *Manager) PersonaRemove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.Personas[id]; !ok {
		return &eierrors.NotFoundError{Kind: "persona", ID: id}
	}
	delete(m.state.Personas, id)
	return nil
}

func (m *Manager) PersonaArchive(id string) error {
	return m.mutatePersonaLocked(id, func(p *eitypes.PersonaEntity) {
		now := time.Now()
		p.IsArchived = true
		p.ArchivedDate = &now
	})
}

func (m *Manager) PersonaUnarchive(id string) error {
	return m.mutatePersonaLocked(id, func(p *eitypes.PersonaEntity) {
		p.IsArchived = false
		p.ArchivedDate = nil
	})
}

func (m *Manager) PersonaPause(id string, until *time.Time) error {
	return m.mutatePersonaLocked(id, func(p *eitypes.PersonaEntity) {
		p.IsPaused = true
		p.PauseUntil = until
	})
}

func (m *Manager) PersonaUnpause(id string) error {
	return m.mutatePersonaLocked(id, func(p *eitypes.PersonaEntity) {
		p.IsPaused = false
		p.PauseUntil = nil
	})
}

// PersonaMarkHeartbeat records that a persona's heartbeat fired, including
// the "No Message" case where no reply was appended (spec §8 boundary
// behaviors: "last_heartbeat is updated" even on silence).
func (m *Manager) PersonaMarkHeartbeat(id string, at time.Time) error {
	return m.mutatePersonaLocked(id, func(p *eitypes.PersonaEntity) {
		p.LastHeartbeat = &at
	})
}

// PersonaSetAwaitingCeremonyResponse marks whether a persona's most recent
// outgoing message was a ceremony prompt awaiting the human's reply, which
// suppresses heartbeat eligibility (spec §4.10).
func (m *Manager) PersonaSetAwaitingCeremonyResponse(id string, awaiting bool) error {
	return m.mutatePersonaLocked(id, func(p *eitypes.PersonaEntity) {
		p.AwaitingCeremonyResponse = awaiting
	})
}

func (m *Manager) mutatePersonaLocked(id string, fn func(*eitypes.PersonaEntity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.Personas[id]
	if !ok {
		return &eierrors.NotFoundError{Kind: "persona", ID: id}
	}
	fn(&p)
	p.LastUpdated = time.Now()
	m.state.Personas[id] = p
	return nil
}
