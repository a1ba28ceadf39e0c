package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/flare576/ei/internal/eitypes"
)

// GetHuman returns a copy of the whole human entity.
func (m *Manager) GetHuman() eitypes.HumanEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Human
}

// SetHuman replaces the whole human entity (used by checkpoint restore and
// bulk imports; bucket-scoped upserts are preferred for ordinary writes).
func (m *Manager) SetHuman(human eitypes.HumanEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	human.LastUpdated = &now
	m.state.Human = human
}

// touchHumanLocked stamps the human entity's own LastUpdated, mirroring
// what SetHuman already does for whole-entity replacement. Every bucket
// upsert/remove below mutates m.state.Human directly rather than going
// through SetHuman, so each one calls this to keep the invariant that
// any write to the human entity bumps its top-level timestamp (spec §3.1).
func (m *Manager) touchHumanLocked() {
	now := time.Now()
	m.state.Human.LastUpdated = &now
}

// defaultGroups applies the "persona_groups defaults to the extracting
// persona's group_primary, never empty" invariant (spec §4.3).
func defaultGroups(groups []string, learnedByGroupPrimary string) []string {
	if len(groups) > 0 {
		return groups
	}
	if learnedByGroupPrimary == "" {
		return []string{eitypes.GeneralGroup}
	}
	return []string{learnedByGroupPrimary}
}

// HumanFactUpsert inserts or updates a Fact by id. A zero ID creates a new
// entry. learnedByGroupPrimary fills PersonaGroups when the caller left it
// empty.
func (m *Manager) HumanFactUpsert(fact eitypes.Fact, learnedByGroupPrimary string) eitypes.Fact {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchHumanLocked()
	fact.PersonaGroups = defaultGroups(fact.PersonaGroups, learnedByGroupPrimary)
	fact.LastUpdated = time.Now()
	if fact.ID == "" {
		fact.ID = uuid.NewString()
		m.state.Human.Facts = append(m.state.Human.Facts, fact)
		return fact
	}
	for i := range m.state.Human.Facts {
		if m.state.Human.Facts[i].ID == fact.ID {
			m.state.Human.Facts[i] = fact
			return fact
		}
	}
	m.state.Human.Facts = append(m.state.Human.Facts, fact)
	return fact
}

func (m *Manager) HumanFactRemove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.state.Human.Facts {
		if f.ID == id {
			m.state.Human.Facts = append(m.state.Human.Facts[:i], m.state.Human.Facts[i+1:]...)
			m.touchHumanLocked()
			return true
		}
	}
	return false
}

func (m *Manager) HumanTraitUpsert(trait eitypes.Trait, learnedByGroupPrimary string) eitypes.Trait {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchHumanLocked()
	trait.PersonaGroups = defaultGroups(trait.PersonaGroups, learnedByGroupPrimary)
	trait.LastUpdated = time.Now()
	if trait.ID == "" {
		trait.ID = uuid.NewString()
		m.state.Human.Traits = append(m.state.Human.Traits, trait)
		return trait
	}
	for i := range m.state.Human.Traits {
		if m.state.Human.Traits[i].ID == trait.ID {
			m.state.Human.Traits[i] = trait
			return trait
		}
	}
	m.state.Human.Traits = append(m.state.Human.Traits, trait)
	return trait
}

func (m *Manager) HumanTraitRemove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.state.Human.Traits {
		if t.ID == id {
			m.state.Human.Traits = append(m.state.Human.Traits[:i], m.state.Human.Traits[i+1:]...)
			m.touchHumanLocked()
			return true
		}
	}
	return false
}

func (m *Manager) HumanTopicUpsert(topic eitypes.Topic, learnedByGroupPrimary string) eitypes.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchHumanLocked()
	topic.PersonaGroups = defaultGroups(topic.PersonaGroups, learnedByGroupPrimary)
	topic.LastUpdated = time.Now()
	if topic.ID == "" {
		topic.ID = uuid.NewString()
		m.state.Human.Topics = append(m.state.Human.Topics, topic)
		return topic
	}
	for i := range m.state.Human.Topics {
		if m.state.Human.Topics[i].ID == topic.ID {
			m.state.Human.Topics[i] = topic
			return topic
		}
	}
	m.state.Human.Topics = append(m.state.Human.Topics, topic)
	return topic
}

func (m *Manager) HumanTopicRemove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tp := range m.state.Human.Topics {
		if tp.ID == id {
			m.state.Human.Topics = append(m.state.Human.Topics[:i], m.state.Human.Topics[i+1:]...)
			m.touchHumanLocked()
			return true
		}
	}
	return false
}

func (m *Manager) HumanPersonUpsert(person eitypes.Person, learnedByGroupPrimary string) eitypes.Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchHumanLocked()
	person.PersonaGroups = defaultGroups(person.PersonaGroups, learnedByGroupPrimary)
	person.LastUpdated = time.Now()
	if person.ID == "" {
		person.ID = uuid.NewString()
		m.state.Human.People = append(m.state.Human.People, person)
		return person
	}
	for i := range m.state.Human.People {
		if m.state.Human.People[i].ID == person.ID {
			m.state.Human.People[i] = person
			return person
		}
	}
	m.state.Human.People = append(m.state.Human.People, person)
	return person
}

func (m *Manager) HumanPersonRemove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.state.Human.People {
		if p.ID == id {
			m.state.Human.People = append(m.state.Human.People[:i], m.state.Human.People[i+1:]...)
			m.touchHumanLocked()
			return true
		}
	}
	return false
}

// HumanQuoteUpsert inserts or updates a Quote by id.
func (m *Manager) HumanQuoteUpsert(quote eitypes.Quote, learnedByGroupPrimary string) eitypes.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchHumanLocked()
	quote.PersonaGroups = defaultGroups(quote.PersonaGroups, learnedByGroupPrimary)
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = time.Now()
	}
	if quote.ID == "" {
		quote.ID = uuid.NewString()
		m.state.Human.Quotes = append(m.state.Human.Quotes, quote)
		return quote
	}
	for i := range m.state.Human.Quotes {
		if m.state.Human.Quotes[i].ID == quote.ID {
			m.state.Human.Quotes[i] = quote
			return quote
		}
	}
	m.state.Human.Quotes = append(m.state.Human.Quotes, quote)
	return quote
}

func (m *Manager) HumanQuoteRemove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.state.Human.Quotes {
		if q.ID == id {
			m.state.Human.Quotes = append(m.state.Human.Quotes[:i], m.state.Human.Quotes[i+1:]...)
			m.touchHumanLocked()
			return true
		}
	}
	return false
}
