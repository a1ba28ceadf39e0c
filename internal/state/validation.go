package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/flare576/ei/internal/eitypes"
)

// ValidationEnqueue records a pending cross-persona-write, low-confidence,
// or stale-fact confirmation for Ei's next daily ceremony (spec §4.7).
func (m *Manager) ValidationEnqueue(v eitypes.Validation) eitypes.Validation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	m.state.Validations = append(m.state.Validations, v)
	return v
}

// ValidationList returns every pending validation, oldest first.
func (m *Manager) ValidationList() []eitypes.Validation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eitypes.Validation, len(m.state.Validations))
	copy(out, m.state.Validations)
	return out
}

// ValidationRemove drops a single validation by id, e.g. once the human has
// resolved it via the daily ceremony reply.
func (m *Manager) ValidationRemove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.state.Validations {
		if v.ID == id {
			m.state.Validations = append(m.state.Validations[:i], m.state.Validations[i+1:]...)
			return true
		}
	}
	return false
}

// ValidationClear drops every pending validation, used once a batch has
// been delivered and superseded by a fresh one before the human replied.
func (m *Manager) ValidationClear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Validations = nil
}

// ExtractionTotal returns how many times Step 3 (or a confident "no
// change") has completed for persona x bucket, the denominator half of the
// frequency gate in spec §4.9.
func (m *Manager) ExtractionTotal(personaID string, bucket eitypes.DataBucket) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ExtractionTotals == nil {
		return 0
	}
	return m.state.ExtractionTotals[eitypes.ExtractionTotalKey(personaID, bucket)]
}

// ExtractionTotalIncr increments and returns the persona x bucket counter.
func (m *Manager) ExtractionTotalIncr(personaID string, bucket eitypes.DataBucket) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ExtractionTotals == nil {
		m.state.ExtractionTotals = make(map[string]int)
	}
	key := eitypes.ExtractionTotalKey(personaID, bucket)
	m.state.ExtractionTotals[key]++
	return m.state.ExtractionTotals[key]
}

// LastCeremonyDay returns the "YYYY-MM-DD" date a persona's ceremony last
// ran, or "" if it has never run.
func (m *Manager) LastCeremonyDay(personaID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.LastCeremonyDay == nil {
		return ""
	}
	return m.state.LastCeremonyDay[personaID]
}

// MarkCeremonyRan records today's date as the persona's last ceremony day.
func (m *Manager) MarkCeremonyRan(personaID, day string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.LastCeremonyDay == nil {
		m.state.LastCeremonyDay = make(map[string]string)
	}
	m.state.LastCeremonyDay[personaID] = day
}
