package state

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// QueueEnqueue admits a new item, assigning an id/timestamp if the caller
// left them zero.
func (m *Manager) QueueEnqueue(item eitypes.QueueItem) eitypes.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.state.Queue.Items = append(m.state.Queue.Items, item)
	m.log.Debug().Str("id", item.ID).Str("type", string(item.Type)).Str("priority", item.Priority.String()).Msg("queue admit")
	return item
}

// QueuePeekHighest returns the highest-priority item, FIFO within a
// priority band, without removing it (spec §3.4, §4.10). An item whose
// NotBefore is still in the future (set by QueueFail after a rate-limited
// attempt) is treated as not yet present.
func (m *Manager) QueuePeekHighest(now time.Time) *eitypes.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peekHighestLocked(now)
}

func (m *Manager) peekHighestLocked(now time.Time) *eitypes.QueueItem {
	var best *eitypes.QueueItem
	for i := range m.state.Queue.Items {
		item := &m.state.Queue.Items[i]
		if item.NotBefore != nil && item.NotBefore.After(now) {
			continue
		}
		if best == nil || item.Priority > best.Priority {
			best = item
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// QueueComplete removes an item after successful processing.
func (m *Manager) QueueComplete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.state.Queue.Items {
		if item.ID == id {
			m.state.Queue.Items = append(m.state.Queue.Items[:i], m.state.Queue.Items[i+1:]...)
			return nil
		}
	}
	return &eierrors.NotFoundError{Kind: "queue_item", ID: id}
}

// QueueFail increments an item's attempt count. Once MaxAttempts is
// reached, the item is dropped and recorded to the dead-letter sink
// instead of retried (spec §4.4, §7 recovery table). A rate-limited cause
// sets NotBefore so the item isn't eligible for the very next tick,
// honoring the provider's suggested backoff.
func (m *Manager) QueueFail(id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.state.Queue.Items {
		if item.ID != id {
			continue
		}
		item.Attempts++
		now := time.Now()
		item.LastAttempt = &now
		if delay := rateLimitBackoff(cause); delay > 0 {
			notBefore := now.Add(delay)
			item.NotBefore = &notBefore
		}
		if item.Attempts >= eitypes.MaxAttempts {
			m.state.Queue.Items = append(m.state.Queue.Items[:i], m.state.Queue.Items[i+1:]...)
			m.recordDeadLetterLocked(item, cause)
			return nil
		}
		m.state.Queue.Items[i] = item
		return nil
	}
	return &eierrors.NotFoundError{Kind: "queue_item", ID: id}
}

// defaultRateLimitBackoff is applied when the provider's 429 carried no
// Retry-After hint of its own.
const defaultRateLimitBackoff = 5 * time.Second

func rateLimitBackoff(cause error) time.Duration {
	var rl *eierrors.RateLimitedError
	if !errors.As(cause, &rl) {
		return 0
	}
	if rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return defaultRateLimitBackoff
}

func (m *Manager) QueuePause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Queue.Paused = true
}

func (m *Manager) QueueResume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Queue.Paused = false
}

func (m *Manager) QueueIsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Queue.Paused
}

// QueueClearFor removes every queued item scoped to the given persona id
// (stored under Data["persona"]), used when recalling a persona's pending
// work (spec §3.4, §4.10 cancellation notes).
func (m *Manager) QueueClearFor(personaID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.state.Queue.Items[:0]
	removed := 0
	for _, item := range m.state.Queue.Items {
		if scoped, ok := item.Data["persona"].(string); ok && scoped == personaID {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	m.state.Queue.Items = kept
	return removed
}

// QueueClear drops every queued item regardless of backoff state, for the
// frontend's explicit "clear queue" action (spec §4.11). Unlike
// QueuePeekHighest-driven draining, this does not respect NotBefore: an
// explicit clear means gone, not "try again later".
func (m *Manager) QueueClear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := len(m.state.Queue.Items)
	m.state.Queue.Items = nil
	return removed
}

// QueueLen reports the number of items currently queued.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.Queue.Items)
}
