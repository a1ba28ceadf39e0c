package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// MessagesGet returns a persona's thread, optionally limited to messages at
// or after sinceInclusive (zero value returns everything).
func (m *Manager) MessagesGet(persona string, sinceInclusive time.Time) []eitypes.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.state.Messages[persona]
	if sinceInclusive.IsZero() {
		out := make([]eitypes.Message, len(all))
		copy(out, all)
		return out
	}
	var out []eitypes.Message
	for _, msg := range all {
		if !msg.Timestamp.Before(sinceInclusive) {
			out = append(out, msg)
		}
	}
	return out
}

// MessagesAppend appends a message to a persona's thread, assigning an id
// and timestamp if the caller left them zero.
func (m *Manager) MessagesAppend(persona string, msg eitypes.Message) eitypes.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ContextStatus == "" {
		msg.ContextStatus = eitypes.ContextDefault
	}
	if m.state.Messages == nil {
		m.state.Messages = make(map[string][]eitypes.Message)
	}
	m.state.Messages[persona] = append(m.state.Messages[persona], msg)
	return msg
}

// MessagesSetStatus updates a message's ContextStatus (spec §4.5 prompt
// inclusion rules: Default/Always/Never).
func (m *Manager) MessagesSetStatus(persona, id string, status eitypes.ContextStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread := m.state.Messages[persona]
	for i := range thread {
		if thread[i].ID == id {
			thread[i].ContextStatus = status
			return nil
		}
	}
	return &eierrors.NotFoundError{Kind: "message", ID: id}
}

// MessagesSetRead marks the given message ids as read.
func (m *Manager) MessagesSetRead(persona string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	thread := m.state.Messages[persona]
	for i := range thread {
		if want[thread[i].ID] {
			thread[i].Read = true
		}
	}
}

// MessagesGetUnextracted returns human messages in a persona's thread whose
// extraction flag for bucket is not yet set, oldest first, capped at limit
// (0 means unlimited).
func (m *Manager) MessagesGetUnextracted(persona string, bucket eitypes.DataBucket, limit int) []eitypes.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []eitypes.Message
	for _, msg := range m.state.Messages[persona] {
		if msg.Role != eitypes.RoleHuman {
			continue
		}
		if msg.ExtractionDone(bucket) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// MessagesMarkExtracted sets the extraction flag for bucket on the given
// message ids.
func (m *Manager) MessagesMarkExtracted(persona string, ids []string, bucket eitypes.DataBucket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	thread := m.state.Messages[persona]
	for i := range thread {
		if want[thread[i].ID] {
			thread[i].SetExtractionDone(bucket, true)
		}
	}
}

// MessagesDelete removes the given message ids from a persona's thread
// (spec §4.11 "deleteMessages"). Returns the count actually removed.
func (m *Manager) MessagesDelete(persona string, ids []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	thread := m.state.Messages[persona]
	out := thread[:0]
	removed := 0
	for _, msg := range thread {
		if want[msg.ID] {
			removed++
			continue
		}
		out = append(out, msg)
	}
	m.state.Messages[persona] = out
	return removed
}

// MessagesClearPending removes queued-but-unprocessed human messages from a
// persona's thread: those with no later system reply, used when the human
// recalls their own pending turn (spec §3.4 "recall").
func (m *Manager) MessagesClearPending(persona string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread := m.state.Messages[persona]
	cut := len(thread)
	for cut > 0 && thread[cut-1].Role == eitypes.RoleHuman {
		cut--
	}
	m.state.Messages[persona] = thread[:cut]
}
