// Package events defines the Processor's external event interface
// (spec §4.11): the set of optional callbacks a frontend provides. It lives
// below both internal/handlers and internal/processor so either can emit
// events without an import cycle. Every Emit* method is a nil-safe no-op
// when the frontend left the corresponding callback unset (spec §4.11
// "All events are optional; missing handlers must not throw").
package events

import (
	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// Sink holds the frontend-provided callbacks. A nil field is simply not
// invoked.
type Sink struct {
	OnPersonaAdded       func(eitypes.PersonaEntity)
	OnPersonaUpdated     func(eitypes.PersonaEntity)
	OnPersonaRemoved     func(id string)
	OnMessageAdded       func(personaName string, msg eitypes.Message)
	OnMessageQueued      func(personaName string)
	OnMessageProcessing  func(personaName string)
	OnQueueStateChanged  func(state string) // "idle" | "busy" | "paused"
	OnStatePersisted     func()
	OnCheckpointStart    func()
	OnCheckpointCreated  func(eitypes.CheckpointMeta)
	OnSaveAndExitStart   func()
	OnSaveAndExitFinish  func()
	OnHumanUpdated       func(eitypes.HumanEntity)
	OnOneShotReturned    func(guid, content string)
	OnError              func(eierrors.ErrorEvent)
}

func (s *Sink) EmitPersonaAdded(p eitypes.PersonaEntity) {
	if s != nil && s.OnPersonaAdded != nil {
		s.OnPersonaAdded(p)
	}
}

func (s *Sink) EmitPersonaUpdated(p eitypes.PersonaEntity) {
	if s != nil && s.OnPersonaUpdated != nil {
		s.OnPersonaUpdated(p)
	}
}

func (s *Sink) EmitPersonaRemoved(id string) {
	if s != nil && s.OnPersonaRemoved != nil {
		s.OnPersonaRemoved(id)
	}
}

func (s *Sink) EmitMessageAdded(personaName string, msg eitypes.Message) {
	if s != nil && s.OnMessageAdded != nil {
		s.OnMessageAdded(personaName, msg)
	}
}

func (s *Sink) EmitMessageQueued(personaName string) {
	if s != nil && s.OnMessageQueued != nil {
		s.OnMessageQueued(personaName)
	}
}

func (s *Sink) EmitMessageProcessing(personaName string) {
	if s != nil && s.OnMessageProcessing != nil {
		s.OnMessageProcessing(personaName)
	}
}

func (s *Sink) EmitQueueStateChanged(state string) {
	if s != nil && s.OnQueueStateChanged != nil {
		s.OnQueueStateChanged(state)
	}
}

func (s *Sink) EmitStatePersisted() {
	if s != nil && s.OnStatePersisted != nil {
		s.OnStatePersisted()
	}
}

func (s *Sink) EmitCheckpointStart() {
	if s != nil && s.OnCheckpointStart != nil {
		s.OnCheckpointStart()
	}
}

func (s *Sink) EmitCheckpointCreated(meta eitypes.CheckpointMeta) {
	if s != nil && s.OnCheckpointCreated != nil {
		s.OnCheckpointCreated(meta)
	}
}

func (s *Sink) EmitSaveAndExitStart() {
	if s != nil && s.OnSaveAndExitStart != nil {
		s.OnSaveAndExitStart()
	}
}

func (s *Sink) EmitSaveAndExitFinish() {
	if s != nil && s.OnSaveAndExitFinish != nil {
		s.OnSaveAndExitFinish()
	}
}

func (s *Sink) EmitHumanUpdated(h eitypes.HumanEntity) {
	if s != nil && s.OnHumanUpdated != nil {
		s.OnHumanUpdated(h)
	}
}

func (s *Sink) EmitOneShotReturned(guid, content string) {
	if s != nil && s.OnOneShotReturned != nil {
		s.OnOneShotReturned(guid, content)
	}
}

func (s *Sink) EmitError(ev eierrors.ErrorEvent) {
	if s != nil && s.OnError != nil {
		s.OnError(ev)
	}
}

// EmitErrorFromErr is a convenience wrapper classifying err through
// eierrors.ToErrorEvent before emitting, skipping nil and Aborted errors
// per spec §7's propagation table ("Aborted ... swallowed at Processor; no
// event").
func (s *Sink) EmitErrorFromErr(err error) {
	if err == nil || eierrors.IsAborted(err) {
		return
	}
	s.EmitError(eierrors.ToErrorEvent(err))
}
