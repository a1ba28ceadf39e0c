package processor

import (
	"context"
	"time"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/embedding"
	"github.com/flare576/ei/internal/orchestrators"
	"github.com/flare576/ei/internal/prompts"
	"github.com/flare576/ei/internal/state"
)

// --- Personas ---------------------------------------------------------

// GetPersonaList returns every persona, optionally including archived ones
// (spec §4.11).
func (p *Processor) GetPersonaList(includeArchived bool) []eitypes.PersonaEntity {
	all := p.state.PersonaList()
	if includeArchived {
		return all
	}
	out := all[:0]
	for _, persona := range all {
		if !persona.IsArchived {
			out = append(out, persona)
		}
	}
	return out
}

func (p *Processor) GetPersona(name string) (*eitypes.PersonaEntity, error) {
	return p.state.PersonaGet(name)
}

// CreatePersona adds a new dynamic persona and queues the Generation step
// to flesh out its traits/topics/descriptions from the human's one-line
// description (spec §4.5, §4.11).
func (p *Processor) CreatePersona(name, description string) (eitypes.PersonaEntity, error) {
	persona := eitypes.PersonaEntity{
		Name:      name,
		IsDynamic: true,
	}
	saved, err := p.state.PersonaAdd(persona)
	if err != nil {
		return eitypes.PersonaEntity{}, err
	}
	p.events.EmitPersonaAdded(saved)
	p.refreshHeartbeatTimer(saved, p.now())

	prompt := prompts.BuildPersonaGenerationPrompt(name, description)
	p.state.QueueEnqueue(eitypes.QueueItem{
		Type:     eitypes.RequestJSON,
		Priority: eitypes.PriorityNormal,
		NextStep: eitypes.StepPersonaGeneration,
		System:   prompt.System,
		User:     prompt.User,
		Data:     map[string]any{"persona": saved.ID, "persona_id": saved.ID},
	})
	return saved, nil
}

func (p *Processor) UpdatePersona(name string, patch eitypes.PersonaEntity) (eitypes.PersonaEntity, error) {
	existing, err := p.state.PersonaGet(name)
	if err != nil {
		return eitypes.PersonaEntity{}, err
	}
	patch.ID = existing.ID
	saved, err := p.state.PersonaUpdate(patch)
	if err != nil {
		return eitypes.PersonaEntity{}, err
	}
	p.events.EmitPersonaUpdated(saved)
	return saved, nil
}

func (p *Processor) ArchivePersona(name string) error {
	persona, err := p.state.PersonaGet(name)
	if err != nil {
		return err
	}
	if err := p.state.PersonaArchive(persona.ID); err != nil {
		return err
	}
	p.scheduler.RemoveHeartbeat(persona.ID)
	if updated, err := p.state.PersonaGet(persona.ID); err == nil {
		p.events.EmitPersonaUpdated(*updated)
	}
	return nil
}

func (p *Processor) UnarchivePersona(name string) error {
	persona, err := p.state.PersonaGet(name)
	if err != nil {
		return err
	}
	if err := p.state.PersonaUnarchive(persona.ID); err != nil {
		return err
	}
	if updated, err := p.state.PersonaGet(persona.ID); err == nil {
		p.events.EmitPersonaUpdated(*updated)
		p.refreshHeartbeatTimer(*updated, p.now())
	}
	return nil
}

// DeletePersona removes a persona, only when already archived (spec
// §4.11 "only when archived").
func (p *Processor) DeletePersona(name string) error {
	persona, err := p.state.PersonaGet(name)
	if err != nil {
		return err
	}
	if !persona.IsArchived {
		return eierrors.NewInvariantError("persona %q must be archived before it can be deleted", name)
	}
	if err := p.state.PersonaRemove(persona.ID); err != nil {
		return err
	}
	p.scheduler.RemoveHeartbeat(persona.ID)
	p.events.EmitPersonaRemoved(persona.ID)
	return nil
}

// SetActivePersona records which persona the frontend currently has in
// view (spec §4.11). Purely a UI cursor: it does not gate any handler or
// scheduled work, since every other Processor method already takes a
// persona name explicitly.
func (p *Processor) SetActivePersona(name string) error {
	persona, err := p.state.PersonaGet(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.activePersona = persona.Name
	p.mu.Unlock()
	return nil
}

// GetActivePersona returns the name set by SetActivePersona, or "" if none.
func (p *Processor) GetActivePersona() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activePersona
}

// PausePersona suspends a persona's heartbeat and scheduled response
// generation until the given time, or indefinitely if nil (spec §4.10
// "Pause semantics", command surface "/pause [duration]").
func (p *Processor) PausePersona(name string, until *time.Time) error {
	persona, err := p.state.PersonaGet(name)
	if err != nil {
		return err
	}
	if err := p.state.PersonaPause(persona.ID, until); err != nil {
		return err
	}
	p.scheduler.RemoveHeartbeat(persona.ID)
	if updated, err := p.state.PersonaGet(persona.ID); err == nil {
		p.events.EmitPersonaUpdated(*updated)
	}
	return nil
}

// UnpausePersona re-enables heartbeat and scheduled response generation
// (command surface "/resume [persona]").
func (p *Processor) UnpausePersona(name string) error {
	persona, err := p.state.PersonaGet(name)
	if err != nil {
		return err
	}
	if err := p.state.PersonaUnpause(persona.ID); err != nil {
		return err
	}
	if updated, err := p.state.PersonaGet(persona.ID); err == nil {
		p.events.EmitPersonaUpdated(*updated)
		p.refreshHeartbeatTimer(*updated, p.now())
	}
	return nil
}

// --- Messages -----------------------------------------------------------

// SendMessage appends a human message, supersedes any queued-but-unstarted
// response for the persona, and enqueues a fresh Response request (spec
// §4.11 "sendMessage contract"). An Ei ceremony reply is intercepted and
// applied instead of forwarded to the LLM.
func (p *Processor) SendMessage(ctx context.Context, personaName, content string) error {
	persona, err := p.state.PersonaGet(personaName)
	if err != nil {
		return err
	}
	if persona.IsArchived {
		return eierrors.NewInvariantError("persona %q is archived and cannot receive messages", personaName)
	}

	if persona.IsEi() && persona.AwaitingCeremonyResponse {
		resolved := orchestrators.ApplyDailyCeremonyReply(p.state, content)
		_ = p.state.PersonaSetAwaitingCeremonyResponse(persona.ID, false)
		msg := p.state.MessagesAppend(persona.Name, eitypes.Message{Role: eitypes.RoleHuman, Content: content, Read: true})
		p.events.EmitMessageAdded(persona.Name, msg)
		summary := "Understood."
		if len(resolved) > 0 {
			summary = "Applied: " + joinLines(resolved)
		}
		reply := p.state.MessagesAppend(persona.Name, eitypes.Message{Role: eitypes.RoleSystem, Content: summary})
		p.events.EmitMessageAdded(persona.Name, reply)
		return nil
	}

	msg := p.state.MessagesAppend(persona.Name, eitypes.Message{Role: eitypes.RoleHuman, Content: content})
	p.events.EmitMessageAdded(persona.Name, msg)

	// Supersede whatever this persona owed a reply to: drop any not-yet-
	// started item from the queue store, and abort an already-dispatched
	// one still running on the queueproc goroutine. Without the abort, its
	// onComplete would still fire and append a second system reply after
	// this new message lands (spec §4.11 "at most one ... before the next
	// sendMessage is processed").
	p.mu.Lock()
	processing := p.inFlight[persona.ID]
	p.mu.Unlock()
	if processing {
		p.queueproc.Abort()
	}
	p.state.QueueClearFor(persona.ID)

	now := p.now()
	p.refreshHeartbeatTimer(*persona, now)

	// The prompt itself is NOT built here: it's rendered in startItem, just
	// before the request is dispatched, from whatever the thread/human data
	// look like at that moment. Only the cutoff travels with the item, so a
	// user edit or deleteMessages call landing after enqueue but before the
	// item reaches the head of the queue is still honored (spec §4.11
	// "messages are fetched just-in-time when the request reaches the head
	// of the queue").
	p.state.QueueEnqueue(eitypes.QueueItem{
		Type:     eitypes.RequestResponse,
		Priority: eitypes.PriorityHigh,
		NextStep: eitypes.StepPersonaResponse,
		Data: map[string]any{
			"persona":      persona.ID,
			"persona_id":   persona.ID,
			"persona_name": persona.Name,
			"cutoff":       now.Format(time.RFC3339Nano),
		},
	})
	p.events.EmitMessageQueued(persona.Name)
	return nil
}

func (p *Processor) visibleHumanData(persona eitypes.PersonaEntity) prompts.VisibleHumanData {
	human := p.state.GetHuman()
	var out prompts.VisibleHumanData
	for _, f := range human.Facts {
		if persona.CanRead(f.PersonaGroups) {
			out.Facts = append(out.Facts, f)
		}
	}
	for _, person := range human.People {
		if persona.CanRead(person.PersonaGroups) {
			out.People = append(out.People, person)
		}
	}
	for _, q := range human.Quotes {
		if persona.CanRead(q.PersonaGroups) {
			out.Quotes = append(out.Quotes, q)
		}
	}
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "; "
		}
		out += l
	}
	return out
}

func (p *Processor) GetMessages(personaName string) ([]eitypes.Message, error) {
	if _, err := p.state.PersonaGet(personaName); err != nil {
		return nil, err
	}
	return p.state.MessagesGet(personaName, time.Time{}), nil
}

func (p *Processor) SetMessageContextStatus(personaName, id string, status eitypes.ContextStatus) error {
	return p.state.MessagesSetStatus(personaName, id, status)
}

// DeleteMessages removes the given message ids from a persona's thread
// (spec §4.11 "deleteMessages").
func (p *Processor) DeleteMessages(personaName string, ids []string) error {
	if _, err := p.state.PersonaGet(personaName); err != nil {
		return err
	}
	p.state.MessagesDelete(personaName, ids)
	return nil
}

func (p *Processor) MarkAllMessagesRead(personaName string) {
	thread := p.state.MessagesGet(personaName, time.Time{})
	ids := make([]string, 0, len(thread))
	for _, m := range thread {
		ids = append(ids, m.ID)
	}
	p.state.MessagesSetRead(personaName, ids)
}

// RecallPendingMessages aborts the persona's in-flight response (if any),
// removes its queued human turns, and returns them concatenated for the
// frontend to restore into the input box (spec §4.11).
func (p *Processor) RecallPendingMessages(personaName string) (string, error) {
	persona, err := p.state.PersonaGet(personaName)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	processing := p.inFlight[persona.ID]
	p.mu.Unlock()
	if processing {
		p.queueproc.Abort()
	}
	p.state.QueueClearFor(persona.ID)

	thread := p.state.MessagesGet(persona.Name, time.Time{})
	var pending []string
	cut := len(thread)
	for cut > 0 && thread[cut-1].Role == eitypes.RoleHuman {
		pending = append([]string{thread[cut-1].Content}, pending...)
		cut--
	}
	p.state.MessagesClearPending(persona.Name)
	return joinLines(pending), nil
}

// --- Human data -----------------------------------------------------------

func (p *Processor) GetHuman() eitypes.HumanEntity {
	return p.state.GetHuman()
}

// UpdateHuman applies a settings patch and emits the human-updated event.
// Settings carry no embedded text, so nothing is re-embedded here; the
// per-item Upsert* methods below re-embed through maybeEmbedItem when an
// item's text changed.
func (p *Processor) UpdateHuman(patch eitypes.HumanSettings) eitypes.HumanSettings {
	saved := p.state.SettingsSet(patch)
	p.events.EmitHumanUpdated(p.state.GetHuman())
	return saved
}

func (p *Processor) UpsertFact(ctx context.Context, fact eitypes.Fact, learnedByGroup string) eitypes.Fact {
	p.maybeEmbedItem(ctx, &fact.DataItemBase)
	saved := p.state.HumanFactUpsert(fact, learnedByGroup)
	p.events.EmitHumanUpdated(p.state.GetHuman())
	return saved
}

func (p *Processor) UpsertTrait(ctx context.Context, trait eitypes.Trait, learnedByGroup string) eitypes.Trait {
	p.maybeEmbedItem(ctx, &trait.DataItemBase)
	saved := p.state.HumanTraitUpsert(trait, learnedByGroup)
	p.events.EmitHumanUpdated(p.state.GetHuman())
	return saved
}

func (p *Processor) UpsertTopic(ctx context.Context, topic eitypes.Topic, learnedByGroup string) eitypes.Topic {
	p.maybeEmbedItem(ctx, &topic.DataItemBase)
	saved := p.state.HumanTopicUpsert(topic, learnedByGroup)
	p.events.EmitHumanUpdated(p.state.GetHuman())
	return saved
}

func (p *Processor) UpsertPerson(ctx context.Context, person eitypes.Person, learnedByGroup string) eitypes.Person {
	p.maybeEmbedItem(ctx, &person.DataItemBase)
	saved := p.state.HumanPersonUpsert(person, learnedByGroup)
	p.events.EmitHumanUpdated(p.state.GetHuman())
	return saved
}

func (p *Processor) RemoveFact(id string) bool   { return p.withHumanEvent(p.state.HumanFactRemove(id)) }
func (p *Processor) RemoveTrait(id string) bool  { return p.withHumanEvent(p.state.HumanTraitRemove(id)) }
func (p *Processor) RemoveTopic(id string) bool  { return p.withHumanEvent(p.state.HumanTopicRemove(id)) }
func (p *Processor) RemovePerson(id string) bool { return p.withHumanEvent(p.state.HumanPersonRemove(id)) }

func (p *Processor) withHumanEvent(removed bool) bool {
	if removed {
		p.events.EmitHumanUpdated(p.state.GetHuman())
	}
	return removed
}

// maybeEmbedItem recomputes an item's embedding only when a provider is
// attached and the name/description actually differs from the stored
// version (spec §4.6, §4.11: "only when name/description or quote text
// changes").
func (p *Processor) maybeEmbedItem(ctx context.Context, item *eitypes.DataItemBase) {
	if p.hctx.Embedding == nil {
		return
	}
	if !embeddingStale(p.state, item) {
		return
	}
	vec, err := p.hctx.Embedding.EmbedQuery(ctx, item.Name+": "+item.Description)
	if err != nil {
		p.events.EmitErrorFromErr(err)
		return
	}
	item.Embedding = embedding.NormalizeEmbedding(vec)
}

func embeddingStale(st *state.Manager, item *eitypes.DataItemBase) bool {
	if item.ID == "" {
		return true
	}
	human := st.GetHuman()
	for _, existing := range human.Facts {
		if existing.ID == item.ID {
			return existing.Name != item.Name || existing.Description != item.Description
		}
	}
	for _, existing := range human.Traits {
		if existing.ID == item.ID {
			return existing.Name != item.Name || existing.Description != item.Description
		}
	}
	for _, existing := range human.Topics {
		if existing.ID == item.ID {
			return existing.Name != item.Name || existing.Description != item.Description
		}
	}
	for _, existing := range human.People {
		if existing.ID == item.ID {
			return existing.Name != item.Name || existing.Description != item.Description
		}
	}
	return true
}

// UpsertQuote adds or updates a memorable quote (spec §4.11 quote add/
// update/delete). Quotes carry no embedding field of their own in this data
// model, so text changes trigger no recomputation here.
func (p *Processor) UpsertQuote(quote eitypes.Quote, learnedByGroup string) eitypes.Quote {
	saved := p.state.HumanQuoteUpsert(quote, learnedByGroup)
	p.events.EmitHumanUpdated(p.state.GetHuman())
	return saved
}

func (p *Processor) RemoveQuote(id string) bool { return p.withHumanEvent(p.state.HumanQuoteRemove(id)) }

// --- Queue & checkpoints -----------------------------------------------

func (p *Processor) PauseQueue() {
	p.state.QueuePause()
	p.events.EmitQueueStateChanged("paused")
}

func (p *Processor) ResumeQueue() {
	p.state.QueueResume()
	if p.state.QueueLen() == 0 {
		p.events.EmitQueueStateChanged("idle")
	} else {
		p.events.EmitQueueStateChanged("busy")
	}
}

func (p *Processor) ClearQueue() {
	p.state.QueueClear()
	p.events.EmitQueueStateChanged("idle")
}

func (p *Processor) CreateCheckpoint(ctx context.Context, name string) (*eitypes.CheckpointMeta, error) {
	p.events.EmitCheckpointStart()
	meta, err := p.state.CheckpointCreate(ctx, eitypes.CheckpointManual, name)
	if err != nil {
		p.events.EmitErrorFromErr(err)
		return nil, err
	}
	p.events.EmitCheckpointCreated(*meta)
	return meta, nil
}

func (p *Processor) RestoreCheckpoint(ctx context.Context, id string) error {
	return p.state.CheckpointRestore(ctx, id)
}

func (p *Processor) DeleteCheckpoint(ctx context.Context, id string) error {
	return p.state.CheckpointDelete(ctx, id)
}

func (p *Processor) ListCheckpoints() []eitypes.CheckpointMeta {
	return p.state.CheckpointList()
}

// --- One-shot -------------------------------------------------------------

// SubmitOneShot enqueues a fire-and-forget Raw request, delivered back via
// OnOneShotReturned keyed by guid (spec §4.11, §3.4 "one-shot"). Used for
// AI-assist in UI fields, outside any persona's thread.
func (p *Processor) SubmitOneShot(guid, system, user string) {
	p.state.QueueEnqueue(eitypes.QueueItem{
		Type:     eitypes.RequestRaw,
		Priority: eitypes.PriorityLow,
		NextStep: eitypes.StepOneShot,
		System:   system,
		User:     user,
		Data:     map[string]any{"guid": guid},
	})
}
