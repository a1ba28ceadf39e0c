// Package processor implements the C9 Processor: the single orchestrating
// loop a frontend drives. It owns the tick (scheduler-driven autosave,
// scheduled jobs, and queue drain), dispatches finished queue items to
// internal/handlers, and exposes the frontend API of spec §4.11. Grounded
// on the teacher's connector event loop shape (pkg/connector/handleai.go:
// one goroutine ticking a fixed set of housekeeping jobs before dequeuing
// the next unit of AI work), generalized from a single chat dispatch into
// the cooperative scheduler + priority queue this core needs.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eilog"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/embedding"
	"github.com/flare576/ei/internal/events"
	"github.com/flare576/ei/internal/handlers"
	"github.com/flare576/ei/internal/llm"
	"github.com/flare576/ei/internal/orchestrators"
	"github.com/flare576/ei/internal/prompts"
	"github.com/flare576/ei/internal/queueproc"
	"github.com/flare576/ei/internal/scheduler"
	"github.com/flare576/ei/internal/state"
	"github.com/flare576/ei/internal/storage"
)

// TickInterval is the minimum tick rate named in spec §4.10 ("≥10 Hz").
const TickInterval = 100 * time.Millisecond

// Config bundles everything Processor needs to wire up at construction
// time.
type Config struct {
	Storage     storage.Storage
	Transport   llm.Transport
	Embedding   embedding.Provider
	Events      events.Sink
	Scheduler   scheduler.Config
	Now         func() time.Time // overridable in tests
}

// Processor is the C9 orchestrator.
type Processor struct {
	state     *state.Manager
	queueproc *queueproc.Processor
	scheduler *scheduler.Scheduler
	hctx      *handlers.Context
	events    *events.Sink
	log       zerolog.Logger

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	nowFn         func() time.Time
	inFlight      map[string]bool // persona id -> currently processing
	activePersona string          // UI cursor state only (spec §4.11 "setActivePersona")
}

// New constructs a Processor. Call Start to begin ticking.
func New(cfg Config) *Processor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	st := state.New(cfg.Storage)
	evts := cfg.Events
	p := &Processor{
		state:     st,
		queueproc: queueproc.New(cfg.Transport),
		scheduler: scheduler.New(cfg.Scheduler),
		events:    &evts,
		log:       eilog.For("processor"),
		nowFn:     now,
		inFlight:  make(map[string]bool),
	}
	p.hctx = &handlers.Context{
		State:     st,
		Events:    p.events,
		Embedding: cfg.Embedding,
		Now:       now,
	}
	return p
}

func (p *Processor) now() time.Time { return p.nowFn() }

// Start loads state from storage and begins the tick loop (spec §4.11
// "start(storage)").
func (p *Processor) Start(ctx context.Context) error {
	if err := p.state.Initialize(ctx); err != nil {
		return err
	}
	now := p.now()
	for _, persona := range p.state.PersonaList() {
		p.refreshHeartbeatTimer(persona, lastActivityFor(persona, now))
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.loop(ctx)
	return nil
}

// Stop halts the tick loop without persisting (callers wanting a flush
// should call SaveAndExit instead).
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	<-p.doneCh
}

// SaveAndExit aborts in-flight work, flushes state, and emits completion
// (spec §4.11 "saveAndExit").
func (p *Processor) SaveAndExit(ctx context.Context) error {
	p.events.EmitSaveAndExitStart()
	p.queueproc.Abort()
	p.Stop()
	err := p.state.Persist(ctx)
	if err == nil {
		p.events.EmitStatePersisted()
	}
	p.events.EmitSaveAndExitFinish()
	return err
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one scheduler pass: autosave, scheduled jobs, heartbeat
// eligibility, then (if idle and not paused) starts the next queue item
// (spec §4.10).
func (p *Processor) tick(ctx context.Context) {
	now := p.now()
	due := p.scheduler.Due(now)

	if due.Autosave {
		if err := p.state.Persist(ctx); err != nil {
			p.events.EmitErrorFromErr(err)
		} else {
			p.events.EmitStatePersisted()
		}
		p.scheduler.MarkAutosaveRan(now)
	}

	if due.Decay {
		orchestrators.DecayHumanEngagement(p.state, now)
		p.decayPersonaTopics(now)
		p.scheduler.MarkDecayRan(now)
	}

	if due.Ceremony {
		p.runDailyCeremonyCheck(now)
		p.scheduler.MarkCeremonyRan(now, p.state.SettingsGet().CeremonyTimezone)
	}

	p.checkHeartbeats(now)

	if p.state.QueueIsPaused() || p.queueproc.IsBusy() {
		return
	}
	item := p.state.QueuePeekHighest(now)
	if item == nil {
		return
	}
	p.startItem(ctx, *item)
}

// refreshHeartbeatTimer registers or drops a persona's idle-time heartbeat
// timer in the scheduler, mirroring the eligibility gate spec §4.10 applies
// at dequeue time so a non-eligible persona never accumulates a stale
// timer (grounded on the teacher's HeartbeatRunner.updateConfig, which
// re-derives its timer set from current config rather than trusting a
// stale one).
func (p *Processor) refreshHeartbeatTimer(persona eitypes.PersonaEntity, at time.Time) {
	if !persona.IsDynamic || persona.IsArchived || persona.IsPaused {
		p.scheduler.RemoveHeartbeat(persona.ID)
		return
	}
	delay := time.Duration(persona.HeartbeatDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Duration(eitypes.DefaultHeartbeatDelayMs) * time.Millisecond
	}
	p.scheduler.UpdateHeartbeat(persona.ID, at, delay)
}

// lastActivityFor picks the best-known "last activity" timestamp for a
// persona at startup, before any tick has run.
func lastActivityFor(persona eitypes.PersonaEntity, now time.Time) time.Time {
	if persona.LastHeartbeat != nil {
		return *persona.LastHeartbeat
	}
	if !persona.LastUpdated.IsZero() {
		return persona.LastUpdated
	}
	return now
}

func (p *Processor) decayPersonaTopics(now time.Time) {
	for _, persona := range p.state.PersonaList() {
		if len(persona.Topics) == 0 {
			continue
		}
		changed := false
		for i := range persona.Topics {
			hours := orchestrators.HoursSince(persona.Topics[i].LastUpdated, now)
			if hours <= 0 {
				continue
			}
			persona.Topics[i].ExposureCurrent = orchestrators.Decay(persona.Topics[i].ExposureCurrent, orchestrators.DefaultDecayK, hours)
			changed = true
		}
		if changed {
			if _, err := p.state.PersonaUpdate(persona); err != nil {
				p.events.EmitErrorFromErr(err)
			}
		}
	}
}

func (p *Processor) lastHumanMessageFor(personaName string) string {
	thread := p.state.MessagesGet(personaName, time.Time{})
	for i := len(thread) - 1; i >= 0; i-- {
		if thread[i].Role == eitypes.RoleHuman {
			return thread[i].Content
		}
	}
	return ""
}

func (p *Processor) startItem(ctx context.Context, item eitypes.QueueItem) {
	personaID, _ := item.Data["persona"].(string)
	if personaID == "" {
		personaID, _ = item.Data["persona_id"].(string)
	}
	var personaName string
	var persona *eitypes.PersonaEntity
	if personaID != "" {
		if found, err := p.state.PersonaGet(personaID); err == nil {
			persona = found
			personaName = persona.Name
			p.mu.Lock()
			p.inFlight[personaID] = true
			p.mu.Unlock()
		}
	}
	p.events.EmitQueueStateChanged("busy")
	if personaName != "" {
		p.events.EmitMessageProcessing(personaName)
	}

	if item.NextStep == eitypes.StepPersonaResponse && persona != nil {
		item.System, item.User = p.buildResponsePrompt(*persona, item.Data)
	}

	lastHuman := p.lastHumanMessageFor(personaName)
	err := p.queueproc.Start(ctx, item, lastHuman, func(finished eitypes.QueueItem, outcome queueproc.Outcome) {
		p.onItemComplete(ctx, finished, outcome, personaID)
	})
	if err != nil {
		p.events.EmitErrorFromErr(err)
	}
}

// buildResponsePrompt renders the persona-response prompt just-in-time, at
// dequeue rather than enqueue, so the thread and human data it reads off
// are current as of the moment the request actually fires (spec §4.11
// sendMessage contract). The thread is bounded to the cutoff SendMessage
// recorded at enqueue time, in addition to recentHistoryLines' own
// backward-looking context-window trim, so messages added after the
// triggering send (e.g. by a concurrent heartbeat) aren't pulled in.
func (p *Processor) buildResponsePrompt(persona eitypes.PersonaEntity, data map[string]any) (system, user string) {
	now := p.now()
	cutoff := now
	if raw, ok := data["cutoff"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			cutoff = parsed
		}
	}

	thread := p.state.MessagesGet(persona.Name, time.Time{})
	upTo := thread[:0:0]
	for _, msg := range thread {
		if msg.Timestamp.After(cutoff) {
			continue
		}
		upTo = append(upTo, msg)
	}

	lines := recentHistoryLines(upTo, persona.ContextWindowMs, now)
	human := p.visibleHumanData(persona)
	view := prompts.PersonaView{
		Name: persona.Name, IsEi: persona.IsEi(), ShortDescription: persona.ShortDescription,
		LongDescription: persona.LongDescription, Traits: persona.Traits, Topics: persona.Topics,
	}
	prompt := prompts.BuildResponsePrompt(prompts.ResponseInput{Persona: view, Human: human, History: lines})
	return prompt.System, prompt.User
}

func (p *Processor) onItemComplete(ctx context.Context, item eitypes.QueueItem, outcome queueproc.Outcome, personaID string) {
	if personaID != "" {
		p.mu.Lock()
		delete(p.inFlight, personaID)
		p.mu.Unlock()
	}

	handler, ok := handlers.Dispatch(item.NextStep)
	if !ok {
		p.events.EmitErrorFromErr(eierrors.NewInvariantError("no handler registered for next_step %q", item.NextStep))
		_ = p.state.QueueFail(item.ID, fmt.Errorf("unknown next_step %q", item.NextStep))
		p.afterItem()
		return
	}

	follow, err := handler(ctx, p.hctx, item, outcome)
	if err != nil {
		p.events.EmitErrorFromErr(err)
		_ = p.state.QueueFail(item.ID, err)
		p.afterItem()
		return
	}

	_ = p.state.QueueComplete(item.ID)
	if personaID != "" && (item.NextStep == eitypes.StepPersonaResponse || item.NextStep == eitypes.StepHeartbeatCheck) {
		if persona, perr := p.state.PersonaGet(personaID); perr == nil {
			p.refreshHeartbeatTimer(*persona, p.now())
		}
	}
	for _, next := range follow {
		p.state.QueueEnqueue(next)
	}
	p.afterItem()
}

func (p *Processor) afterItem() {
	if p.state.QueueLen() == 0 {
		p.events.EmitQueueStateChanged("idle")
	}
}

func (p *Processor) checkHeartbeats(now time.Time) {
	for _, id := range p.scheduler.HeartbeatEligible(now) {
		persona, err := p.state.PersonaGet(id)
		if err != nil {
			p.scheduler.RemoveHeartbeat(id)
			continue
		}
		if !p.heartbeatEligiblePersona(*persona) {
			continue
		}
		p.enqueueHeartbeatCheck(*persona, now)
	}
}

func (p *Processor) heartbeatEligiblePersona(persona eitypes.PersonaEntity) bool {
	if persona.IsPaused || persona.IsArchived || !persona.IsDynamic {
		return false
	}
	if persona.AwaitingCeremonyResponse {
		return false
	}
	p.mu.Lock()
	processing := p.inFlight[persona.ID]
	p.mu.Unlock()
	return !processing
}

func (p *Processor) enqueueHeartbeatCheck(persona eitypes.PersonaEntity, now time.Time) {
	thread := p.state.MessagesGet(persona.Name, time.Time{})
	lines := recentHistoryLines(thread, persona.ContextWindowMs, now)
	idleFor := "a while"
	if persona.LastHeartbeat != nil {
		idleFor = now.Sub(*persona.LastHeartbeat).Round(time.Minute).String()
	}
	view := prompts.PersonaView{Name: persona.Name, IsEi: persona.IsEi(), ShortDescription: persona.ShortDescription, LongDescription: persona.LongDescription, Traits: persona.Traits, Topics: persona.Topics}

	var prompt prompts.Prompt
	if persona.IsEi() {
		prompt = prompts.BuildEiHeartbeatPrompt(prompts.EiHeartbeatInput{
			HeartbeatInput:   prompts.HeartbeatInput{Persona: view, History: lines, IdleFor: idleFor},
			InactivePersonas: p.inactivePersonaNames(persona.ID, now),
		})
	} else {
		prompt = prompts.BuildHeartbeatCheckPrompt(prompts.HeartbeatInput{Persona: view, History: lines, IdleFor: idleFor})
	}

	p.state.QueueEnqueue(eitypes.QueueItem{
		Type:     eitypes.RequestResponse,
		Priority: eitypes.PriorityNormal,
		NextStep: eitypes.StepHeartbeatCheck,
		System:   prompt.System,
		User:     prompt.User,
		Data:     map[string]any{"persona": persona.ID, "persona_id": persona.ID, "persona_name": persona.Name},
	})
	p.events.EmitMessageQueued(persona.Name)
	// Push the idle timer out immediately so the same persona isn't
	// re-enqueued on every subsequent tick while this item sits in queue;
	// onItemComplete re-syncs it to the true completion time once the
	// request actually finishes.
	p.refreshHeartbeatTimer(persona, now)
}

func (p *Processor) inactivePersonaNames(excludeID string, now time.Time) []string {
	var out []string
	for _, other := range p.state.PersonaList() {
		if other.ID == excludeID || other.IsArchived || !other.IsDynamic {
			continue
		}
		if other.LastHeartbeat == nil || now.Sub(*other.LastHeartbeat) > time.Hour {
			out = append(out, other.Name)
		}
	}
	return out
}

// recentHistoryLines filters a thread by ContextStatus and the persona's
// context window, applied uniformly to every message in the thread (spec
// §4.5, §9 Open Question decision: "context_window_ms applies uniformly").
func recentHistoryLines(thread []eitypes.Message, contextWindowMs int64, now time.Time) []prompts.HistoryLine {
	var cutoff time.Time
	if contextWindowMs > 0 {
		cutoff = now.Add(-time.Duration(contextWindowMs) * time.Millisecond)
	}
	out := make([]prompts.HistoryLine, 0, len(thread))
	for _, msg := range thread {
		if msg.ContextStatus == eitypes.ContextNever {
			continue
		}
		if msg.ContextStatus != eitypes.ContextAlways && !cutoff.IsZero() && msg.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, prompts.HistoryLine{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

func (p *Processor) runDailyCeremonyCheck(now time.Time) {
	today := now.Format("2006-01-02")
	for _, persona := range p.state.PersonaList() {
		if !persona.IsDynamic || persona.IsArchived || persona.IsPaused {
			continue
		}
		if p.state.LastCeremonyDay(persona.ID) == today {
			continue
		}
		thread := p.state.MessagesGet(persona.Name, time.Time{})
		lines := recentHistoryLines(thread, persona.ContextWindowMs, now)
		item := orchestrators.StartCeremony(persona, lines)
		if item == nil {
			updated, follow := orchestrators.RunDecayExpireExplore(persona, nil, now)
			if _, err := p.state.PersonaUpdate(updated); err != nil {
				p.events.EmitErrorFromErr(err)
			}
			if follow != nil {
				p.state.QueueEnqueue(*follow)
			}
			p.state.MarkCeremonyRan(persona.ID, today)
			continue
		}
		p.state.QueueEnqueue(*item)
	}

	content := orchestrators.BuildDailyCeremonyContent(p.state)
	if content == "" {
		return
	}
	ei, err := p.state.PersonaGet(state.DefaultEiAlias)
	if err != nil {
		return
	}
	msg := p.state.MessagesAppend(ei.Name, eitypes.Message{Role: eitypes.RoleSystem, Content: content})
	p.events.EmitMessageAdded(ei.Name, msg)
	_ = p.state.PersonaSetAwaitingCeremonyResponse(ei.ID, true)
}
