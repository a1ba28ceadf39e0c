// Package scheduler computes the due-ness of the fixed job set named in
// spec §4.10: autosave, the hourly decay tick, the daily ceremony check, and
// per-persona heartbeat eligibility. Unlike the teacher's pkg/cron (a
// generic user-configurable CronJob store keyed by job id), this core has a
// fixed, non-user-configurable job set, so the store/CRUD machinery isn't
// reused — only its schedule and duration math are.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare576/ei/internal/eilog"
)

// Config holds the human-authored scheduling knobs (spec §4.10, §6).
type Config struct {
	AutosaveInterval time.Duration
	DecayInterval    time.Duration
	CeremonyCheck    time.Duration
	CeremonyLocal    string // "HH:MM"
	CeremonyTZ       string
}

// DefaultConfig matches the intervals named in spec §4.10.
func DefaultConfig() Config {
	return Config{
		AutosaveInterval: 30 * time.Second,
		DecayInterval:    time.Hour,
		CeremonyCheck:    5 * time.Minute,
		CeremonyLocal:    "09:00",
	}
}

// DueJobs reports which of the fixed, non-persona-scoped jobs should run on
// this tick.
type DueJobs struct {
	Autosave bool
	Decay    bool
	Ceremony bool
}

// Scheduler tracks last-run timestamps for the fixed job set and per-persona
// heartbeat timers. It does not itself run jobs; Processor calls Due/
// HeartbeatEligible each tick and reports back via the Mark* methods.
//
// Reached from the tick goroutine, the queueproc completion goroutine, and
// frontend API goroutines (SendMessage, CreatePersona, Archive/Pause/Delete
// all refresh a persona's timer), so every field below is mutex-guarded the
// same way state.Manager guards its own map fields.
type Scheduler struct {
	cfg Config
	log zerolog.Logger

	mu sync.Mutex

	lastAutosave    time.Time
	lastDecay       time.Time
	lastCeremonyDay string

	heartbeats map[string]heartbeatState
}

type heartbeatState struct {
	lastActivity time.Time
	delay        time.Duration
}

func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		log:        eilog.For("scheduler"),
		heartbeats: make(map[string]heartbeatState),
	}
}

// Due evaluates the three fixed jobs against now. Callers that actually run
// a job must call the matching Mark* method to record it.
func (s *Scheduler) Due(now time.Time) DueJobs {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due DueJobs
	if s.lastAutosave.IsZero() || now.Sub(s.lastAutosave) >= s.cfg.AutosaveInterval {
		due.Autosave = true
	}
	if s.lastDecay.IsZero() || now.Sub(s.lastDecay) >= s.cfg.DecayInterval {
		due.Decay = true
	}
	ceremonyDue, err := CeremonyDue(s.cfg.CeremonyLocal, s.cfg.CeremonyTZ, s.lastCeremonyDay, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid ceremony schedule, skipping check")
	} else {
		due.Ceremony = ceremonyDue
	}
	return due
}

func (s *Scheduler) MarkAutosaveRan(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAutosave = now
}

func (s *Scheduler) MarkDecayRan(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDecay = now
}

func (s *Scheduler) MarkCeremonyRan(now time.Time, tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCeremonyDay = now.In(resolveLocation(tz)).Format("2006-01-02")
}

// UpdateHeartbeat registers or refreshes a persona's heartbeat timer. Calling
// this with a new delay after a config change preserves lastActivity exactly
// as the teacher's HeartbeatRunner.updateConfig does (pkg/connector/
// heartbeat_runner.go, kept in the workspace purely as grounding reference,
// not imported): elapsed progress toward the next due time survives the
// delay change instead of resetting to "now" whenever settings are edited.
func (s *Scheduler) UpdateHeartbeat(personaID string, lastActivity time.Time, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[personaID] = heartbeatState{lastActivity: lastActivity, delay: delay}
}

// RemoveHeartbeat drops a persona's heartbeat timer, e.g. on archive/delete.
func (s *Scheduler) RemoveHeartbeat(personaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heartbeats, personaID)
}

// HeartbeatEligible returns the ids of personas whose idle time has reached
// their configured delay, per spec §4.10. The paused/archived/static/
// processing/awaiting-ceremony-response gate is the caller's responsibility
// (StateManager owns that persona state); this only tracks idle-time math.
func (s *Scheduler) HeartbeatEligible(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var eligible []string
	for id, hb := range s.heartbeats {
		if now.Sub(hb.lastActivity) >= hb.delay {
			eligible = append(eligible, id)
		}
	}
	return eligible
}
