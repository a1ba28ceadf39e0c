// Package handlers implements the C6 handler layer: one function per
// spec.md §3.4 next_step, each taking a finished queue item's Outcome and
// mutating StateManager and/or returning follow-up queue items to enqueue.
// Grounded on the teacher's handleai.go dispatch-by-request-kind shape
// (pkg/connector/handleai.go), generalized from a single streaming-chat
// handler into the tagged-variant dispatch table spec §9 calls for ("no
// inheritance is needed").
package handlers

import (
	"context"
	"time"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/embedding"
	"github.com/flare576/ei/internal/events"
	"github.com/flare576/ei/internal/queueproc"
	"github.com/flare576/ei/internal/state"
)

// Context bundles everything a handler needs beyond the finished item and
// its outcome: the authoritative state, the frontend event sink, an
// optional embedding provider, and a clock (overridable in tests).
type Context struct {
	State     *state.Manager
	Events    *events.Sink
	Embedding embedding.Provider
	Now       func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Handler processes one finished queue item, returning any follow-up items
// the orchestrator layer wants enqueued next. An error fails the item
// (counted against its attempt budget by the caller); a nil error with
// outcome.Aborted set means the caller should simply drop the item without
// advancing any chain.
type Handler func(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error)

// Dispatch looks up the handler for a queue item's NextStep. Callers that
// get !ok should fail the item and emit an error event per spec §4.6
// ("unknown handlers fail the item and emit an error event").
func Dispatch(step eitypes.NextStep) (Handler, bool) {
	h, ok := registry[step]
	return h, ok
}

var registry = map[eitypes.NextStep]Handler{
	eitypes.StepPersonaResponse:      HandlePersonaResponse,
	eitypes.StepHeartbeatCheck:       HandleHeartbeatCheck,
	eitypes.StepHumanFactScan:        HandleHumanScan,
	eitypes.StepHumanTraitScan:       HandleHumanScan,
	eitypes.StepHumanTopicScan:       HandleHumanScan,
	eitypes.StepHumanPersonScan:      HandleHumanScan,
	eitypes.StepItemMatch:            HandleItemMatch,
	eitypes.StepItemUpdate:           HandleItemUpdate,
	eitypes.StepPersonaGeneration:    HandlePersonaGeneration,
	eitypes.StepPersonaExposure:      HandlePersonaExposure,
	eitypes.StepPersonaExplore:       HandlePersonaExplore,
	eitypes.StepPersonaDescribe:      HandlePersonaDescribeCheck,
	eitypes.StepPersonaDescribeApply: HandlePersonaDescribeApply,
	eitypes.StepOneShot:              HandleOneShot,
}

func dataString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func dataStrings(data map[string]any, key string) []string {
	raw, ok := data[key].([]string)
	if ok {
		return raw
	}
	if anySlice, ok := data[key].([]any); ok {
		out := make([]string, 0, len(anySlice))
		for _, v := range anySlice {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// handledAbort is a small helper every handler calls first: Aborted
// outcomes are swallowed entirely (spec §7 propagation table), so handlers
// return (nil, nil) without touching state.
func handledAbort(outcome queueproc.Outcome) bool {
	return outcome.Aborted || eierrors.IsAborted(outcome.Err)
}
