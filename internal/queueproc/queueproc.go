// Package queueproc implements the C4 QueueProcessor: a single-slot
// executor that sends one queue item's prompt to the LLM transport,
// interprets the raw reply according to the item's response type, and
// delivers a typed Outcome to the caller's completion callback. Grounded on
// the teacher's single-in-flight streaming loop in
// pkg/connector/handleai.go, trimmed of tool-calling/streaming/media
// concerns the core does not need: one call in, one parsed result out.
package queueproc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eilog"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/llm"
)

// jsonRetryNote is appended to the system prompt on the third JSON attempt
// (spec §4.4 step 3).
const jsonRetryNote = "\n\nYour response MUST be valid JSON. No fences, no prose."

// noMessageToken is the literal silence marker a persona may reply with
// (spec §4.5).
const noMessageToken = "No Message"

// StructuredReply is the optional JSON envelope a "structured response"
// persona may return instead of plain text (spec §4.5).
type StructuredReply struct {
	ShouldRespond   bool   `json:"should_respond"`
	VerbalResponse  string `json:"verbal_response,omitempty"`
	ActionResponse  string `json:"action_response,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Outcome is what a finished (or aborted/failed) request delivers to the
// caller's completion callback. Exactly one of {Content/JSON/Raw}, NoMessage,
// or Err is meaningful, depending on the item's RequestType and what
// happened.
type Outcome struct {
	Aborted   bool
	Truncated bool

	Content     string          // Response/Raw: the (echo-stripped, for Response) text
	NoMessage   bool            // Response: persona chose silence
	Structured  *StructuredReply // Response: parsed JSON envelope, if the raw content was one

	JSON map[string]any // JSON: the parsed payload

	Err error
}

// Processor is the C4 QueueProcessor. It is single-slot: Start fails with
// *eierrors.QueueBusyError if called while a previous request is still
// in-flight.
type Processor struct {
	transport llm.Transport
	log       zerolog.Logger

	mu     sync.Mutex
	busy   bool
	cancel context.CancelFunc
}

func New(transport llm.Transport) *Processor {
	return &Processor{transport: transport, log: eilog.For("queue-processor")}
}

// IsBusy reports whether a request is currently in-flight.
func (p *Processor) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Start sends the item's prebuilt System/User prompt to the transport and
// invokes onComplete exactly once with the parsed Outcome. onComplete runs
// on a goroutine owned by Processor, never inline with Start, so Start never
// blocks the caller's tick loop (spec §4.10 "no long-running handler may
// block the tick"). lastHumanMessage is the final human turn's content,
// used for echo-stripping Response replies (spec §4.4, §8 "Echo safety").
func (p *Processor) Start(ctx context.Context, item eitypes.QueueItem, lastHumanMessage string, onComplete func(eitypes.QueueItem, Outcome)) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return &eierrors.QueueBusyError{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.busy = true
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		outcome := p.run(runCtx, item, lastHumanMessage)
		p.mu.Lock()
		p.busy = false
		p.cancel = nil
		p.mu.Unlock()
		onComplete(item, outcome)
	}()
	return nil
}

// Abort cancels the in-flight request, if any. The transport call returns
// an AbortedError which run() folds into Outcome.Aborted; onComplete is
// still invoked (spec §4.4 "delivers an aborted outcome the caller can
// observe").
func (p *Processor) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Processor) run(ctx context.Context, item eitypes.QueueItem, lastHumanMessage string) Outcome {
	opts := llm.CallOptions{Operation: string(item.NextStep)}
	if model, ok := item.Data["model"].(string); ok {
		opts.Model = model
	}

	result, err := p.transport.Call(ctx, item.System, item.User, opts)
	if err != nil {
		if eierrors.IsAborted(err) {
			return Outcome{Aborted: true, Err: err}
		}
		truncated := eierrors.IsTruncated(err)
		if truncated && item.Type != eitypes.RequestJSON {
			// Response/Raw requests are delivered even when truncated.
			return p.interpret(ctx, item, result, lastHumanMessage, true)
		}
		return Outcome{Truncated: truncated, Err: err}
	}
	return p.interpret(ctx, item, result, lastHumanMessage, false)
}

func (p *Processor) interpret(ctx context.Context, item eitypes.QueueItem, result *llm.Result, lastHumanMessage string, truncated bool) Outcome {
	if result == nil {
		return Outcome{Err: &eierrors.ProviderError{Err: errNilResult}}
	}

	switch item.Type {
	case eitypes.RequestRaw:
		return Outcome{Content: result.Content, Truncated: truncated}

	case eitypes.RequestResponse:
		stripped := StripEcho(result.Content, lastHumanMessage)
		if IsNoMessage(stripped) {
			return Outcome{NoMessage: true, Truncated: truncated}
		}
		if structured, ok := tryParseStructured(stripped); ok {
			return Outcome{Content: stripped, Structured: structured, Truncated: truncated}
		}
		return Outcome{Content: stripped, Truncated: truncated}

	case eitypes.RequestJSON:
		return p.interpretJSON(ctx, item, result.Content)

	default:
		return Outcome{Content: result.Content, Truncated: truncated}
	}
}

// interpretJSON implements the extract -> repair -> retry ladder from spec
// §4.4: first pass extracts the first balanced JSON value; on parse
// failure, a bracket-balancing repair is applied and retried; on a second
// failure the LLM itself is re-prompted once with a stricter system note;
// a third failure is JSONParseErr.
func (p *Processor) interpretJSON(ctx context.Context, item eitypes.QueueItem, raw string) Outcome {
	extracted, err := ExtractJSON(raw)
	if err != nil {
		// An unbalanced value still goes through Repair, starting from its
		// first bracket or brace.
		s := stripFences(raw)
		if start := strings.IndexAny(s, "{["); start >= 0 {
			extracted = s[start:]
		}
	}
	if extracted != "" {
		if parsed, perr := decodeJSON(extracted); perr == nil {
			return Outcome{JSON: parsed}
		}
		if repaired := Repair(extracted); repaired != "" {
			if parsed, perr := decodeJSON(repaired); perr == nil {
				return Outcome{JSON: parsed}
			}
		}
	}

	retryItem := item
	retryItem.System = item.System + jsonRetryNote
	result, err := p.transport.Call(ctx, retryItem.System, retryItem.User, llm.CallOptions{Operation: string(item.NextStep)})
	if err != nil {
		if eierrors.IsAborted(err) {
			return Outcome{Aborted: true, Err: err}
		}
		return Outcome{Truncated: eierrors.IsTruncated(err), Err: err}
	}

	if extracted, err := ExtractJSON(result.Content); err == nil {
		if parsed, perr := decodeJSON(extracted); perr == nil {
			return Outcome{JSON: parsed}
		}
	}
	return Outcome{Err: &eierrors.JSONParseErr{Raw: result.Content, Err: errJSONUnrecoverable}}
}

func decodeJSON(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func tryParseStructured(s string) (*StructuredReply, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}
	var reply StructuredReply
	raw := map[string]any{}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, false
	}
	if _, ok := raw["should_respond"]; !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return nil, false
	}
	return &reply, true
}
