package handlers

import (
	"context"
	"time"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/orchestrators"
	"github.com/flare576/ei/internal/queueproc"
)

// HandlePersonaResponse applies the result of a response-generation request
// (spec §4.6 "HandlePersonaResponse"): strips echo (already done by
// QueueProcessor), detects silence, and either appends a system message or
// a ContextNever refusal explanation. On success it also triggers the
// three-step extraction orchestrator for the persona's thread, subject to
// the frequency gate.
func HandlePersonaResponse(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}

	personaID := dataString(item.Data, "persona_id")
	personaName := dataString(item.Data, "persona_name")

	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}

	if outcome.Err != nil {
		if outcome.Truncated {
			// Response requests are delivered even when truncated (spec §4.4);
			// fall through using whatever content came back.
		} else {
			return nil, outcome.Err
		}
	}

	now := hc.now()

	if outcome.NoMessage {
		_ = hc.State.PersonaMarkHeartbeat(personaID, now)
		return nil, nil
	}

	if outcome.Structured != nil {
		if !outcome.Structured.ShouldRespond {
			if outcome.Structured.Reason != "" {
				msg := hc.State.MessagesAppend(personaName, eitypes.Message{
					Role:          eitypes.RoleSystem,
					Content:       "[Persona chose not to respond because: " + outcome.Structured.Reason + "]",
					ContextStatus: eitypes.ContextNever,
				})
				hc.Events.EmitMessageAdded(personaName, msg)
			}
			_ = hc.State.PersonaMarkHeartbeat(personaID, now)
			return nil, nil
		}
		content := outcome.Structured.VerbalResponse
		if content == "" {
			content = outcome.Structured.ActionResponse
		}
		if content == "" {
			_ = hc.State.PersonaMarkHeartbeat(personaID, now)
			return nil, nil
		}
		return finishResponse(hc, persona.ID, personaName, content, now)
	}

	return finishResponse(hc, persona.ID, personaName, outcome.Content, now)
}

func finishResponse(hc *Context, personaID, personaName, content string, now time.Time) ([]eitypes.QueueItem, error) {
	msg := hc.State.MessagesAppend(personaName, eitypes.Message{
		Role:    eitypes.RoleSystem,
		Content: content,
	})
	hc.Events.EmitMessageAdded(personaName, msg)
	_ = hc.State.PersonaMarkHeartbeat(personaID, now)

	return orchestrators.MaybeStartExtraction(hc.State, personaID, personaName), nil
}

// HandleHeartbeatCheck applies the result of a persona's (or Ei's)
// heartbeat-check request. A "No Message" reply means the persona chose not
// to reach out unprompted; a real reply is delivered exactly like a normal
// response (spec §4.10, §8 "LLM returning No Message verbatim").
func HandleHeartbeatCheck(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	return HandlePersonaResponse(ctx, hc, item, outcome)
}
