package queueproc

import (
	"context"
	"testing"
	"time"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/llm"
)

func TestStripEchoRemovesVerbatimPrefix(t *testing.T) {
	got := StripEcho("Hi\n\nGreat to see you.", "Hi")
	if got != "Great to see you." {
		t.Fatalf("got %q, want %q", got, "Great to see you.")
	}
}

func TestStripEchoLeavesMidBodyOccurrenceIntact(t *testing.T) {
	raw := "Well, you said \"Hi\" earlier too."
	got := StripEcho(raw, "Hi")
	if got != raw {
		t.Fatalf("got %q, want unchanged %q", got, raw)
	}
}

func TestIsNoMessageExactMatch(t *testing.T) {
	if !IsNoMessage("  No Message  ") {
		t.Fatal("expected trimmed exact match to count as silence")
	}
	if IsNoMessage("No Message, really") {
		t.Fatal("expected partial match to not count as silence")
	}
}

func TestExtractJSONIgnoresFencesAndProse(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"a\": 1, \"b\": [1,2,3]}\n```\nHope that helps!"
	got, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": 1, "b": [1,2,3]}` {
		t.Fatalf("got %q", got)
	}
}

func TestRepairClosesTruncatedString(t *testing.T) {
	got := Repair(`{"name": "unterminated`)
	if got != `{"name": "unterminated"}` {
		t.Fatalf("got %q", got)
	}
}

func TestRepairTrimsToLastBalancedBrace(t *testing.T) {
	got := Repair(`{"a": 1, "b": 2}, garbage trailing`)
	if got != `{"a": 1, "b": 2}` {
		t.Fatalf("got %q", got)
	}
}

func TestProcessorResponseNoMessage(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{Result: &llm.Result{Content: "No Message", FinishReason: llm.FinishStop}})
	proc := New(transport)

	item := eitypes.QueueItem{Type: eitypes.RequestResponse, System: "sys", User: "Hi"}
	done := make(chan Outcome, 1)
	if err := proc.Start(context.Background(), item, "Hi", func(_ eitypes.QueueItem, o Outcome) { done <- o }); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := <-done
	if !out.NoMessage {
		t.Fatalf("got %+v, want NoMessage", out)
	}
}

func TestProcessorBusyRejectsSecondStart(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{Result: &llm.Result{Content: "hi", FinishReason: llm.FinishStop}})
	proc := New(transport)
	proc.busy = true

	err := proc.Start(context.Background(), eitypes.QueueItem{Type: eitypes.RequestResponse}, "", func(eitypes.QueueItem, Outcome) {})
	if !eierrors.IsQueueBusy(err) {
		t.Fatalf("got %v, want QueueBusyError", err)
	}
}

func TestProcessorJSONRepairPath(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{Result: &llm.Result{
		Content:      `{"mentioned": [], "new_items": [{"name": "tea"}]`, // missing closing brace
		FinishReason: llm.FinishStop,
	}})
	proc := New(transport)

	item := eitypes.QueueItem{Type: eitypes.RequestJSON, System: "sys", User: "u"}
	done := make(chan Outcome, 1)
	if err := proc.Start(context.Background(), item, "", func(_ eitypes.QueueItem, o Outcome) { done <- o }); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := <-done
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	items, ok := out.JSON["new_items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("got %+v, want one repaired new_item", out.JSON)
	}
}

func TestProcessorJSONFailsAfterRetryExhausted(t *testing.T) {
	transport := llm.NewMockTransport(
		llm.ScriptedResponse{Result: &llm.Result{Content: "not json at all", FinishReason: llm.FinishStop}},
		llm.ScriptedResponse{Result: &llm.Result{Content: "still not json", FinishReason: llm.FinishStop}},
	)
	proc := New(transport)

	item := eitypes.QueueItem{Type: eitypes.RequestJSON, System: "sys", User: "u"}
	done := make(chan Outcome, 1)
	if err := proc.Start(context.Background(), item, "", func(_ eitypes.QueueItem, o Outcome) { done <- o }); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := <-done
	if !eierrors.IsJSONParseError(out.Err) {
		t.Fatalf("got %v, want JSONParseErr", out.Err)
	}
}

func TestProcessorAbortDeliversAbortedOutcome(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{Result: &llm.Result{Content: "hi", FinishReason: llm.FinishStop}})
	proc := New(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := eitypes.QueueItem{Type: eitypes.RequestResponse, System: "sys", User: "u"}
	done := make(chan Outcome, 1)
	if err := proc.Start(ctx, item, "u", func(_ eitypes.QueueItem, o Outcome) { done <- o }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case out := <-done:
		if !out.Aborted {
			t.Fatalf("got %+v, want Aborted", out)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aborted outcome")
	}
}
