package processor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/events"
	"github.com/flare576/ei/internal/llm"
	"github.com/flare576/ei/internal/processor"
	"github.com/flare576/ei/internal/scheduler"
	"github.com/flare576/ei/internal/storage"
)

// eventLog records every Sink callback invocation, in order, for the
// ordering assertions spec §8's end-to-end scenarios require.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, format)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func newTestProcessor(t *testing.T, transport llm.Transport) (*processor.Processor, *eventLog) {
	t.Helper()
	log := &eventLog{}
	sink := events.Sink{
		OnMessageAdded: func(persona string, msg eitypes.Message) {
			log.add("messageAdded:" + persona + ":" + string(msg.Role))
		},
		OnMessageQueued:     func(persona string) { log.add("messageQueued:" + persona) },
		OnMessageProcessing: func(persona string) { log.add("messageProcessing:" + persona) },
		OnQueueStateChanged: func(state string) { log.add("queueState:" + state) },
	}
	proc := processor.New(processor.Config{
		Storage:   storage.NewMemoryStorage(),
		Transport: transport,
		Events:    sink,
		Scheduler: scheduler.DefaultConfig(),
	})
	ctx := context.Background()
	if err := proc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(proc.Stop)
	return proc, log
}

// waitFor polls cond until it returns true or the deadline elapses, failing
// the test on timeout. Needed because the tick loop runs on its own
// goroutine at processor.TickInterval.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// Scenario 1 (spec §8): basic send produces exactly one human message and
// one system reply, in the prescribed event order.
func TestBasicSend(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{
		Result: &llm.Result{Content: "Hello! I am Ei.", FinishReason: llm.FinishStop},
	})
	proc, log := newTestProcessor(t, transport)
	ctx := context.Background()

	if err := proc.SendMessage(ctx, "ei", "Hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, func() bool {
		msgs, _ := proc.GetMessages("ei")
		return len(msgs) == 2
	})

	msgs, err := proc.GetMessages("ei")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != eitypes.RoleHuman || msgs[0].Content != "Hi" {
		t.Fatalf("unexpected human message: %+v", msgs[0])
	}
	if msgs[1].Role != eitypes.RoleSystem || msgs[1].Content != "Hello! I am Ei." {
		t.Fatalf("unexpected system message: %+v", msgs[1])
	}

	events := log.snapshot()
	expectOrder := []string{
		"messageAdded:ei:human",
		"messageQueued:ei",
		"queueState:busy",
		"messageProcessing:ei",
		"messageAdded:ei:system",
	}
	assertSubsequence(t, events, expectOrder)
}

// Scenario 2 (spec §8): echo strip. The mock replies with the human's
// final message verbatim as a prefix; the stored reply must have it
// removed.
func TestEchoStrip(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{
		Result: &llm.Result{Content: "Hi\n\nGreat to see you.", FinishReason: llm.FinishStop},
	})
	proc, _ := newTestProcessor(t, transport)
	ctx := context.Background()

	if err := proc.SendMessage(ctx, "ei", "Hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, func() bool {
		msgs, _ := proc.GetMessages("ei")
		return len(msgs) == 2
	})

	msgs, _ := proc.GetMessages("ei")
	if msgs[1].Content != "Great to see you." {
		t.Fatalf("echo not stripped, got %q", msgs[1].Content)
	}
}

// Scenario 3 (spec §8): "No Message" verbatim produces no new system
// message, but the persona's heartbeat timestamp still advances.
func TestNoMessage(t *testing.T) {
	transport := llm.NewMockTransport(llm.ScriptedResponse{
		Result: &llm.Result{Content: "No Message", FinishReason: llm.FinishStop},
	})
	proc, _ := newTestProcessor(t, transport)
	ctx := context.Background()

	if err := proc.SendMessage(ctx, "ei", "Hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, func() bool {
		p, err := proc.GetPersona("ei")
		return err == nil && p.LastHeartbeat != nil
	})

	msgs, _ := proc.GetMessages("ei")
	if len(msgs) != 1 {
		t.Fatalf("want only the human message to remain, got %d messages: %+v", len(msgs), msgs)
	}
}

// Scenario 6 (spec §8): checkpoint save/restore round-trips. Only the
// first message should remain after restoring a checkpoint taken before
// the second send.
func TestCheckpointSaveRestore(t *testing.T) {
	transport := llm.NewMockTransport(
		llm.ScriptedResponse{Result: &llm.Result{Content: "first reply", FinishReason: llm.FinishStop}},
		llm.ScriptedResponse{Result: &llm.Result{Content: "second reply", FinishReason: llm.FinishStop}},
	)
	proc, _ := newTestProcessor(t, transport)
	ctx := context.Background()

	if err := proc.SendMessage(ctx, "ei", "first"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, func() bool {
		msgs, _ := proc.GetMessages("ei")
		return len(msgs) == 2
	})

	meta, err := proc.CreateCheckpoint(ctx, "before-second")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	if err := proc.SendMessage(ctx, "ei", "second"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, func() bool {
		msgs, _ := proc.GetMessages("ei")
		return len(msgs) == 4
	})

	// Both replies queued extraction scans, and restore is refused while
	// the queue is non-empty and not paused.
	proc.PauseQueue()
	if err := proc.RestoreCheckpoint(ctx, meta.ID); err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}

	msgs, _ := proc.GetMessages("ei")
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages after restore, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "first" || msgs[1].Content != "first reply" {
		t.Fatalf("unexpected restored messages: %+v", msgs)
	}
}

// Archived personas reject sendMessage with InvariantError (spec §8
// boundary behavior).
func TestSendMessageToArchivedPersonaFails(t *testing.T) {
	transport := llm.NewMockTransport()
	proc, _ := newTestProcessor(t, transport)
	ctx := context.Background()

	if _, err := proc.CreatePersona("Rae", "a friend"); err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}
	if err := proc.ArchivePersona("Rae"); err != nil {
		t.Fatalf("ArchivePersona: %v", err)
	}

	err := proc.SendMessage(ctx, "Rae", "hi")
	if err == nil {
		t.Fatal("want error sending to archived persona, got nil")
	}
}

func assertSubsequence(t *testing.T, full, want []string) {
	t.Helper()
	i := 0
	for _, ev := range full {
		if i < len(want) && ev == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("events %v did not contain subsequence %v (matched %d)", full, want, i)
	}
}
