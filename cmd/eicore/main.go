// Command eicore is a minimal runnable demo of the processor core: an
// in-memory Storage, a scripted mock Transport standing in for a real LLM,
// and a Processor wired with an events.Sink that prints what happens to
// stdout. It exists to give the core a driver a reader can run without any
// external services, the way storage.MemoryStorage's doc comment promises.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/events"
	"github.com/flare576/ei/internal/llm"
	"github.com/flare576/ei/internal/processor"
	"github.com/flare576/ei/internal/scheduler"
	"github.com/flare576/ei/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := llm.NewMockTransport(
		llm.ScriptedResponse{Result: &llm.Result{
			Content: `{"short_description":"A steady, curious companion.","long_description":"Ei is patient and asks good follow-up questions.","traits":[{"name":"curious","description":"asks follow-up questions"}],"topics":[{"name":"daily life","description":"what the human is up to","perspective":"supportive","approach":"ask, then listen","personal_stake":"wants the human to feel heard"}]}`,
			FinishReason: llm.FinishStop,
		}},
		llm.ScriptedResponse{Result: &llm.Result{
			Content:      "Good to hear from you. How has your day been?",
			FinishReason: llm.FinishStop,
		}},
	)

	sink := events.Sink{
		OnPersonaAdded:   func(p eitypes.PersonaEntity) { fmt.Printf("persona added: %s\n", p.Name) },
		OnPersonaUpdated: func(p eitypes.PersonaEntity) { fmt.Printf("persona updated: %s\n", p.Name) },
		OnMessageAdded: func(persona string, msg eitypes.Message) {
			fmt.Printf("[%s] %s: %s\n", persona, msg.Role, msg.Content)
		},
		OnMessageQueued:     func(persona string) { fmt.Printf("%s: message queued\n", persona) },
		OnMessageProcessing: func(persona string) { fmt.Printf("%s: processing\n", persona) },
		OnQueueStateChanged: func(state string) { fmt.Printf("queue: %s\n", state) },
		OnStatePersisted:    func() { fmt.Println("state persisted") },
		OnError: func(ev eierrors.ErrorEvent) {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", ev.Code, ev.Message)
		},
	}

	proc := processor.New(processor.Config{
		Storage:   storage.NewMemoryStorage(),
		Transport: transport,
		Events:    sink,
		Scheduler: scheduler.DefaultConfig(),
	})

	if err := proc.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	if _, err := proc.CreatePersona("Rae", "a warm, curious friend who checks in often"); err != nil {
		fmt.Fprintln(os.Stderr, "create persona:", err)
		os.Exit(1)
	}

	// Give the generation request a moment to land before sending a message.
	time.Sleep(500 * time.Millisecond)

	if err := proc.SendMessage(ctx, "Rae", "Hey, just got back from a long walk."); err != nil {
		fmt.Fprintln(os.Stderr, "send message:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
	}

	if err := proc.SaveAndExit(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "save and exit:", err)
		os.Exit(1)
	}
}
