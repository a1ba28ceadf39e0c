package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/flare576/ei/internal/eierrors"
)

func TestMockTransportPlaysBackInOrder(t *testing.T) {
	mt := NewMockTransport(
		ScriptedResponse{Result: &Result{Content: "first", FinishReason: FinishStop}},
		ScriptedResponse{Result: &Result{Content: "second", FinishReason: FinishStop}},
	)

	ctx := context.Background()
	got, err := mt.Call(ctx, "sys", "u1", CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "first" {
		t.Fatalf("got %q, want %q", got.Content, "first")
	}

	got, err = mt.Call(ctx, "sys", "u2", CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "second" {
		t.Fatalf("got %q, want %q", got.Content, "second")
	}

	// Exhausted queue repeats the last scripted response.
	got, err = mt.Call(ctx, "sys", "u3", CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "second" {
		t.Fatalf("got %q, want repeat of last response %q", got.Content, "second")
	}

	calls := mt.Calls()
	if len(calls) != 3 {
		t.Fatalf("got %d recorded calls, want 3", len(calls))
	}
	if calls[1].User != "u2" {
		t.Fatalf("got recorded user %q, want %q", calls[1].User, "u2")
	}
}

func TestMockTransportScriptedError(t *testing.T) {
	want := &eierrors.NetworkError{Err: errors.New("boom")}
	mt := NewMockTransport(ScriptedResponse{Err: want})

	_, err := mt.Call(context.Background(), "sys", "u", CallOptions{})
	if !errors.Is(err, error(want)) && err != error(want) {
		var ne *eierrors.NetworkError
		if !errors.As(err, &ne) {
			t.Fatalf("got %v, want NetworkError", err)
		}
	}
}

func TestMockTransportHonorsCancellation(t *testing.T) {
	mt := NewMockTransport(ScriptedResponse{Result: &Result{Content: "unused"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mt.Call(ctx, "sys", "u", CallOptions{})
	if !eierrors.IsAborted(err) {
		t.Fatalf("got %v, want AbortedError", err)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]FinishReason{
		"stop":          FinishStop,
		"length":        FinishLength,
		"content_filter": FinishOther,
		"":               FinishOther,
	}
	for raw, want := range cases {
		if got := mapFinishReason(raw); got != want {
			t.Fatalf("mapFinishReason(%q) = %q, want %q", raw, got, want)
		}
	}
}
