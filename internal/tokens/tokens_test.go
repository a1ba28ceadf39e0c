package tokens

import "testing"

func TestCountTextNonEmpty(t *testing.T) {
	n, err := CountText("hello world", "gpt-4o")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n <= 0 {
		t.Fatalf("got %d tokens, want > 0", n)
	}
}

func TestCountTextUnknownModelFallsBackToCl100kBase(t *testing.T) {
	n, err := CountText("hello world", "some-unreleased-model")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n <= 0 {
		t.Fatalf("got %d tokens, want > 0 via cl100k_base fallback", n)
	}
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	single, err := CountText("hi", "gpt-4o")
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	total, err := CountMessages([]Message{{Role: "user", Content: "hi"}}, "gpt-4o")
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if total <= single {
		t.Fatalf("got %d, want more than bare content count %d due to per-message overhead", total, single)
	}
}

func TestCountMessagesGrowsWithMoreMessages(t *testing.T) {
	one, err := CountMessages([]Message{{Role: "user", Content: "hi"}}, "gpt-4o")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	two, err := CountMessages([]Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}, "gpt-4o")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if two <= one {
		t.Fatalf("got %d for two messages, want more than %d for one", two, one)
	}
}
