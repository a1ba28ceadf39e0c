package llm

import (
	"context"
	"sync"

	"github.com/flare576/ei/internal/eierrors"
)

// ScriptedResponse is one entry in a MockTransport's playback sequence.
type ScriptedResponse struct {
	Result *Result
	Err    error
}

// MockTransport plays back a configured sequence of responses in order,
// the shape spec §8 requires test suites to exercise. Safe for concurrent
// use: QueueProcessor is single-flight but tests may still construct
// transports shared across goroutines.
type MockTransport struct {
	mu       sync.Mutex
	queue    []ScriptedResponse
	calls    []Call
	fallback ScriptedResponse
}

// Call records one invocation for test assertions.
type Call struct {
	System string
	User   string
	Opts   CallOptions
}

// NewMockTransport builds a transport that returns each response in order,
// then repeats the last one (or an empty successful result if the queue
// started empty).
func NewMockTransport(responses ...ScriptedResponse) *MockTransport {
	return &MockTransport{queue: responses}
}

func (m *MockTransport) Call(ctx context.Context, system, user string, opts CallOptions) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{System: system, User: user, Opts: opts})

	if ctx.Err() != nil {
		return nil, &eierrors.AbortedError{Reason: ctx.Err().Error()}
	}

	var next ScriptedResponse
	switch {
	case len(m.queue) > 1:
		next, m.queue = m.queue[0], m.queue[1:]
	case len(m.queue) == 1:
		next = m.queue[0]
		m.fallback = next
	default:
		next = m.fallback
	}

	if next.Result == nil && next.Err == nil {
		next.Result = &Result{Content: "", FinishReason: FinishStop}
	}
	return next.Result, next.Err
}

// Calls returns every invocation recorded so far, in order.
func (m *MockTransport) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
