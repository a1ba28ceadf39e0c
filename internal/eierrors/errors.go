// Package eierrors implements the typed error taxonomy from spec §7. Each
// kind is a concrete struct satisfying error, discoverable with errors.As,
// following the shape of the teacher's ContextLengthError/PreDeltaError
// (pkg/aierrors/errors.go) but with the bridgev2 status-code plumbing
// stripped out since the core has no Matrix bridge surface.
package eierrors

import (
	"errors"
	"fmt"
	"time"
)

// AbortedError is raised when a transport call or handler recognizes
// cancellation. It is swallowed at the Processor; no event is emitted.
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string {
	if e.Reason == "" {
		return "aborted"
	}
	return "aborted: " + e.Reason
}

func IsAborted(err error) bool {
	var a *AbortedError
	return errors.As(err, &a)
}

// TruncatedError is raised when the transport reports a length-limited
// finish reason.
type TruncatedError struct {
	Content string // best-effort partial content, if any
}

func (e *TruncatedError) Error() string { return "llm response truncated" }

func IsTruncated(err error) bool {
	var t *TruncatedError
	return errors.As(err, &t)
}

// JSONParseErr is raised when two parse+repair+retry attempts fail to
// produce valid JSON (spec §4.4).
type JSONParseErr struct {
	Raw string
	Err error
}

func (e *JSONParseErr) Error() string {
	return fmt.Sprintf("json parse failed after repair and retry: %v", e.Err)
}

func (e *JSONParseErr) Unwrap() error { return e.Err }

func IsJSONParseError(err error) bool {
	var j *JSONParseErr
	return errors.As(err, &j)
}

// RateLimitedError is raised when the provider signals 429, carrying the
// provider's suggested retry delay if one was given.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func IsRateLimited(err error) bool {
	var r *RateLimitedError
	return errors.As(err, &r)
}

// ProviderError wraps a 5xx / transport-level failure from the LLM provider.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "provider error: " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// NetworkError wraps a connection-level transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// InvariantError is raised when a StateManager precondition is violated; it
// is a programmer-visible error and leaves state untouched.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Message }

func NewInvariantError(format string, args ...any) *InvariantError {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}

func IsInvariant(err error) bool {
	var i *InvariantError
	return errors.As(err, &i)
}

// NotFoundError indicates an unknown id; callers typically treat this as a
// nil/empty result rather than surfacing an event.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// CheckpointFullError indicates all manual checkpoint slots are occupied.
type CheckpointFullError struct{}

func (e *CheckpointFullError) Error() string {
	return "checkpoint slots full; delete one before creating another"
}

func IsCheckpointFull(err error) bool {
	var c *CheckpointFullError
	return errors.As(err, &c)
}

// StorageError wraps a load/save/checkpoint failure from the storage layer.
// Non-fatal for persist (retried next tick, surfaced as an error event);
// fatal for the initial load (surfaced at Processor.Start).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// QueueBusyError is raised by QueueProcessor.Start when called while busy.
type QueueBusyError struct{}

func (e *QueueBusyError) Error() string { return "QUEUE_BUSY" }

func IsQueueBusy(err error) bool {
	var q *QueueBusyError
	return errors.As(err, &q)
}

// ErrorEvent is the shape delivered to Processor's onError callback.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToErrorEvent classifies any error into a frontend-facing code/message pair.
func ToErrorEvent(err error) ErrorEvent {
	switch {
	case err == nil:
		return ErrorEvent{}
	case IsAborted(err):
		return ErrorEvent{Code: "ABORTED", Message: err.Error()}
	case IsTruncated(err):
		return ErrorEvent{Code: "LLM_TRUNCATED", Message: err.Error()}
	case IsJSONParseError(err):
		return ErrorEvent{Code: "JSON_PARSE_ERROR", Message: err.Error()}
	case IsRateLimited(err):
		return ErrorEvent{Code: "RATE_LIMITED", Message: err.Error()}
	case IsInvariant(err):
		return ErrorEvent{Code: "INVARIANT_ERROR", Message: err.Error()}
	case IsNotFound(err):
		return ErrorEvent{Code: "NOT_FOUND", Message: err.Error()}
	case IsCheckpointFull(err):
		return ErrorEvent{Code: "CHECKPOINT_FULL", Message: err.Error()}
	case IsQueueBusy(err):
		return ErrorEvent{Code: "QUEUE_BUSY", Message: err.Error()}
	default:
		var se *StorageError
		if errors.As(err, &se) {
			return ErrorEvent{Code: "STORAGE_ERROR", Message: err.Error()}
		}
		var pe *ProviderError
		if errors.As(err, &pe) {
			return ErrorEvent{Code: "PROVIDER_ERROR", Message: err.Error()}
		}
		var ne *NetworkError
		if errors.As(err, &ne) {
			return ErrorEvent{Code: "NETWORK_ERROR", Message: err.Error()}
		}
		return ErrorEvent{Code: "UNKNOWN_ERROR", Message: err.Error()}
	}
}
