// Package llm implements the C2 LLM transport contract: a single cancellable
// call operation that returns raw text and a finish reason, or fails with one
// of the typed errors in internal/eierrors. The transport has no knowledge of
// prompt semantics or state; it is grounded on the teacher's OpenAIProvider
// (pkg/connector/provider_openai.go) stripped of streaming, tool-calling, and
// multimodal concerns the core does not need.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eilog"
)

// FinishReason mirrors the OpenAI-compatible wire values the core cares
// about. Anything else the provider returns passes through as FinishOther.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// CallOptions carries the per-call knobs named in spec §4.2. Signal is a
// context rather than a distinct channel type, following Go convention;
// cancelling ctx is equivalent to firing the signal.
type CallOptions struct {
	Temperature float64
	Model       string
	Operation   string // free-form label, surfaced only in logs/tracing
}

// Result is the transport's successful return shape.
type Result struct {
	Content      string
	FinishReason FinishReason
}

// Transport is the C2 contract. Implementations must treat ctx cancellation
// as an AbortedError, not a NetworkError.
type Transport interface {
	Call(ctx context.Context, system, user string, opts CallOptions) (*Result, error)
}

// OpenAIBackend is an OpenAI-compatible chat completions transport. It is
// provider-agnostic: baseURL may point at OpenAI itself, OpenRouter, or any
// other OpenAI-compatible endpoint, matching the teacher's
// NewOpenAIProviderWithBaseURL constructor shape.
type OpenAIBackend struct {
	client       openai.Client
	defaultModel string
	log          zerolog.Logger
}

// NewOpenAIBackend builds a transport against the given base URL, following
// the teacher's constructor + request-trace-middleware pattern.
func NewOpenAIBackend(apiKey, baseURL, defaultModel string) *OpenAIBackend {
	log := eilog.For("llm-transport")
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMiddleware(requestTraceMiddleware(log)),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
		log:          log,
	}
}

// requestTraceMiddleware logs method/path/duration around each outbound
// call, grounded on the teacher's makeRequestTraceMiddleware.
func requestTraceMiddleware(log zerolog.Logger) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		start := time.Now()
		resp, err := next(req)
		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("duration_ms", time.Since(start)).
			Msg("llm transport request")
		return resp, err
	}
}

func (o *OpenAIBackend) Call(ctx context.Context, system, user string, opts CallOptions) (*Result, error) {
	model := opts.Model
	if model == "" {
		model = o.defaultModel
	}

	req := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if opts.Temperature > 0 {
		req.Temperature = openai.Float(opts.Temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &eierrors.ProviderError{Err: fmt.Errorf("no choices in response")}
	}

	choice := resp.Choices[0]
	result := &Result{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	if result.FinishReason == FinishLength {
		return result, &eierrors.TruncatedError{Content: result.Content}
	}
	return result, nil
}

func mapFinishReason(raw string) FinishReason {
	switch raw {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

// classifyError maps context cancellation and openai.Error status codes onto
// the typed taxonomy in internal/eierrors, the same triage the teacher
// performs in pkg/aierrors (IsRateLimitError/IsServerError) but collapsed to
// the four kinds C2 is allowed to report.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &eierrors.AbortedError{Reason: ctx.Err().Error()}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return &eierrors.RateLimitedError{RetryAfter: retryAfterFrom(apiErr.Response)}
		}
		return &eierrors.ProviderError{Err: err}
	}

	return &eierrors.NetworkError{Err: err}
}

// retryAfterFrom reads the provider's Retry-After header, if any, as either
// a delta-seconds value or an HTTP-date, so a 429's backoff reflects what
// the provider actually asked for instead of a fixed guess (spec §7
// recovery table, queue-side gating in state.Manager.QueueFail).
func retryAfterFrom(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
