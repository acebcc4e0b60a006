// Package model abstracts streaming chat completion over interchangeable
// backends. The orchestrator talks to the Client interface only; concrete
// clients exist for OpenAI-compatible endpoints (vLLM, Ollama, the
// hosted API) and for Anthropic's Messages API.
//
// All clients share the same call discipline: a rate limiter gates each
// request, transient failures are retried with exponential backoff, and
// retries stop the moment the first delta has been delivered so no
// fragment is ever emitted twice.
package model

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const defaultBaseBackoff = 1 * time.Second

// Usage counts tokens for one completion call. Backends that do not
// report a field leave it zero.
type Usage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Cached     int `json:"cached_tokens,omitempty"`
	Reasoning  int `json:"reasoning_tokens,omitempty"`
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Cached += other.Cached
	u.Reasoning += other.Reasoning
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.Prompt + u.Completion
}

// ToolCallDelta is one streamed fragment of a tool invocation. A backend
// may deliver a call whole in a single fragment or split the argument
// JSON across many; fragments belonging to one call share an Index, and
// ID and Name arrive on the first fragment only.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta is one streamed fragment of a completion.
type Delta struct {
	Content   string
	ToolCalls []ToolCallDelta
}

// DeltaFunc receives fragments in arrival order. Returning an error
// aborts the call; the error is surfaced by Complete unchanged.
type DeltaFunc func(Delta) error

// Tool describes one invocable function offered to the model.
// Parameters is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one chat completion call. Sampling parameters come from
// the client configuration, not the request.
type Request struct {
	Messages []transcript.Message
	Tools    []Tool
}

// Result is the assembled outcome of a streamed completion.
type Result struct {
	Content    string
	ToolCalls  []transcript.ToolCall
	StopReason string
	Usage      Usage
}

// Client is a streaming chat-completion backend.
type Client interface {
	// Complete streams one completion. onDelta may be nil when the
	// caller only wants the assembled result.
	Complete(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error)

	// Model returns the configured model name.
	Model() string
}

// Config selects and tunes a backend client.
type Config struct {
	// Provider selects the backend: "openai" or "anthropic".
	Provider string
	// BaseURL overrides the API endpoint. Required for local
	// OpenAI-compatible servers.
	BaseURL        string
	Name           string
	APIKey         string
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration
	MaxRetries     int
	// RateLimit is requests per second. Zero disables client-side
	// limiting.
	RateLimit float64
	RateBurst int
}

// Validate checks the fields every backend needs.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("model name required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be > 0, got %d", c.MaxTokens)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// New builds the configured backend client. A nil log falls back to a
// no-op logger.
func New(cfg Config, log *logging.Logger) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg, log)
	case "anthropic":
		return NewAnthropic(cfg, log)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// completeWithRetry runs fn with exponential backoff. A call is only
// retried while no delta has reached the caller; once streaming has
// started a failure is final, otherwise fragments would repeat.
func completeWithRetry(ctx context.Context, maxRetries int, onDelta DeltaFunc, fn func(context.Context, DeltaFunc) (*Result, error)) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		emitted := false
		emit := func(d Delta) error {
			emitted = true
			if onDelta == nil {
				return nil
			}
			return onDelta(d)
		}

		res, err := fn(ctx, emit)
		if err == nil {
			return res, nil
		}

		lastErr = err
		if emitted || !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*retryableError); ok {
		return true
	}
	return false
}
