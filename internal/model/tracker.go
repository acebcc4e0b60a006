package model

import (
	"context"
	"sync"
)

// Tracker decorates a Client and accumulates token usage across every
// completion made through it. The orchestrator wraps its client with a
// fresh Tracker per run to report per-run totals.
type Tracker struct {
	inner Client

	mu    sync.Mutex
	usage Usage
	calls int
}

// NewTracker returns a tracking wrapper around inner.
func NewTracker(inner Client) *Tracker {
	return &Tracker{inner: inner}
}

// Complete delegates to the wrapped client and records the usage of
// successful calls.
func (t *Tracker) Complete(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error) {
	res, err := t.inner.Complete(ctx, req, onDelta)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.usage.Add(res.Usage)
	t.calls++
	t.mu.Unlock()
	return res, nil
}

// Model returns the wrapped client's model name.
func (t *Tracker) Model() string {
	return t.inner.Model()
}

// Usage returns the accumulated totals.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Calls returns how many completions succeeded.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears the accumulated totals.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = Usage{}
	t.calls = 0
}
