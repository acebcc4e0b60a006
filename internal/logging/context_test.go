// internal/logging/context_test.go
package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFields_Empty(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestContextFields_All(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-abc")
	ctx = WithRunID(ctx, "run-def")
	ctx = WithStage(ctx, "observe")
	ctx = WithRequestID(ctx, "req-123")

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.ElementsMatch(t, []string{"session.id", "run.id", "stage", "request.id"}, keys)
}

func TestWithSessionID_PanicsOnInvalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "has spaces"},
		{"path traversal", "../../etc"},
		{"too long", strings.Repeat("a", 200)},
		{"control chars", "abc\x00def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				WithSessionID(context.Background(), tt.id)
			})
		})
	}
}

func TestWithSessionID_AcceptsUUIDs(t *testing.T) {
	assert.NotPanics(t, func() {
		WithSessionID(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	})
}

func TestWithStage_NoValidation(t *testing.T) {
	// Stage names are internal; arbitrary values pass through.
	ctx := WithStage(context.Background(), "direct")
	assert.Equal(t, "direct", StageFromContext(ctx))
}

func TestLoggerRoundTrip(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)

	got := FromContext(ctx)
	require.Same(t, tl.Logger, got)
}

func TestFromContext_Fallback(t *testing.T) {
	got := FromContext(context.Background())
	require.NotNil(t, got)
	// Nop fallback swallows output without panicking.
	got.Info(context.Background(), "dropped")
}
