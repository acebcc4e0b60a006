package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

func TestToLangchainMessages(t *testing.T) {
	msgs := []transcript.Message{
		{Role: transcript.RoleSystem, Content: "You are a helpful assistant."},
		{Role: transcript.RoleUser, Content: "What is 5 factorial?"},
		{Role: transcript.RoleAssistant, ToolCalls: []transcript.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: transcript.FunctionCall{
				Name:      "factorial",
				Arguments: `{"n": 5}`,
			},
		}}},
		{Role: transcript.RoleTool, Content: `{"result": 120}`, ToolCallID: "call_1"},
		{Role: transcript.RoleAssistant, Content: "5! is 120."},
	}

	out := toLangchainMessages(msgs)
	require.Len(t, out, 5)

	assert.Equal(t, llms.ChatMessageTypeSystem, out[0].Role)
	assert.Equal(t, llms.TextContent{Text: "You are a helpful assistant."}, out[0].Parts[0])

	assert.Equal(t, llms.ChatMessageTypeHuman, out[1].Role)

	assert.Equal(t, llms.ChatMessageTypeAI, out[2].Role)
	require.Len(t, out[2].Parts, 1)
	tc, ok := out[2].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "factorial", tc.FunctionCall.Name)
	assert.Equal(t, `{"n": 5}`, tc.FunctionCall.Arguments)

	assert.Equal(t, llms.ChatMessageTypeTool, out[3].Role)
	resp, ok := out[3].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", resp.ToolCallID)
	assert.Equal(t, `{"result": 120}`, resp.Content)

	assert.Equal(t, llms.ChatMessageTypeAI, out[4].Role)
}

// A message carrying tool calls must not leak its content into the
// payload; the calls are the payload.
func TestToLangchainMessages_ToolCallsExcludeContent(t *testing.T) {
	msgs := []transcript.Message{{
		Role:    transcript.RoleAssistant,
		Content: "Calling tool: factorial",
		ToolCalls: []transcript.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: transcript.FunctionCall{Name: "factorial", Arguments: "{}"},
		}},
	}}

	out := toLangchainMessages(msgs)
	require.Len(t, out, 1)
	require.Len(t, out[0].Parts, 1)
	_, isToolCall := out[0].Parts[0].(llms.ToolCall)
	assert.True(t, isToolCall)
}

func TestToLangchainTools(t *testing.T) {
	tools := []Tool{{
		Name:        "calculate",
		Description: "Evaluate an expression",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string", "description": "the expression"},
			},
			"required": []string{"expression"},
		},
	}}

	out := toLangchainTools(tools)
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "calculate", out[0].Function.Name)
	assert.Equal(t, "Evaluate an expression", out[0].Function.Description)
	assert.Equal(t, tools[0].Parameters, out[0].Function.Parameters)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "rate limited", err: errString("API returned unexpected status code: 429 too many requests"), retryable: true},
		{name: "server error", err: errString("API returned unexpected status code: 503 unavailable"), retryable: true},
		{name: "client error", err: errString("API returned unexpected status code: 400 bad request"), retryable: false},
		{name: "auth error", err: errString("API returned unexpected status code: 401 unauthorized"), retryable: false},
		{name: "transport failure", err: errString("dial tcp 127.0.0.1:8000: connection refused"), retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyHTTPError(tt.err)
			assert.Equal(t, tt.retryable, isRetryableError(got))
		})
	}
}

func TestClassifyHTTPError_ContextErrorsPreserved(t *testing.T) {
	got := classifyHTTPError(context.Canceled)
	assert.False(t, isRetryableError(got))
	assert.ErrorIs(t, got, context.Canceled)

	got = classifyHTTPError(fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.False(t, isRetryableError(got))
}

func TestUsageFromInfo(t *testing.T) {
	info := map[string]any{
		"PromptTokens":     120,
		"CompletionTokens": 45,
		"ReasoningTokens":  float64(8),
		"TotalTokens":      165,
	}
	u := usageFromInfo(info)
	assert.Equal(t, 120, u.Prompt)
	assert.Equal(t, 45, u.Completion)
	assert.Equal(t, 8, u.Reasoning)

	assert.Equal(t, Usage{}, usageFromInfo(nil))
	assert.Equal(t, Usage{}, usageFromInfo(map[string]any{"PromptTokens": "not a number"}))
}

func TestNewOpenAI_Defaults(t *testing.T) {
	c, err := NewOpenAI(Config{Name: "qwen-plus", MaxTokens: 4096, BaseURL: "http://localhost:8000/v1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "qwen-plus", c.Model())

	_, err = NewOpenAI(Config{MaxTokens: 10}, nil)
	require.Error(t, err)
}

type errString string

func (e errString) Error() string { return string(e) }
