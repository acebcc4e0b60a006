package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	msgs := []Message{
		{ID: "1", Role: RoleUser, Content: "question", ShowContent: "question", Type: TypeNormal},
		{
			ID:   "2",
			Role: RoleAssistant,
			Type: TypeToolCall,
			ToolCalls: []ToolCall{
				{ID: "c1", Type: "function", Function: FunctionCall{Name: "calculate", Arguments: "{}"}},
			},
			ShowContent: "Calling tool: calculate\n\n",
		},
		{ID: "3", Role: RoleTool, Content: "42", ToolCallID: "c1", Type: TypeToolCallResult},
	}

	got := Clean(msgs)

	require.Len(t, got, 3)

	assert.Equal(t, Message{Role: RoleUser, Content: "question"}, got[0])

	assert.Empty(t, got[1].Content)
	assert.Empty(t, got[1].ShowContent)
	assert.Empty(t, got[1].Type)
	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, "calculate", got[1].ToolCalls[0].Function.Name)

	assert.Equal(t, Message{Role: RoleTool, Content: "42", ToolCallID: "c1"}, got[2])
}

func TestPromptString(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "do the thing"},
		{Role: RoleAssistant, Content: "on it"},
		{Role: RoleTool, Content: "done"},
		{Role: RoleSystem, Content: "never rendered"},
	}

	got := PromptString(msgs)

	assert.Equal(t, "User: do the thing\nAssistant: on it\nTool: done", got)
}

func TestPromptString_ToolCalls(t *testing.T) {
	msgs := []Message{
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "c1", Type: "function", Function: FunctionCall{Name: "factorial", Arguments: `{"n":5}`}},
			},
		},
	}

	got := PromptString(msgs)

	assert.Contains(t, got, "Assistant: Tool calls: ")
	assert.Contains(t, got, `"factorial"`)
}

func TestPromptString_ContentWinsOverToolCalls(t *testing.T) {
	msgs := []Message{
		{
			Role:      RoleAssistant,
			Content:   "already answered",
			ToolCalls: []ToolCall{{ID: "c1"}},
		},
	}

	assert.Equal(t, "Assistant: already answered", PromptString(msgs))
}

func TestPromptString_Empty(t *testing.T) {
	assert.Equal(t, "None", PromptString(nil))
}
