package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

func plannedRequest(t *testing.T, step planStep) Request {
	t.Helper()
	payload, err := json.Marshal(planEnvelope{NextStep: step})
	require.NoError(t, err)
	req := userRequest("original ask")
	req.Messages = append(req.Messages, transcript.Message{
		ID:      "m-plan",
		Role:    transcript.RoleAssistant,
		Content: planHeader + string(payload),
		Type:    transcript.TypePlanning,
	})
	return req
}

func TestExecuteTextResponse(t *testing.T) {
	fm := &fakeModel{turns: []turn{{deltas: textDeltas("Hello there", 5)}}}
	s := NewExecute(newEnv(t, fm, echoCapability()))

	req := plannedRequest(t, planStep{
		Description:    "say hello",
		RequiredTools:  []string{"echo"},
		ExpectedOutput: "a greeting",
	})
	chunks := runStage(t, s, req)
	require.NotEmpty(t, chunks)

	work := chunks[0]
	assert.Equal(t, transcript.RoleAssistant, work.Role)
	assert.Equal(t, transcript.TypeDoSubtask, work.Type)
	assert.Contains(t, work.Content, "Do the following subtask:say hello.\nthe expected output is:a greeting")
	assert.Contains(t, work.Content, "task execution rules")
	assert.Empty(t, work.ShowContent)

	merged := transcript.MergeChunks(chunks)
	require.Len(t, merged, 2)
	assert.Equal(t, transcript.TypeSubtaskResult, merged[1].Type)
	assert.Equal(t, "Hello there", merged[1].Content)
	assert.Equal(t, "Hello there\n", merged[1].ShowContent)

	require.Len(t, fm.reqs, 1)
	msgs := fm.reqs[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, transcript.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are a task execution assistant")
	assert.Contains(t, msgs[0].Content, "Your working directory is: /tmp/agentd/sess-1")
	assert.Equal(t, work.Content, msgs[3].Content)

	require.Len(t, fm.reqs[0].Tools, 1)
	assert.Equal(t, "echo", fm.reqs[0].Tools[0].Name)
}

func TestExecuteDispatchesToolCall(t *testing.T) {
	fm := &fakeModel{turns: []turn{{deltas: []model.Delta{
		{Content: "noise", ToolCalls: []model.ToolCallDelta{
			{Index: 0, ID: "call-1", Name: "echo", Arguments: `{"text":`},
		}},
		{ToolCalls: []model.ToolCallDelta{{Index: 0, Arguments: `"hi"}`}}},
		{Content: "late noise"},
	}}}}
	s := NewExecute(newEnv(t, fm, echoCapability()))

	chunks := runStage(t, s, plannedRequest(t, planStep{Description: "echo hi", RequiredTools: []string{"echo"}}))
	require.Len(t, chunks, 3)

	announce := chunks[1]
	assert.Equal(t, transcript.RoleAssistant, announce.Role)
	assert.Equal(t, transcript.TypeToolCall, announce.Type)
	require.Len(t, announce.ToolCalls, 1)
	assert.Equal(t, "echo", announce.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"text":"hi"}`, announce.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "Calling tool: echo\n\n", announce.ShowContent)
	assert.Empty(t, announce.Content)

	result := chunks[2]
	assert.Equal(t, transcript.RoleTool, result.Role)
	assert.Equal(t, transcript.TypeToolCallResult, result.Type)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.JSONEq(t, `{"content":"hi"}`, result.Content)
	assert.Equal(t, "\n```json\n\"hi\"\n```\n", result.ShowContent)
}

func TestExecuteBadToolArguments(t *testing.T) {
	fm := &fakeModel{turns: []turn{{deltas: []model.Delta{
		{ToolCalls: []model.ToolCallDelta{{Index: 0, ID: "call-9", Name: "echo", Arguments: "{not json"}}},
	}}}}
	s := NewExecute(newEnv(t, fm, echoCapability()))

	chunks := runStage(t, s, plannedRequest(t, planStep{Description: "echo"}))
	require.Len(t, chunks, 3)
	fail := chunks[2]
	assert.Equal(t, transcript.RoleTool, fail.Role)
	assert.Equal(t, "call-9", fail.ToolCallID)
	assert.Contains(t, fail.Content, "Tool echo execution failed: ")
	assert.Equal(t, "Tool call failed\n\n", fail.ShowContent)
}

func TestExecuteUnknownTool(t *testing.T) {
	fm := &fakeModel{turns: []turn{{deltas: []model.Delta{
		{ToolCalls: []model.ToolCallDelta{{Index: 0, ID: "call-2", Name: "missing", Arguments: "{}"}}},
	}}}}
	s := NewExecute(newEnv(t, fm, echoCapability()))

	chunks := runStage(t, s, plannedRequest(t, planStep{Description: "use a tool"}))
	require.Len(t, chunks, 3)
	assert.Equal(t, "Calling tool: missing\n\n", chunks[1].ShowContent)

	result := chunks[2]
	assert.Equal(t, transcript.RoleTool, result.Role)
	assert.Equal(t, "call-2", result.ToolCallID)
	assert.Contains(t, result.Content, string(capability.ErrToolNotFound))
	assert.Equal(t, "\n"+result.Content+"\n", result.ShowContent)
}

func TestExecuteNestedHandoff(t *testing.T) {
	nested := capability.NewNested(capability.Descriptor{
		Name:        "researcher",
		Description: "Hands the task to the research orchestrator.",
	}, func(ctx context.Context, msgs []transcript.Message, sessionID string) ([]transcript.Message, error) {
		assert.Equal(t, "sess-1", sessionID)
		return []transcript.Message{{
			ID:          "n-1",
			Role:        transcript.RoleAssistant,
			Content:     "nested answer",
			ShowContent: "nested answer",
			Type:        transcript.TypeFinalAnswer,
		}}, nil
	})
	fm := &fakeModel{turns: []turn{{deltas: []model.Delta{
		{ToolCalls: []model.ToolCallDelta{{Index: 0, ID: "call-3", Name: "researcher", Arguments: "{}"}}},
	}}}}
	s := NewExecute(newEnv(t, fm, nested))

	chunks := runStage(t, s, plannedRequest(t, planStep{Description: "research"}))
	require.Len(t, chunks, 3)

	handoff := chunks[1]
	assert.Equal(t, "This task was handed to researcher for execution", handoff.Content)
	assert.Equal(t, handoff.Content, handoff.ShowContent)
	assert.Empty(t, handoff.ToolCalls)

	assert.Equal(t, "n-1", chunks[2].ID)
	assert.Equal(t, "nested answer", chunks[2].Content)
}

func TestExecuteWithoutPlan(t *testing.T) {
	fm := &fakeModel{}
	s := NewExecute(newEnv(t, fm, echoCapability()))

	chunks := runStage(t, s, userRequest("no plan yet"))
	require.Len(t, chunks, 1)
	assert.Equal(t, transcript.RoleTool, chunks[0].Role)
	assert.Equal(t, transcript.TypeSubtaskResult, chunks[0].Type)
	assert.Equal(t, "\nTask execution failed: no planning message in transcript", chunks[0].Content)
	assert.Empty(t, fm.reqs)
}

func TestExecuteToolFallbackWhenPlanNamesUnknownTools(t *testing.T) {
	fm := &fakeModel{turns: []turn{{deltas: textDeltas("ok", 2)}}}
	s := NewExecute(newEnv(t, fm, echoCapability()))

	runStage(t, s, plannedRequest(t, planStep{Description: "x", RequiredTools: []string{"nope"}}))

	require.Len(t, fm.reqs, 1)
	require.Len(t, fm.reqs[0].Tools, 1)
	assert.Equal(t, "echo", fm.reqs[0].Tools[0].Name)
}
