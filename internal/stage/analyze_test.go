package stage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

func TestAnalyzeStreamShape(t *testing.T) {
	fm := &fakeModel{turns: []turn{{deltas: textDeltas("thinking it through", 7)}}}
	s := NewAnalyze(newEnv(t, fm, echoCapability()))

	chunks := runStage(t, s, userRequest("hello"))
	require.NotEmpty(t, chunks)

	head := chunks[0]
	assert.Equal(t, transcript.RoleAssistant, head.Role)
	assert.Equal(t, transcript.TypeTaskAnalysis, head.Type)
	assert.Equal(t, "Thinking: ", head.Content)
	assert.Empty(t, head.ShowContent)

	for _, c := range chunks[1 : len(chunks)-1] {
		assert.Equal(t, head.ID, c.ID)
		assert.Equal(t, c.Content, c.ShowContent)
	}

	tail := chunks[len(chunks)-1]
	assert.Equal(t, head.ID, tail.ID)
	assert.Empty(t, tail.Content)
	assert.Equal(t, "\n", tail.ShowContent)

	merged := transcript.MergeChunks(chunks)
	require.Len(t, merged, 1)
	assert.Equal(t, "Thinking: thinking it through", merged[0].Content)
	assert.Equal(t, "thinking it through\n", merged[0].ShowContent)
}

func TestAnalyzePrompt(t *testing.T) {
	fixedNow(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC))
	fm := &fakeModel{turns: []turn{{deltas: textDeltas("ok", 2)}}}
	s := NewAnalyze(newEnv(t, fm, echoCapability()))

	runStage(t, s, userRequest("find the report"))

	require.Len(t, fm.reqs, 1)
	msgs := fm.reqs[0].Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, transcript.RoleUser, msgs[0].Role)

	prompt := msgs[0].Content
	assert.Contains(t, prompt, "User: find the report")
	assert.Contains(t, prompt, `"name": "echo"`)
	assert.Contains(t, prompt, "sess-1")
	assert.Contains(t, prompt, "The current time is 2025-03-14 Friday 09:30:00")
	assert.Empty(t, fm.reqs[0].Tools)
}

func TestAnalyzeModelError(t *testing.T) {
	fm := &fakeModel{turns: []turn{{err: errors.New("backend down")}}}
	s := NewAnalyze(newEnv(t, fm))

	chunks := runStage(t, s, userRequest("hello"))
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, transcript.RoleTool, last.Role)
	assert.Equal(t, transcript.TypeTaskAnalysis, last.Type)
	assert.Equal(t, "\nTask analysis failed: backend down", last.Content)
	assert.Equal(t, last.Content, last.ShowContent)
}
