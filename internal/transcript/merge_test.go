package transcript

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_AppendsNewIDs(t *testing.T) {
	base := []Message{{ID: "a", Role: RoleUser, Content: "hello", Type: TypeNormal}}
	frags := []Message{{ID: "b", Role: RoleAssistant, Content: "hi", Type: TypeNormal}}

	got := Merge(base, frags)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMerge_ConcatenatesMatchingIDs(t *testing.T) {
	base := []Message{{ID: "a", Role: RoleAssistant, Content: "Thinking: ", ShowContent: ""}}
	frags := []Message{
		{ID: "a", Role: RoleAssistant, Content: "step one", ShowContent: "step one"},
		{ID: "a", Role: RoleAssistant, Content: ", step two", ShowContent: ", step two"},
	}

	got := Merge(base, frags)

	require.Len(t, got, 1)
	assert.Equal(t, "Thinking: step one, step two", got[0].Content)
	assert.Equal(t, "step one, step two", got[0].ShowContent)
}

func TestMerge_KeepsFirstSeenFields(t *testing.T) {
	base := []Message{{ID: "a", Role: RoleAssistant, Type: TypePlanning, Content: "x"}}
	frags := []Message{{ID: "a", Role: RoleTool, Type: TypeObservation, Content: "y", ToolCallID: "tc1"}}

	got := Merge(base, frags)

	require.Len(t, got, 1)
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Equal(t, TypePlanning, got[0].Type)
	assert.Empty(t, got[0].ToolCallID)
	assert.Equal(t, "xy", got[0].Content)
}

func TestMerge_NotIdempotent(t *testing.T) {
	frag := Message{ID: "a", Role: RoleAssistant, Content: "once", ShowContent: "once"}

	got := Merge(Merge(nil, []Message{frag}), []Message{frag})

	require.Len(t, got, 1)
	assert.Equal(t, "onceonce", got[0].Content)
	assert.Equal(t, "onceonce", got[0].ShowContent)
}

func TestMerge_PreservesInsertionOrder(t *testing.T) {
	base := []Message{
		{ID: "a", Role: RoleUser, Content: "1"},
		{ID: "b", Role: RoleAssistant, Content: "2"},
	}
	frags := []Message{
		{ID: "d", Role: RoleAssistant, Content: "4"},
		{ID: "b", Role: RoleAssistant, Content: "+"},
		{ID: "c", Role: RoleTool, Content: "3"},
	}

	got := Merge(base, frags)

	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "d", "c"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "2+", got[1].Content)
}

func TestMerge_AssignsMissingIDs(t *testing.T) {
	got := Merge(nil, []Message{
		{Role: RoleUser, Content: "no id"},
		{Role: RoleUser, Content: "also no id"},
	})

	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEmpty(t, got[1].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := []Message{{ID: "a", Role: RoleAssistant, Content: "x"}}
	frags := []Message{{ID: "a", Role: RoleAssistant, Content: "y"}}

	_ = Merge(base, frags)

	assert.Equal(t, "x", base[0].Content)
	assert.Equal(t, "y", frags[0].Content)
}

func TestMergeChunks(t *testing.T) {
	chunks := []Message{
		{ID: "a", Role: RoleAssistant, Content: "He", ShowContent: "He"},
		{ID: "a", Content: "llo", ShowContent: "llo"},
		{ID: "b", Role: RoleTool, Content: "result"},
		{ID: "a", Content: "!", ShowContent: "!"},
	}

	got := MergeChunks(chunks)

	require.Len(t, got, 2)
	assert.Equal(t, "Hello!", got[0].Content)
	assert.Equal(t, "Hello!", got[0].ShowContent)
	assert.Equal(t, "result", got[1].Content)
}

func TestMergeChunks_PassesThroughMissingIDs(t *testing.T) {
	chunks := []Message{
		{Content: "anonymous"},
		{Content: "another"},
	}

	got := MergeChunks(chunks)

	require.Len(t, got, 2)
	assert.Equal(t, "anonymous", got[0].Content)
	assert.Equal(t, "another", got[1].Content)
}

func TestMergeChunks_Empty(t *testing.T) {
	assert.Nil(t, MergeChunks(nil))
}
