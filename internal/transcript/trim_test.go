package transcript

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrim_UnderBudgetUnchanged(t *testing.T) {
	msgs := []Message{
		{ID: "1", Role: RoleUser, Content: "short", Type: TypeNormal},
		{ID: "2", Role: RoleAssistant, Content: "also short", Type: TypeNormal},
	}

	got := Trim(msgs, 10000)

	assert.Equal(t, msgs, got)
}

func TestTrim_DropsUnprotectedFromFront(t *testing.T) {
	filler := strings.Repeat("x", 400)
	msgs := []Message{
		{ID: "1", Role: RoleUser, Content: "keep me", Type: TypeNormal},
		{ID: "2", Role: RoleAssistant, Content: filler, Type: TypeTaskAnalysis},
		{ID: "3", Role: RoleAssistant, Content: filler, Type: TypePlanning},
		{ID: "4", Role: RoleAssistant, Content: "answer", Type: TypeFinalAnswer},
		{ID: "5", Role: RoleTool, Content: "recent result", Type: TypeToolCallResult},
	}

	got := Trim(msgs, 600)

	// Oldest unprotected messages go first; user and final answer stay.
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "4", "5"}, ids)
}

func TestTrim_StopsWhenUnderBudget(t *testing.T) {
	filler := strings.Repeat("y", 300)
	msgs := []Message{
		{ID: "1", Role: RoleAssistant, Content: filler, Type: TypePlanning},
		{ID: "2", Role: RoleAssistant, Content: filler, Type: TypePlanning},
		{ID: "3", Role: RoleUser, Content: "request", Type: TypeNormal},
	}

	got := Trim(msgs, 500)

	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(b), 500)
}

func TestTrim_AllProtectedStaysOverBudget(t *testing.T) {
	filler := strings.Repeat("z", 500)
	msgs := []Message{
		{ID: "1", Role: RoleUser, Content: filler, Type: TypeNormal},
		{ID: "2", Role: RoleAssistant, Content: filler, Type: TypeFinalAnswer},
	}

	got := Trim(msgs, 100)

	assert.Equal(t, msgs, got)
}

func TestTrim_DoesNotMutateInput(t *testing.T) {
	filler := strings.Repeat("w", 400)
	msgs := []Message{
		{ID: "1", Role: RoleAssistant, Content: filler, Type: TypePlanning},
		{ID: "2", Role: RoleUser, Content: "request", Type: TypeNormal},
	}

	_ = Trim(msgs, 100)

	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
}
