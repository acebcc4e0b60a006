package tagstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	text := "<is_completed>\ntrue\n</is_completed>\n<analysis>all done</analysis>"

	v, ok := Extract(text, "is_completed")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	v, ok = Extract(text, "analysis")
	require.True(t, ok)
	assert.Equal(t, "all done", v)
}

func TestExtract_MissingOpenFails(t *testing.T) {
	_, ok := Extract("no delimiters here", "analysis")
	assert.False(t, ok)
}

func TestExtract_MissingCloseTakesRemainder(t *testing.T) {
	v, ok := Extract("<analysis>runs to the end", "analysis")
	require.True(t, ok)
	assert.Equal(t, "runs to the end", v)
}

func TestExtract_RepeatedOpenBoundsValue(t *testing.T) {
	v, ok := Extract("<analysis>first<analysis>second</analysis>", "analysis")
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestExtractAll(t *testing.T) {
	text := "plan:\n<task_item>  research the topic </task_item>\n" +
		"<task_item>write the summary</task_item>\ntrailing"

	got := ExtractAll(text, "task_item")

	assert.Equal(t, []string{"research the topic", "write the summary"}, got)
}

func TestExtractAll_SpansLines(t *testing.T) {
	got := ExtractAll("<task_item>line one\nline two</task_item>", "task_item")
	assert.Equal(t, []string{"line one\nline two"}, got)
}

func TestExtractAll_NoMatches(t *testing.T) {
	assert.Nil(t, ExtractAll("nothing", "task_item"))
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "json array", raw: `["a", "b"]`, want: []string{"a", "b"}},
		{name: "json mixed types", raw: `["a", 2]`, want: []string{"a", "2"}},
		{name: "single quoted", raw: `['try x', 'try y']`, want: []string{"try x", "try y"}},
		{name: "unquoted elements", raw: `[alpha, beta]`, want: []string{"alpha", "beta"}},
		{name: "comma inside quotes", raw: `['a, b', 'c']`, want: []string{"a, b", "c"}},
		{name: "empty brackets", raw: `[]`, want: []string{}},
		{name: "plain text falls back", raw: "just a suggestion", want: []string{"just a suggestion"}},
		{name: "empty", raw: "  ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseList(tt.raw))
		})
	}
}
