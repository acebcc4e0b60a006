package tagstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll streams text one rune at a time and returns the concatenated
// emit fragments per field.
func feedAll(c *Classifier, text string) map[string]string {
	fields := make(map[string]string)
	for _, r := range text {
		cls, emit := c.Feed(r)
		if cls.Kind == KindField {
			fields[cls.Field] += emit
		}
	}
	return fields
}

func TestClassifier_RoundTrip(t *testing.T) {
	c := NewClassifier([]string{"analysis"})

	got := feedAll(c, "<analysis>\nhello world\n</analysis>")

	assert.Equal(t, "hello world", strings.TrimSpace(got["analysis"]))
}

func TestClassifier_MultipleFields(t *testing.T) {
	c := NewClassifier([]string{"next_step_description", "expected_output"})

	text := "<next_step_description>do it</next_step_description>\n" +
		"<expected_output>done</expected_output>"
	got := feedAll(c, text)

	assert.Equal(t, "do it", strings.TrimSpace(got["next_step_description"]))
	assert.Equal(t, "done", strings.TrimSpace(got["expected_output"]))
}

func TestClassifier_MidLineAngleBracket(t *testing.T) {
	c := NewClassifier([]string{"analysis"})

	got := feedAll(c, "<analysis>value < threshold</analysis>")

	assert.Equal(t, "value < threshold", strings.TrimSpace(got["analysis"]))
}

func TestClassifier_PrefixFieldNamesHeldAsUnknown(t *testing.T) {
	c := NewClassifier([]string{"analysis", "analysis_extra"})

	var last Class
	for _, r := range "<analysis_e" {
		cls, _ := c.Feed(r)
		require.NotEqual(t, "analysis", cls.Field,
			"ambiguous delimiter prefix classified as analysis content")
		last = cls
	}
	assert.Equal(t, KindUnknown, last.Kind)
}

func TestClassifier_PrefixFieldNamesResolve(t *testing.T) {
	c := NewClassifier([]string{"analysis", "analysis_extra"})
	got := feedAll(c, "<analysis_extra>longer</analysis_extra>")
	assert.Equal(t, "longer", strings.TrimSpace(got["analysis_extra"]))
	assert.Empty(t, got["analysis"])

	c = NewClassifier([]string{"analysis", "analysis_extra"})
	got = feedAll(c, "<analysis>shorter</analysis>")
	assert.Equal(t, "shorter", strings.TrimSpace(got["analysis"]))
	assert.Empty(t, got["analysis_extra"])
}

func TestClassifier_SuppressesInterFieldText(t *testing.T) {
	c := NewClassifier([]string{"task_item"})

	got := feedAll(c, "Here is the plan:\n<task_item>first</task_item>\nand then\n<task_item>second</task_item>")

	// Text outside delimiters never reaches a field.
	assert.Equal(t, "firstsecond", strings.TrimSpace(got["task_item"]))
}

func TestClassifier_FlushAttributesHeldToLastField(t *testing.T) {
	c := NewClassifier([]string{"analysis"})
	feedAll(c, "<analysis>held</anal")

	field, held := c.Flush()

	assert.Equal(t, "analysis", field)
	assert.Equal(t, "</anal", held)

	// Flush drains the buffer.
	_, held = c.Flush()
	assert.Empty(t, held)
}

func TestClassifier_FlushWithoutOpenField(t *testing.T) {
	c := NewClassifier([]string{"analysis"})
	feedAll(c, "<anal")

	field, held := c.Flush()

	assert.Empty(t, field)
	assert.NotEmpty(t, held)
}

func TestClassifier_TextAccumulatesEverything(t *testing.T) {
	c := NewClassifier([]string{"analysis"})
	text := "<analysis>abc</analysis>"
	feedAll(c, text)

	assert.Equal(t, text, c.Text())
}

func TestClassifier_EmitIncludesHeldPrefix(t *testing.T) {
	c := NewClassifier([]string{"analysis"})
	for _, r := range "<analysis>a" {
		c.Feed(r)
	}

	// '<' is held as a possible closing delimiter, then released together
	// with the resolving character.
	cls, emit := c.Feed('<')
	assert.Equal(t, KindUnknown, cls.Kind)
	assert.Empty(t, emit)

	cls, emit = c.Feed('b')
	assert.Equal(t, KindField, cls.Kind)
	assert.Equal(t, "analysis", cls.Field)
	assert.Equal(t, "<b", emit)
}
