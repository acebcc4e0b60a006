// Package tagstream classifies streaming completion text into named
// fields delimited by <name>...</name> tags. The classifier works one
// character at a time and never sees the complete text up front: it
// decides per character whether the stream is inside a delimiter, inside
// a field, or in an ambiguous prefix that must be held back until more
// characters arrive. A separate extractor pulls exact field values from
// the fully accumulated text once the stream ends.
package tagstream

import "strings"

// Kind is the classification of a streamed character.
type Kind int

const (
	// KindTag marks characters that belong to a delimiter or the gaps
	// between fields. They are suppressed from display.
	KindTag Kind = iota
	// KindUnknown marks an ambiguous suffix that could still grow into a
	// delimiter. The classifier holds these characters back.
	KindUnknown
	// KindField marks ordinary content of the most recently opened field.
	KindField
)

// Class pairs a Kind with the field name when Kind is KindField.
type Class struct {
	Kind  Kind
	Field string
}

// Classifier is the per-stream state machine. Instantiate one per
// completion stream; it is not safe for concurrent use.
type Classifier struct {
	delims  []string
	fieldOf map[string]string
	isEnd   map[string]bool

	// endPrefixes holds every prefix of every closing delimiter, used to
	// detect a partially streamed close mid-field.
	endPrefixes []string

	all       strings.Builder
	pending   string
	lastField string
}

// NewClassifier returns a classifier for the given field vocabulary.
func NewClassifier(fields []string) *Classifier {
	c := &Classifier{
		fieldOf: make(map[string]string, len(fields)*2),
		isEnd:   make(map[string]bool, len(fields)),
	}
	for _, f := range fields {
		open := "<" + f + ">"
		c.delims = append(c.delims, open)
		c.fieldOf[open] = f
	}
	for _, f := range fields {
		close := "</" + f + ">"
		c.delims = append(c.delims, close)
		c.isEnd[close] = true
		for i := 1; i <= len(close); i++ {
			c.endPrefixes = append(c.endPrefixes, close[:i])
		}
	}
	return c
}

// Feed classifies one character. The returned emit string is the held
// pending buffer plus ch; for KindField it is the display fragment the
// consumer should show, for KindTag it has been consumed as delimiter
// syntax, and for KindUnknown it is empty because the characters remain
// held.
func (c *Classifier) Feed(ch rune) (Class, string) {
	chunk := c.pending + string(ch)
	probe := strings.TrimSpace(c.all.String() + chunk)
	cls := c.classify(probe)
	c.all.WriteRune(ch)

	if cls.Kind == KindUnknown {
		c.pending = chunk
		return cls, ""
	}
	c.pending = ""
	if cls.Kind == KindField {
		c.lastField = cls.Field
	}
	return cls, chunk
}

// Flush returns any characters still held when the stream ends,
// attributed to the most recently open field. The field name is empty
// when no field ever opened.
func (c *Classifier) Flush() (field, held string) {
	field, held = c.lastField, c.pending
	c.pending = ""
	return field, held
}

// Text returns the full accumulated stream, delimiters included.
func (c *Classifier) Text() string {
	return c.all.String()
}

func (c *Classifier) classify(probe string) Class {
	// A line that is a strict prefix of some delimiter may still grow
	// into one; hold it.
	line := probe
	if i := strings.LastIndexByte(probe, '\n'); i >= 0 {
		line = probe[i+1:]
	}
	if line != "" && c.isDelimiterPrefix(line) {
		return Class{Kind: KindUnknown}
	}

	// The most recently seen complete delimiter decides the state.
	lastTag := ""
	lastIdx := -1
	for _, tag := range c.delims {
		if i := strings.LastIndex(probe, tag); i > lastIdx {
			lastIdx = i
			lastTag = tag
		}
	}
	if lastIdx < 0 {
		return Class{Kind: KindTag}
	}
	if c.isEnd[lastTag] {
		return Class{Kind: KindTag}
	}

	// Cursor still sitting on the opening delimiter itself.
	if lastIdx+len(lastTag) == len(probe) {
		c.lastField = c.fieldOf[lastTag]
		return Class{Kind: KindTag}
	}

	// Inside an open field a partial closing delimiter is ambiguous.
	for _, p := range c.endPrefixes {
		if strings.HasSuffix(probe, p) {
			return Class{Kind: KindUnknown}
		}
	}
	return Class{Kind: KindField, Field: c.fieldOf[lastTag]}
}

func (c *Classifier) isDelimiterPrefix(line string) bool {
	for _, d := range c.delims {
		if len(line) < len(d) && strings.HasPrefix(d, line) {
			return true
		}
	}
	return false
}
