package tagstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Extract returns the text between the first <field> and the following
// </field>, trimmed. ok is false only when the opening delimiter is
// missing; with an open but no close, the value runs to the next repeated
// opening delimiter or the end of text.
func Extract(text, field string) (value string, ok bool) {
	open := "<" + field + ">"
	_, after, found := strings.Cut(text, open)
	if !found {
		return "", false
	}
	if i := strings.Index(after, open); i >= 0 {
		after = after[:i]
	}
	value, _, _ = strings.Cut(after, "</"+field+">")
	return strings.TrimSpace(value), true
}

// ExtractAll returns every <field>...</field> value in order, trimmed.
func ExtractAll(text, field string) []string {
	re := regexp.MustCompile(`(?s)` + regexp.QuoteMeta("<"+field+">") + `(.*?)` + regexp.QuoteMeta("</"+field+">"))
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// ParseList interprets a field value as a list of strings. Strict JSON
// arrays are tried first, then a relaxed bracket form with single or
// unquoted elements, and anything else becomes a single-element list of
// the raw value. Generated text frequently writes lists in non-JSON
// notation, so the relaxed form is not optional; arbitrary expression
// evaluation is.
func ParseList(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	var strs []string
	if err := json.Unmarshal([]byte(s), &strs); err == nil {
		return strs
	}
	var vals []any
	if err := json.Unmarshal([]byte(s), &vals); err == nil {
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			out = append(out, stringify(v))
		}
		return out
	}
	if out, ok := parseBracketList(s); ok {
		return out
	}
	return []string{raw}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func parseBracketList(s string) ([]string, bool) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, false
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return []string{}, true
	}
	out := make([]string, 0, 4)
	for _, part := range splitQuoteAware(inner) {
		out = append(out, unquote(strings.TrimSpace(part)))
	}
	return out, true
}

// splitQuoteAware splits on commas that are outside single or double
// quoted runs.
func splitQuoteAware(s string) []string {
	var parts []string
	var quote rune
	start := 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ',':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
