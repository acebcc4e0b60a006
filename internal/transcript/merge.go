package transcript

import "github.com/google/uuid"

// Merge folds fragments into base by message id and returns the combined
// list. A fragment whose id matches an existing message extends that
// message's Content and ShowContent by concatenation; every other field
// keeps its first-seen value. Unmatched fragments are appended, so order
// is the insertion order of first-seen ids. Messages without an id are
// assigned one, which means merging is by identity, never by value.
func Merge(base, fragments []Message) []Message {
	merged := make([]Message, 0, len(base)+len(fragments))
	index := make(map[string]int, len(base)+len(fragments))

	for _, msg := range base {
		m := msg.Clone()
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	for _, msg := range fragments {
		m := msg.Clone()
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if i, ok := index[m.ID]; ok {
			merged[i].Content += m.Content
			merged[i].ShowContent += m.ShowContent
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	return merged
}

// MergeChunks collapses a chunk stream into whole messages, concatenating
// chunks that share an id. Chunks without an id pass through as-is and
// never absorb later chunks.
func MergeChunks(chunks []Message) []Message {
	if len(chunks) == 0 {
		return nil
	}

	out := make([]Message, 0, len(chunks))
	index := make(map[string]int, len(chunks))

	for _, c := range chunks {
		if c.ID == "" {
			out = append(out, c.Clone())
			continue
		}
		if i, ok := index[c.ID]; ok {
			out[i].Content += c.Content
			out[i].ShowContent += c.ShowContent
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c.Clone())
	}

	return out
}
