package transcript

import "encoding/json"

// Trim drops messages from the front until the serialized transcript
// fits within maxBytes. User messages and final answers are skipped
// rather than dropped, so a transcript of only protected messages may
// stay over budget. The input slice is not modified.
func Trim(msgs []Message, maxBytes int) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)

	start := 0
	for serializedSize(out) > maxBytes && start < len(out) {
		if out[start].Role == RoleUser || out[start].Type == TypeFinalAnswer {
			start++
			continue
		}
		out = append(out[:start], out[start+1:]...)
	}
	return out
}

func serializedSize(msgs []Message) int {
	b, err := json.Marshal(msgs)
	if err != nil {
		return 0
	}
	return len(b)
}
