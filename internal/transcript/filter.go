package transcript

// LastUserIndex returns the index of the last user-role message, or -1
// when the transcript contains none.
func LastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// TaskDescription returns the conversation up to and including the last
// user message, keeping only normal and final-answer messages. Stage
// output between user turns is filtered out so prompts see the bare
// request/answer history. Without a user message the result is empty.
func TaskDescription(msgs []Message) []Message {
	p := LastUserIndex(msgs)
	if p < 0 {
		return nil
	}
	out := make([]Message, 0, p+1)
	for _, m := range msgs[:p+1] {
		if m.Type == TypeNormal || m.Type == TypeFinalAnswer {
			out = append(out, m)
		}
	}
	return out
}

// CompletedActions returns every message strictly after the last user
// message, excluding the decompose stage's task list. This is the
// work-so-far view the plan and observe stages reason over. Without a
// user message the result is empty.
func CompletedActions(msgs []Message) []Message {
	p := LastUserIndex(msgs)
	if p < 0 {
		return nil
	}
	out := make([]Message, 0, len(msgs)-p-1)
	for _, m := range msgs[p+1:] {
		if m.Type == TypeTaskDecomposition {
			continue
		}
		out = append(out, m)
	}
	return out
}
