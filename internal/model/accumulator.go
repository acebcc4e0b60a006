package model

import "github.com/fyrsmithlabs/agentd/internal/transcript"

// Accumulator assembles streamed tool-call fragments into complete
// calls. Fragments are slotted by Index; the first fragment for an
// index opens a call, later fragments append argument JSON to it.
// ID and Name stick once set.
type Accumulator struct {
	calls []transcript.ToolCall
	slots map[int]int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{slots: make(map[int]int)}
}

// Add folds one fragment into the call list.
func (a *Accumulator) Add(d ToolCallDelta) {
	pos, ok := a.slots[d.Index]
	if !ok {
		pos = len(a.calls)
		a.slots[d.Index] = pos
		a.calls = append(a.calls, transcript.ToolCall{Type: "function"})
	}
	tc := &a.calls[pos]
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Name != "" {
		tc.Function.Name = d.Name
	}
	tc.Function.Arguments += d.Arguments
}

// Len reports the number of calls opened so far.
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Calls returns the assembled calls in arrival order, or nil when no
// fragment has been added.
func (a *Accumulator) Calls() []transcript.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]transcript.ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}
