// Package transcript defines the shared message log that orchestration
// stages read and append to. Messages are identified by id; fragments of
// the same logical message carry the same id and are folded together by
// Merge. The package also provides the filtered views stages consume
// (task description, completed actions) and the byte-budget trim applied
// before each run.
package transcript

import "github.com/google/uuid"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Type tags a message with the stage that produced it. Later stages use
// the tag to filter the transcript.
type Type string

const (
	// TypeNormal marks plain user and assistant conversation turns.
	TypeNormal Type = "normal"
	// TypeTaskAnalysis marks output of the analyze stage.
	TypeTaskAnalysis Type = "task_analysis_result"
	// TypeTaskDecomposition marks the decompose stage's task list.
	TypeTaskDecomposition Type = "task_decomposition"
	// TypePlanning marks the plan stage's structured next step.
	TypePlanning Type = "planning_result"
	// TypeDoSubtask marks the execute stage's internal work order.
	TypeDoSubtask Type = "do_subtask"
	// TypeSubtaskResult marks execute stage output.
	TypeSubtaskResult Type = "do_subtask_result"
	// TypeToolCall marks an assistant message that requests a tool call.
	TypeToolCall Type = "tool_call"
	// TypeToolCallResult marks a tool's response message.
	TypeToolCallResult Type = "tool_call_result"
	// TypeObservation marks the observe stage's structured verdict.
	TypeObservation Type = "observation_result"
	// TypeFinalAnswer marks the user-facing answer. Final answers survive
	// transcript trimming.
	TypeFinalAnswer Type = "final_answer"
)

// FunctionCall is the name/arguments pair inside a tool call. Arguments
// is the raw JSON string accumulated from streaming deltas; it is parsed
// only at dispatch time.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is the atomic transcript unit. Content is the machine-readable
// text; ShowContent is the incremental human-readable rendering and may
// differ from Content entirely. Both are extended by concatenation when
// fragments merge.
type Message struct {
	ID          string     `json:"message_id,omitempty"`
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	ShowContent string     `json:"show_content,omitempty"`
	Type        Type       `json:"type,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
}

// New returns an empty message with a fresh id.
func New(role Role, typ Type) Message {
	return Message{ID: uuid.NewString(), Role: role, Type: typ}
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}
