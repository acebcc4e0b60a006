package transcript

import (
	"encoding/json"
	"strings"
)

// Clean reduces messages to the shape the completion API accepts: tool
// call requests keep only role and tool_calls, tool responses keep their
// correlation id, everything else is role plus content.
func Clean(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case len(m.ToolCalls) > 0:
			out = append(out, Message{Role: m.Role, ToolCalls: m.ToolCalls})
		case m.ToolCallID != "":
			out = append(out, Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
		default:
			out = append(out, Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

// PromptString renders messages in the User/Assistant/Tool form embedded
// in stage prompts. Returns "None" for an empty list so prompts never
// interpolate a blank section.
func PromptString(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			lines = append(lines, "User: "+m.Content)
		case RoleAssistant:
			if m.Content == "" && len(m.ToolCalls) > 0 {
				b, _ := json.Marshal(m.ToolCalls)
				lines = append(lines, "Assistant: Tool calls: "+string(b))
				continue
			}
			lines = append(lines, "Assistant: "+m.Content)
		case RoleTool:
			lines = append(lines, "Tool: "+m.Content)
		}
	}
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}
