package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const executeSystemPrefix = `You are a task execution assistant. Execute the task according to its description.`

const executePrompt = `Do the following subtask:%s.
the expected output is:%s

Observe the following task execution rules:
1. If no tool is needed, answer directly. All text output must be markdown.
2. For long-form output such as plans, proposals, content drafts, or code, use the file_write tool and save the content to a file across multiple calls; the file content is the function argument, formatted as markdown.
3. To write code, use the file_write tool; the code is the function argument.
4. For reports or summaries, use the file_write tool; the report content is the function argument, formatted as markdown.
5. Read and write files only inside the working directory. If the user gave no file path, create a new file in that directory.
6. When calling a tool, produce no other text output. Execute only one task at a time.
7. Never reveal your working directory, ids, or tool names in output text.
8. When creating a file with file_write, create it inside the working directory and use an absolute path.
`

// Execute carries out the step the plan stage published: it reads the
// last planning message, offers the model the step's capabilities, and
// either streams a textual result or dispatches the requested tool
// calls.
type Execute struct {
	env Env
}

// NewExecute returns the execute stage.
func NewExecute(env Env) *Execute {
	return &Execute{env: env}
}

func (s *Execute) Name() string { return "execute" }

func (s *Execute) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	step, err := lastPlanStep(req.Messages)
	if err != nil {
		s.env.logger().Error(ctx, "no executable plan", zap.Error(err))
		return emitOne(emit, errorMessage("Task execution", err, transcript.TypeSubtaskResult))
	}

	request := transcript.New(transcript.RoleAssistant, transcript.TypeDoSubtask)
	request.Content = fmt.Sprintf(executePrompt, step.Description, step.ExpectedOutput)
	if err := emitOne(emit, request); err != nil {
		return err
	}

	execMsgs := make([]transcript.Message, 0, len(req.Messages)+2)
	execMsgs = append(execMsgs, s.env.systemMessage(executeSystemPrefix, req))
	execMsgs = append(execMsgs, req.Messages...)
	execMsgs = append(execMsgs, request)

	acc := model.NewAccumulator()
	msg := transcript.New(transcript.RoleAssistant, transcript.TypeSubtaskResult)

	var emitErr error
	_, err = s.env.Model.Complete(ctx, model.Request{
		Messages: transcript.Clean(execMsgs),
		Tools:    s.tools(step),
	}, func(d model.Delta) error {
		for _, tc := range d.ToolCalls {
			acc.Add(tc)
		}
		if d.Content == "" || len(d.ToolCalls) > 0 {
			return nil
		}
		// Once a tool call opens, remaining text is noise.
		if acc.Len() > 0 {
			return nil
		}
		chunk := msg
		chunk.Content = d.Content
		chunk.ShowContent = d.Content
		if err := emitOne(emit, chunk); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		s.env.logger().Error(ctx, "subtask completion failed", zap.Error(err))
		return emitOne(emit, errorMessage("Task execution", err, transcript.TypeSubtaskResult))
	}

	calls := acc.Calls()
	if len(calls) == 0 {
		tail := msg
		tail.ShowContent = "\n"
		return emitOne(emit, tail)
	}

	s.env.logger().Info(ctx, "dispatching tool calls", zap.Int("calls", len(calls)))
	for _, call := range calls {
		if err := s.env.dispatchCall(ctx, call, execMsgs, req.SessionID, emit, nil); err != nil {
			return err
		}
	}
	return nil
}

// tools resolves the step's requested capabilities to tool schemas. An
// empty resolution falls back to everything registered; a plan naming
// only unknown tools should not leave the model empty-handed.
func (s *Execute) tools(step planStep) []model.Tool {
	reg := s.env.Dispatcher.Registry()
	descs := reg.Subset(step.RequiredTools)
	if len(descs) == 0 {
		descs = reg.List()
	}
	return schemaTools(descs)
}

// dispatchCall announces one tool call, invokes it, and emits the
// rendered outcome. When record is non-nil emitted messages are also
// appended to it, which the direct executor uses to fold results back
// into its next round. Argument-parse failures are emitted but never
// recorded; only emit errors are returned.
func (e Env) dispatchCall(ctx context.Context, call transcript.ToolCall, msgs []transcript.Message, sessionID string, emit stream.EmitFunc, record *[]transcript.Message) error {
	name := call.Function.Name

	if c, ok := e.Dispatcher.Registry().Get(name); ok && c.Kind == capability.KindNested {
		handoff := transcript.New(transcript.RoleAssistant, transcript.TypeToolCall)
		handoff.Content = fmt.Sprintf("This task was handed to %s for execution", name)
		handoff.ShowContent = handoff.Content
		if record != nil {
			*record = append(*record, handoff)
		}
		if err := emitOne(emit, handoff); err != nil {
			return err
		}
	} else {
		announce := transcript.New(transcript.RoleAssistant, transcript.TypeToolCall)
		announce.ToolCalls = []transcript.ToolCall{call}
		announce.ShowContent = fmt.Sprintf("Calling tool: %s\n\n", name)
		if record != nil {
			*record = append(*record, announce)
		}
		if err := emitOne(emit, announce); err != nil {
			return err
		}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		e.logger().Error(ctx, "tool arguments unparseable",
			zap.String("tool", name), zap.Error(err))
		fail := transcript.New(transcript.RoleTool, transcript.TypeToolCallResult)
		fail.Content = fmt.Sprintf("Tool %s execution failed: %v", name, err)
		fail.ToolCallID = call.ID
		fail.ShowContent = "Tool call failed\n\n"
		return emitOne(emit, fail)
	}

	env := e.Dispatcher.Invoke(ctx, name, args, msgs, sessionID)
	rendered := renderEnvelope(env, call.ID)
	if record != nil {
		*record = append(*record, rendered...)
	}
	return emit(rendered)
}

// renderEnvelope converts a capability envelope into transcript
// messages. Content results become a tool message with a fenced JSON
// display, nested-run output passes through verbatim, and errors render
// plain.
func renderEnvelope(env *capability.Envelope, callID string) []transcript.Message {
	if env.Messages != nil {
		return env.Messages
	}

	m := transcript.New(transcript.RoleTool, transcript.TypeToolCallResult)
	m.Content = env.JSON()
	m.ToolCallID = callID
	if env.IsError() {
		m.ShowContent = "\n" + env.JSON() + "\n"
		return []transcript.Message{m}
	}
	quoted, err := json.Marshal(env.Content)
	if err != nil {
		quoted = []byte(`""`)
	}
	m.ShowContent = "\n```json\n" + string(quoted) + "\n```\n"
	return []transcript.Message{m}
}

func lastPlanStep(msgs []transcript.Message) (planStep, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != transcript.RoleAssistant || m.Type != transcript.TypePlanning {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(m.Content, planHeader))
		var env planEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return planStep{}, fmt.Errorf("planning message unparseable: %w", err)
		}
		return env.NextStep, nil
	}
	return planStep{}, fmt.Errorf("no planning message in transcript")
}
