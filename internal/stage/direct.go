package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const directSystemPrompt = `You are an intelligent assistant. Help the user according to their needs, answering their questions or fulfilling their requests.
Your working directory is: %s
The current time is: %s
Your session id is: %s

Observe the following execution rules:
1. If no tool is needed, answer directly.
2. For long-form output such as plans, proposals, or content drafts, use the file_write tool and save the content to a file; the file content is the function argument, formatted as markdown.
3. To write code, use the file_write tool; the code is the function argument.
4. For reports or summaries, use the file_write tool; the report content is the function argument, formatted as markdown.
5. Read and write files only inside the working directory. If the user gave no file path, create a new file in the working directory.
6. When you consider the task complete, output nothing more and return an empty string.
7. Run tool calls first, then plain text output.
8. In the end give the user the most complete, highest-confidence answer you can. The point is to help, to answer the question or fulfill the request, not to refuse when difficulties come up.
`

const suggestPrompt = `You are an intelligent assistant. Help the user according to their needs, answering their questions or fulfilling their requests.
Your session id is: %s
Based on the conversation history and the user's request, list every tool that could possibly be used to resolve the request.

## Available Tools
%s

## Conversation history and new request
%s

Output format:
` + "```json" + `
[
    "tool_name_1",
    "tool_name_2",
    ...
]
` + "```" + `
Notes:
1. Tool names must come from the available tools.
2. Return every tool that could possibly be needed and leave out tools that cannot be.
3. Return at most 7 possible tools.
`

// completeTaskName is the sentinel capability whose invocation ends a
// direct run without producing a message.
const completeTaskName = "complete_task"

// directMaxRounds bounds the direct executor's call loop independently
// of the orchestrator's outer loop limit.
const directMaxRounds = 10

var fencedJSON = regexp.MustCompile("```(?:json)?\n([\\s\\S]*?)\n```")

// Direct is the flat executor used when deep research is off: no
// decomposition, no planning, just a model-and-tools loop over the
// conversation until the model stops producing work.
type Direct struct {
	env Env
}

// NewDirect returns the direct execution stage.
func NewDirect(env Env) *Direct {
	return &Direct{env: env}
}

func (s *Direct) Name() string { return "direct" }

func (s *Direct) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	working := make([]transcript.Message, 0, len(req.Messages)+1)
	working = append(working, s.directSystem(req))
	working = append(working, req.Messages...)

	tools := s.tools(ctx, working, req.SessionID)

	var round []transcript.Message
	for i := 0; i < directMaxRounds; i++ {
		working = transcript.Merge(working, round)
		round = nil

		msg := transcript.New(transcript.RoleAssistant, transcript.TypeSubtaskResult)
		acc := model.NewAccumulator()

		var emitErr error
		_, err := s.env.Model.Complete(ctx, model.Request{
			Messages: transcript.Clean(working),
			Tools:    tools,
		}, func(d model.Delta) error {
			for _, tc := range d.ToolCalls {
				acc.Add(tc)
			}
			if d.Content == "" || len(d.ToolCalls) > 0 {
				return nil
			}
			if acc.Len() > 0 {
				return nil
			}
			chunk := msg
			chunk.Content = d.Content
			chunk.ShowContent = d.Content
			round = append(round, chunk)
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
			s.env.logger().Error(ctx, "direct completion failed", zap.Error(err))
			return emitOne(emit, errorMessage("Task execution", err, transcript.TypeSubtaskResult))
		}

		calls := acc.Calls()
		if len(calls) > 0 {
			for _, call := range calls {
				if call.Function.Name == completeTaskName {
					s.env.logger().Info(ctx, "direct run complete", zap.Int("rounds", i+1))
					return nil
				}
				if err := s.env.dispatchCall(ctx, call, working, req.SessionID, emit, &round); err != nil {
					return err
				}
			}
		} else if len(round) > 0 {
			tail := msg
			tail.ShowContent = "\n"
			round = append(round, tail)
			if err := emitOne(emit, tail); err != nil {
				return err
			}
		}

		if roundExhausted(round) {
			s.env.logger().Info(ctx, "direct run settled", zap.Int("rounds", i+1))
			return nil
		}
	}
	s.env.logger().Warn(ctx, "direct run hit round limit", zap.Int("rounds", directMaxRounds))
	return nil
}

// directSystem builds the direct executor's system message. Unlike the
// staged pipeline it owns its whole prompt, so a configured prefix
// replaces it outright.
func (s *Direct) directSystem(req Request) transcript.Message {
	content := s.env.SystemPrefix
	if content == "" {
		content = fmt.Sprintf(directSystemPrompt,
			req.Workspace, now().Format(timeFormat), req.SessionID)
	}
	return transcript.Message{Role: transcript.RoleSystem, Content: content}
}

// tools picks what the model may call this run. With suggestion off
// everything registered is offered. With it on, a pre-pass asks the
// model which tools the request could need; an unusable answer still
// offers the completion sentinel, while a failed pre-pass call offers
// nothing at all.
func (s *Direct) tools(ctx context.Context, working []transcript.Message, sessionID string) []model.Tool {
	reg := s.env.Dispatcher.Registry()
	if !s.env.MoreSuggest {
		return schemaTools(reg.List())
	}

	suggested := s.suggest(ctx, working, sessionID)
	if len(suggested) == 0 {
		return nil
	}
	descs := reg.Subset(suggested)
	if len(descs) == 0 {
		descs = reg.List()
	}
	return schemaTools(descs)
}

func (s *Direct) suggest(ctx context.Context, working []transcript.Message, sessionID string) []string {
	cleaned, err := json.MarshalIndent(transcript.Clean(working), "", "  ")
	if err != nil {
		return nil
	}
	prompt := fmt.Sprintf(suggestPrompt, sessionID, s.env.toolListing(), cleaned)

	res, err := s.env.Model.Complete(ctx, model.Request{
		Messages: []transcript.Message{{Role: transcript.RoleUser, Content: prompt}},
	}, nil)
	if err != nil {
		s.env.logger().Warn(ctx, "tool suggestion call failed", zap.Error(err))
		return nil
	}

	var names []string
	if err := json.Unmarshal([]byte(extractJSONBlock(res.Content)), &names); err != nil {
		s.env.logger().Warn(ctx, "tool suggestion unparseable",
			zap.String("content", res.Content), zap.Error(err))
		names = nil
	}
	return append(names, completeTaskName)
}

// roundExhausted reports whether a round produced nothing that moves
// the run forward: no fragments at all, or only fragments with neither
// tool calls nor content.
func roundExhausted(round []transcript.Message) bool {
	for _, m := range round {
		if len(m.ToolCalls) > 0 || m.Content != "" {
			return false
		}
	}
	return true
}

// extractJSONBlock returns content when it already parses as JSON,
// otherwise the first fenced code block that does.
func extractJSONBlock(content string) string {
	if json.Valid([]byte(strings.TrimSpace(content))) {
		return strings.TrimSpace(content)
	}
	for _, m := range fencedJSON.FindAllStringSubmatch(content, -1) {
		if json.Valid([]byte(m[1])) {
			return m[1]
		}
	}
	return content
}
