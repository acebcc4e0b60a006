package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const summarizeSystemPrefix = `You are a task summarizer. Based on the original task and the execution history, produce a clear and complete answer.`

const summarizePrompt = `Based on the following task and execution history, provide a clear and complete answer in natural language.
You may organize the content with markdown.

Task:
%s

Execution history:
%s

Your answer should:
1. Answer the original task directly.
2. Use clear, detailed language while keeping the answer complete and accurate, preserving the key results from the execution.
3. If the execution saved files and uploaded them, include the file references in the answer so the user can reach them.
4. Never reference files that do not appear in the execution history.
5. Render charts directly in markdown.
6. Not summarize the execution process; use its information to produce the definitive answer to the user's task.
`

// Summarize condenses the run into the user-facing final answer.
type Summarize struct {
	env Env
}

// NewSummarize returns the summarize stage.
func NewSummarize(env Env) *Summarize {
	return &Summarize{env: env}
}

func (s *Summarize) Name() string { return "summarize" }

func (s *Summarize) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	taskDescription := transcript.PromptString(transcript.TaskDescription(req.Messages))
	completed := transcript.PromptString(transcript.CompletedActions(req.Messages))
	msgs := []transcript.Message{
		s.env.systemMessage(summarizeSystemPrefix, req),
		{Role: transcript.RoleUser, Content: fmt.Sprintf(summarizePrompt, taskDescription, completed)},
	}

	msg := transcript.New(transcript.RoleAssistant, transcript.TypeFinalAnswer)

	var emitErr error
	_, err := s.env.Model.Complete(ctx, model.Request{Messages: msgs}, func(d model.Delta) error {
		if d.Content == "" {
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
		s.env.logger().Error(ctx, "summary completion failed", zap.Error(err))
		return emitOne(emit, errorMessage("Task summary", err, transcript.TypeFinalAnswer))
	}

	tail := msg
	tail.ShowContent = "\n"
	return emitOne(emit, tail)
}
