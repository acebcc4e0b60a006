package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/tagstream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const decomposeSystemPrefix = `You are a task decomposer. Based on the user's request, break the complex task into clear, executable subtasks.`

const decomposePrompt = `# Task Decomposition Guide

## User Request
%s

## Decomposition Rules
1. Break the complex request into clear, executable subtasks
2. Make every subtask atomic
3. Account for dependencies between tasks; the output list must be ordered, highest priority first, and tasks of equal priority ordered by dependency
4. Follow the output format below exactly
5. If a thinking pass exists for the task, the subtasks must be consistent with its reasoning
6. Do not exceed 10 subtasks; merge simpler subtasks into one

## Output Format
` + "```" + `
<task_item>
Description of subtask 1
</task_item>
<task_item>
Description of subtask 2
</task_item>
` + "```" + `
`

// decompositionHeader prefixes the machine-readable task list in the
// final decomposition message.
const decompositionHeader = "Task decomposition plan:\n"

// ParseDecomposition reads the subtask descriptions back out of a
// decomposition message's content. ok is false for any message that
// does not carry a plan. The streamed display characters preceding the
// plan header are ignored.
func ParseDecomposition(content string) ([]string, bool) {
	i := strings.Index(content, decompositionHeader)
	if i < 0 {
		return nil, false
	}
	var payload struct {
		Tasks []struct {
			Description string `json:"description"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(content[i+len(decompositionHeader):]), &payload); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(payload.Tasks))
	for _, t := range payload.Tasks {
		out = append(out, t.Description)
	}
	return out, true
}

// Decompose turns the conversation's request into an ordered subtask
// list. Items stream to the display as they are produced; the final
// fragment appends the parsed list as JSON under the same message id.
type Decompose struct {
	env Env
}

// NewDecompose returns the decompose stage.
func NewDecompose(env Env) *Decompose {
	return &Decompose{env: env}
}

func (s *Decompose) Name() string { return "decompose" }

func (s *Decompose) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	taskDescription := transcript.PromptString(transcript.TaskDescription(req.Messages))
	msgs := []transcript.Message{
		s.env.systemMessage(decomposeSystemPrefix, req),
		{Role: transcript.RoleUser, Content: fmt.Sprintf(decomposePrompt, taskDescription)},
	}

	msg := transcript.New(transcript.RoleAssistant, transcript.TypeTaskDecomposition)
	clf := tagstream.NewClassifier([]string{"task_item"})
	last := "tag"

	var emitErr error
	_, err := s.env.Model.Complete(ctx, model.Request{Messages: msgs}, func(d model.Delta) error {
		for _, ch := range d.Content {
			cls, out := clf.Feed(ch)
			switch cls.Kind {
			case tagstream.KindUnknown:
				continue
			case tagstream.KindTag:
				last = "tag"
			case tagstream.KindField:
				// An item boundary opens a new display bullet.
				if last != cls.Field {
					head := msg
					head.Content = string(ch)
					head.ShowContent = "\n- "
					if err := emitOne(emit, head); err != nil {
						emitErr = err
						return err
					}
				}
				chunk := msg
				chunk.Content = string(ch)
				chunk.ShowContent = out
				if err := emitOne(emit, chunk); err != nil {
					emitErr = err
					return err
				}
				last = cls.Field
			}
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		s.env.logger().Error(ctx, "task decomposition completion failed", zap.Error(err))
		return emitOne(emit, errorMessage("Task decomposition", err, transcript.TypeTaskDecomposition))
	}

	type item struct {
		Description string `json:"description"`
	}
	items := tagstream.ExtractAll(clf.Text(), "task_item")
	tasks := make([]item, 0, len(items))
	for _, it := range items {
		tasks = append(tasks, item{Description: it})
	}
	payload, err := json.Marshal(struct {
		Tasks []item `json:"tasks"`
	}{tasks})
	if err != nil {
		s.env.logger().Error(ctx, "task decomposition encode failed", zap.Error(err))
		return emitOne(emit, errorMessage("Task decomposition", err, transcript.TypeTaskDecomposition))
	}
	s.env.logger().Info(ctx, "task decomposed", zap.Int("subtasks", len(items)))

	final := msg
	final.Content = decompositionHeader + string(payload)
	return emitOne(emit, final)
}
