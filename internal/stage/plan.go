package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/tagstream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const planSystemPrefix = `You are a task execution planner. Based on the current task and the completed actions, produce the next action to execute.`

const planPrompt = `# Task Planning Guide

## Current Task
%s

## Completed Actions
%s

## Available Tools
%s

## Planning Rules
1. Reduce the complex task to the one clear subtask to execute next
2. Make the subtask executable and measurable
3. Account for dependencies between subtasks
4. Prefer existing tools
5. Set explicit success criteria
6. Output only XML in the format below and nothing else, never output ` + "```" + `; every <tag> delimiter must sit on its own line
7. Do not include real tool names in the description
8. required_tools lists at least 5 and at most 10 names of tools that may be needed.

## Output Format
` + "```" + `
<next_step_description>
A clear one-paragraph description of the subtask, without line breaks
</next_step_description>
<required_tools>
["tool1_name","tool2_name"]
</required_tools>
<expected_output>
A one-paragraph description of the expected result, without line breaks
</expected_output>
<success_criteria>
One paragraph on how completion is verified, without line breaks
</success_criteria>
` + "```" + `
`

// planHeader prefixes the machine-readable step in the final planning
// message. The execute stage strips it before parsing.
const planHeader = "Planning: "

var planFields = []string{"next_step_description", "required_tools", "expected_output", "success_criteria"}

// planStep is the structured next step the plan stage publishes and the
// execute stage consumes.
type planStep struct {
	Description     string   `json:"description"`
	RequiredTools   []string `json:"required_tools"`
	ExpectedOutput  string   `json:"expected_output"`
	SuccessCriteria string   `json:"success_criteria"`
}

type planEnvelope struct {
	NextStep planStep `json:"next_step"`
}

// Plan decides the next subtask from the work done so far. Only the
// description and expected output stream to the display; the final
// fragment carries the full step as JSON with an empty display text.
type Plan struct {
	env Env
}

// NewPlan returns the plan stage.
func NewPlan(env Env) *Plan {
	return &Plan{env: env}
}

func (s *Plan) Name() string { return "plan" }

func (s *Plan) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	taskDescription := transcript.PromptString(transcript.TaskDescription(req.Messages))
	completed := transcript.PromptString(transcript.CompletedActions(req.Messages))
	msgs := []transcript.Message{
		s.env.systemMessage(planSystemPrefix, req),
		{Role: transcript.RoleUser, Content: fmt.Sprintf(planPrompt, taskDescription, completed, s.env.toolListing())},
	}

	msg := transcript.New(transcript.RoleAssistant, transcript.TypePlanning)
	clf := tagstream.NewClassifier(planFields)
	last := "tag"

	var emitErr error
	_, err := s.env.Model.Complete(ctx, model.Request{Messages: msgs}, func(d model.Delta) error {
		for _, ch := range d.Content {
			cls, out := clf.Feed(ch)
			if cls.Kind == tagstream.KindUnknown {
				continue
			}
			if cls.Kind == tagstream.KindField &&
				(cls.Field == "next_step_description" || cls.Field == "expected_output") {
				if cls.Field != last {
					sep := msg
					sep.ShowContent = "\n\n"
					if err := emitOne(emit, sep); err != nil {
						emitErr = err
						return err
					}
				}
				chunk := msg
				chunk.ShowContent = out
				if err := emitOne(emit, chunk); err != nil {
					emitErr = err
					return err
				}
			}
			if cls.Kind == tagstream.KindTag {
				last = "tag"
			} else {
				last = cls.Field
			}
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		s.env.logger().Error(ctx, "planning completion failed", zap.Error(err))
		return emitOne(emit, errorMessage("Task planning", err, transcript.TypePlanning))
	}

	step, err := extractPlanStep(clf.Text())
	if err != nil {
		s.env.logger().Error(ctx, "planning output unparseable", zap.Error(err))
		return emitOne(emit, errorMessage("Task planning", err, transcript.TypePlanning))
	}
	payload, err := json.Marshal(planEnvelope{NextStep: step})
	if err != nil {
		return emitOne(emit, errorMessage("Task planning", err, transcript.TypePlanning))
	}
	s.env.logger().Info(ctx, "next step planned",
		zap.Int("required_tools", len(step.RequiredTools)))

	final := msg
	final.Content = planHeader + string(payload)
	return emitOne(emit, final)
}

func extractPlanStep(text string) (planStep, error) {
	values := make(map[string]string, len(planFields))
	for _, f := range planFields {
		v, ok := tagstream.Extract(text, f)
		if !ok {
			return planStep{}, fmt.Errorf("missing <%s> in planning output", f)
		}
		values[f] = v
	}
	return planStep{
		Description:     values["next_step_description"],
		RequiredTools:   tagstream.ParseList(values["required_tools"]),
		ExpectedOutput:  values["expected_output"],
		SuccessCriteria: values["success_criteria"],
	}, nil
}
