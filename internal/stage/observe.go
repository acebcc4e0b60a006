package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/tagstream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const observeSystemPrefix = `You are an intelligent AI assistant. Your job is to analyze how the task execution is going and provide follow-up suggestions.`

const observePrompt = `# Task Execution Analysis Guide

## Current Task
%s

## Completed Actions
%s

## Analysis Requirements
1. Evaluate whether the execution so far satisfies the task requirements
2. Decide whether the user must provide more information. Minimize user input and avoid disturbing the user; complete the work as fully as your own understanding allows
   - If input is needed, produce the exact question to ask the user
   - If after many attempts, more than 10, the task still cannot be completed, advise the user to provide more information or tell the user it cannot be done.
3. Determine whether the task is complete and no further attempts are needed.
4. Provide follow-up suggestions (if any)
5. Estimate the overall completion percentage, range 0-100,

## Special Rules
1. If the previous step completed a data search, the suggestions must include further understanding and processing of the search results, and the search alone must not count as completion.
2. Do not put real tool names in the analysis
3. Output only XML in the format below and nothing else, never output ` + "```" + `

## Output Format
` + "```" + `
<needs_more_input>
boolean, true when the user must provide more information, false when not
</needs_more_input>
<finish_percent>
task completion percentage, range 0-100, 100 means fully complete; does not conflict with is_completed.
</finish_percent>
<is_completed>
boolean, true when the task is finished and needs no further attempts, false when it is unfinished and more attempts are required.
</is_completed>
<analysis>
detailed analysis, one paragraph without line breaks
</analysis>
<suggestions>
["suggestion 1", "suggestion 2"]
</suggestions>
<user_query>
the exact question to ask the user when needs_more_input is true, otherwise an empty string
</user_query>
` + "```"

// observationHeader prefixes the machine-readable verdict in the final
// observation message.
const observationHeader = "Observation: "

var observeFields = []string{"needs_more_input", "finish_percent", "is_completed", "analysis", "suggestions", "user_query"}

// Verdict is the observe stage's structured conclusion. The
// orchestrator reads it from the last transcript message to decide
// whether the loop continues, halts for user input, or finishes.
type Verdict struct {
	NeedsMoreInput bool     `json:"needs_more_input"`
	FinishPercent  int      `json:"finish_percent"`
	IsCompleted    bool     `json:"is_completed"`
	Analysis       string   `json:"analysis"`
	Suggestions    []string `json:"suggestions"`
	UserQuery      string   `json:"user_query"`
}

// ParseVerdict reads a verdict back out of an observation message's
// content. ok is false for any message that does not carry one, which
// callers treat as "keep looping".
func ParseVerdict(content string) (Verdict, bool) {
	raw := strings.TrimPrefix(content, observationHeader)
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, false
	}
	return v, true
}

// Observe judges the work done since the last user message. Only the
// analysis field streams to the display; the final fragment carries the
// typed verdict as JSON.
type Observe struct {
	env Env
}

// NewObserve returns the observe stage.
func NewObserve(env Env) *Observe {
	return &Observe{env: env}
}

func (s *Observe) Name() string { return "observe" }

func (s *Observe) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	taskDescription := transcript.PromptString(transcript.TaskDescription(req.Messages))
	completed := transcript.PromptString(transcript.CompletedActions(req.Messages))
	msgs := []transcript.Message{
		s.env.systemMessage(observeSystemPrefix, req),
		{Role: transcript.RoleUser, Content: fmt.Sprintf(observePrompt, taskDescription, completed)},
	}

	msg := transcript.New(transcript.RoleAssistant, transcript.TypeObservation)
	clf := tagstream.NewClassifier(observeFields)
	last := ""

	var emitErr error
	_, err := s.env.Model.Complete(ctx, model.Request{Messages: msgs}, func(d model.Delta) error {
		for _, ch := range d.Content {
			cls, out := clf.Feed(ch)
			if cls.Kind == tagstream.KindUnknown {
				continue
			}
			if cls.Kind == tagstream.KindField && cls.Field == "analysis" {
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
		s.env.logger().Error(ctx, "observation completion failed", zap.Error(err))
		return emitOne(emit, errorMessage("Observation analysis", err, transcript.TypeObservation))
	}

	verdict, err := extractVerdict(clf.Text())
	if err != nil {
		s.env.logger().Error(ctx, "observation output unparseable", zap.Error(err))
		return emitOne(emit, errorMessage("Observation analysis", err, transcript.TypeObservation))
	}
	payload, err := json.Marshal(verdict)
	if err != nil {
		return emitOne(emit, errorMessage("Observation analysis", err, transcript.TypeObservation))
	}
	s.env.logger().Info(ctx, "execution observed",
		zap.Bool("completed", verdict.IsCompleted),
		zap.Bool("needs_more_input", verdict.NeedsMoreInput),
		zap.Int("finish_percent", verdict.FinishPercent))

	final := msg
	final.Content = observationHeader + string(payload)
	final.ShowContent = "\n"
	return emitOne(emit, final)
}

func extractVerdict(text string) (Verdict, error) {
	values := make(map[string]string, len(observeFields))
	for _, f := range observeFields {
		v, ok := tagstream.Extract(text, f)
		if !ok {
			return Verdict{}, fmt.Errorf("missing <%s> in observation output", f)
		}
		values[f] = v
	}
	percent, err := strconv.Atoi(values["finish_percent"])
	if err != nil {
		return Verdict{}, fmt.Errorf("finish_percent %q is not a number", values["finish_percent"])
	}
	return Verdict{
		NeedsMoreInput: strings.EqualFold(values["needs_more_input"], "true"),
		FinishPercent:  percent,
		IsCompleted:    strings.EqualFold(values["is_completed"], "true"),
		Analysis:       values["analysis"],
		Suggestions:    tagstream.ParseList(values["suggestions"]),
		UserQuery:      values["user_query"],
	}, nil
}
