package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const analyzePrompt = `Please analyze the following conversation carefully and explain your thinking process in natural, flowing language:
Conversation:
%s

The following tools are available:
%s

Your session id is:
%s

Analyze along these steps:
First, I need to understand the user's core need. What key information can be extracted from the conversation? What is the user really trying to achieve?

Next, I will work through the task step by step. Specifically, the angles to consider are:
- the background and context of the task
- the concrete problem to solve
- the data or information sources that may be involved
- the potential solution paths

While analyzing, I will think about:
- which information is known and directly usable
- which information still needs verification or lookup
- the limitations or challenges that may exist
- what the optimal strategy is

Finally, I will summarize the analysis in clear, natural language, covering:
- a detailed explanation of what the task requires
- the concrete solution steps and methods
- the key points that deserve special attention
- any possible fallback options

Express the analysis in complete paragraphs, as naturally as if you were walking a colleague through your thinking. Output the analysis directly, without extra commentary or annotations, and without interrogating the user. Keep the tone conversational. Never say the raw names of tools or your session id.
The current time is %s
`

// Analyze streams a free-form think-aloud pass over the conversation
// before any task is decomposed. Its output is advisory; nothing parses
// it.
type Analyze struct {
	env Env
}

// NewAnalyze returns the analyze stage.
func NewAnalyze(env Env) *Analyze {
	return &Analyze{env: env}
}

func (s *Analyze) Name() string { return "analyze" }

// Run emits a "Thinking: " header chunk, one chunk per content delta,
// and a closing newline chunk, all under one message id. The prompt is
// a single user message with no system message.
func (s *Analyze) Run(ctx context.Context, req Request, emit stream.EmitFunc) error {
	conversation := transcript.PromptString(transcript.TaskDescription(req.Messages))
	prompt := fmt.Sprintf(analyzePrompt,
		conversation, s.env.toolListing(), req.SessionID, now().Format(timeFormat))

	msg := transcript.New(transcript.RoleAssistant, transcript.TypeTaskAnalysis)
	head := msg
	head.Content = "Thinking: "
	if err := emitOne(emit, head); err != nil {
		return err
	}

	var emitErr error
	_, err := s.env.Model.Complete(ctx, model.Request{
		Messages: []transcript.Message{{Role: transcript.RoleUser, Content: prompt}},
	}, func(d model.Delta) error {
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
		s.env.logger().Error(ctx, "task analysis completion failed", zap.Error(err))
		return emitOne(emit, errorMessage("Task analysis", err, transcript.TypeTaskAnalysis))
	}

	tail := msg
	tail.ShowContent = "\n"
	return emitOne(emit, tail)
}
