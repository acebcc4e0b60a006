// Package orchestrator drives the staged reasoning loop over a shared
// message transcript: analyze, decompose, then plan/execute/observe
// cycles until the observation verdict stops the run, with an optional
// closing summary. A parallel direct path skips the staged loop
// entirely. The controller owns the transcript; stage fragments merge
// into it before every yield, so a consumer always holds the transcript
// the next stage will read.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/session"
	"github.com/fyrsmithlabs/agentd/internal/stage"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/task"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const instrumentationName = "github.com/fyrsmithlabs/agentd/internal/orchestrator"

var tracer = otel.Tracer(instrumentationName)

// Config tunes the controller. Values come from the agent and
// transcript sections of the runtime configuration.
type Config struct {
	// MaxLoopCount bounds plan/execute/observe cycles per run.
	MaxLoopCount int
	// MaxTranscriptBytes is the serialized transcript budget enforced
	// before the stages run.
	MaxTranscriptBytes int
	// SystemPrefix overrides the stages' default system prompts.
	SystemPrefix string
	// MoreSuggest enables the direct executor's tool suggestion pre-pass.
	MoreSuggest bool
}

// DefaultConfig returns the stock loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxLoopCount:       10,
		MaxTranscriptBytes: 10000,
	}
}

// Options select the mode of one run.
type Options struct {
	// DeepResearch runs the full staged loop. Off routes the request to
	// the direct executor.
	DeepResearch bool
	// DeepThinking runs the analyze stage before decomposition.
	DeepThinking bool
	// Summary closes completed and loop-limited runs with a summary.
	Summary bool
}

// Request is one orchestration run. An empty SessionID starts a fresh
// session.
type Request struct {
	SessionID string
	Messages  []transcript.Message
	Options   Options
}

// Outcome names how a run ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeNeedsInput Outcome = "needs_input"
	OutcomeLoopLimit  Outcome = "loop_limit"
	OutcomeDirect     Outcome = "direct"
	OutcomeError      Outcome = "error"
)

// Result is the assembled outcome of a run.
type Result struct {
	SessionID   string
	RunID       string
	Outcome     Outcome
	Transcript  []transcript.Message
	FinalAnswer string
	Tasks       []task.Task
	Usage       model.Usage
	Loops       int
	Duration    time.Duration
}

// StageHook observes one finished stage.
type StageHook func(name string, d time.Duration, err error)

// RunHook observes one finished run.
type RunHook func(outcome Outcome, d time.Duration, loops int, usage model.Usage)

// Controller sequences the stages of a run and folds their fragments
// into the transcript. Safe for concurrent runs; per-run state lives on
// the stack.
type Controller struct {
	cfg        Config
	model      model.Client
	dispatcher *capability.Dispatcher
	sessions   *session.Manager
	log        *logging.Logger

	onStage StageHook
	onRun   RunHook
}

// New returns a controller. Zero loop bounds fall back to defaults.
func New(cfg Config, client model.Client, dispatcher *capability.Dispatcher, sessions *session.Manager, log *logging.Logger) *Controller {
	if cfg.MaxLoopCount < 1 {
		cfg.MaxLoopCount = DefaultConfig().MaxLoopCount
	}
	if cfg.MaxTranscriptBytes < 1 {
		cfg.MaxTranscriptBytes = DefaultConfig().MaxTranscriptBytes
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{
		cfg:        cfg,
		model:      client,
		dispatcher: dispatcher,
		sessions:   sessions,
		log:        log,
	}
}

// OnStage sets the stage observation hook.
func (c *Controller) OnStage(fn StageHook) { c.onStage = fn }

// OnRun sets the run observation hook.
func (c *Controller) OnRun(fn RunHook) { c.onRun = fn }

// RunStream starts a run and returns its batch stream. Fragments arrive
// merged into the running transcript, stage by stage, chunk by chunk.
func (c *Controller) RunStream(ctx context.Context, req Request) *stream.Stream {
	return stream.Run(ctx, func(ctx context.Context, emit stream.EmitFunc) error {
		_, err := c.run(ctx, req, emit)
		return err
	})
}

// Run drives a run to completion and returns the merged transcript,
// final answer, and usage totals.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	return c.run(ctx, req, func([]transcript.Message) error {
		return ctx.Err()
	})
}

// RunWith behaves like Run while forwarding every raw fragment batch to
// emit, for callers that want live output and the final result. An emit
// error aborts the run.
func (c *Controller) RunWith(ctx context.Context, req Request, emit stream.EmitFunc) (*Result, error) {
	if emit == nil {
		return c.Run(ctx, req)
	}
	return c.run(ctx, req, emit)
}

// Nested adapts the controller's buffered entry point into a nested
// capability runner. The forwarded transcript is filtered back out of
// the result by message id, so only messages the nested run produced
// reach the caller.
func (c *Controller) Nested() capability.NestedRunner {
	return func(ctx context.Context, msgs []transcript.Message, sessionID string) ([]transcript.Message, error) {
		res, err := c.Run(ctx, Request{SessionID: sessionID, Messages: msgs})
		if err != nil {
			return nil, err
		}
		forwarded := make(map[string]bool, len(msgs))
		for _, m := range msgs {
			forwarded[m.ID] = true
		}
		produced := make([]transcript.Message, 0, len(res.Transcript))
		for _, m := range res.Transcript {
			if !forwarded[m.ID] {
				produced = append(produced, m)
			}
		}
		return produced, nil
	}
}

func (c *Controller) run(ctx context.Context, req Request, emit stream.EmitFunc) (res *Result, runErr error) {
	start := time.Now()
	res = &Result{SessionID: req.SessionID, RunID: uuid.NewString(), Outcome: OutcomeError}

	tracker := model.NewTracker(c.model)
	working := normalize(req.Messages)

	// Every exit, panic included, settles the result and converts the
	// failure into an ordinary transcript message.
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(ctx, "run panicked", zap.Any("panic", r))
			msg := workflowError(fmt.Errorf("%v", r))
			working = transcript.Merge(working, []transcript.Message{msg})
			_ = emit([]transcript.Message{msg})
			res.Outcome = OutcomeError
			runErr = nil
		}
		res.Transcript = working
		res.FinalAnswer = lastAnswer(working)
		res.Usage = tracker.Usage()
		res.Duration = time.Since(start)
		if c.onRun != nil {
			c.onRun(res.Outcome, res.Duration, res.Loops, res.Usage)
		}
		c.log.Info(ctx, "run finished",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("loops", res.Loops),
			zap.Int("tokens", res.Usage.Total()),
			zap.Duration("duration", res.Duration))
	}()

	ctx = logging.WithRunID(ctx, res.RunID)

	sess, err := c.sessions.Ensure(req.SessionID)
	if err != nil {
		c.log.Error(ctx, "session provisioning failed", zap.Error(err))
		msg := workflowError(err)
		working = transcript.Merge(working, []transcript.Message{msg})
		if emitErr := emit([]transcript.Message{msg}); emitErr != nil {
			return res, emitErr
		}
		return res, nil
	}
	res.SessionID = sess.ID
	ctx = logging.WithSessionID(ctx, sess.ID)

	working = transcript.Trim(working, c.cfg.MaxTranscriptBytes)

	env := stage.Env{
		Model:        tracker,
		Dispatcher:   c.dispatcher,
		Log:          c.log,
		SystemPrefix: c.cfg.SystemPrefix,
		MoreSuggest:  c.cfg.MoreSuggest,
	}

	step := func(s stage.Stage) error {
		stageStart := time.Now()
		sctx, span := tracer.Start(ctx, "stage."+s.Name())
		span.SetAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("run.id", res.RunID),
		)
		sctx = logging.WithStage(sctx, s.Name())
		c.log.Debug(sctx, "stage starting")

		err := s.Run(sctx, stage.Request{
			SessionID: sess.ID,
			Workspace: sess.Workspace,
			Messages:  working,
		}, func(batch []transcript.Message) error {
			working = transcript.Merge(working, batch)
			return emit(batch)
		})

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if c.onStage != nil {
			c.onStage(s.Name(), time.Since(stageStart), err)
		}
		return err
	}

	if !req.Options.DeepResearch {
		if err := step(stage.NewDirect(env)); err != nil {
			return res, err
		}
		res.Outcome = OutcomeDirect
		return res, nil
	}

	if req.Options.DeepThinking {
		if err := step(stage.NewAnalyze(env)); err != nil {
			return res, err
		}
	}
	if err := step(stage.NewDecompose(env)); err != nil {
		return res, err
	}
	if tasks, ok := task.FromDecomposition(working); ok {
		res.Tasks = tasks
	}

	outcome := OutcomeLoopLimit
	loops := 0
	for {
		if loops == c.cfg.MaxLoopCount {
			c.log.Warn(ctx, "loop limit reached",
				zap.Int("max_loop_count", c.cfg.MaxLoopCount))
			break
		}
		loops++
		res.Loops = loops

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		if err := step(stage.NewPlan(env)); err != nil {
			return res, err
		}
		if err := step(stage.NewExecute(env)); err != nil {
			return res, err
		}
		if err := step(stage.NewObserve(env)); err != nil {
			return res, err
		}

		verdict, ok := stage.ParseVerdict(lastContent(working))
		if !ok {
			c.log.Warn(ctx, "observation verdict missing", zap.Int("loop", loops))
			continue
		}
		if verdict.IsCompleted {
			outcome = OutcomeCompleted
			break
		}
		if verdict.NeedsMoreInput {
			clarify := transcript.New(transcript.RoleAssistant, transcript.TypeFinalAnswer)
			clarify.Content = verdict.UserQuery
			clarify.ShowContent = verdict.UserQuery + "\n"
			working = transcript.Merge(working, []transcript.Message{clarify})
			if err := emit([]transcript.Message{clarify}); err != nil {
				return res, err
			}
			res.Outcome = OutcomeNeedsInput
			return res, nil
		}
	}

	if req.Options.Summary {
		if err := step(stage.NewSummarize(env)); err != nil {
			return res, err
		}
	}
	res.Outcome = outcome
	return res, nil
}

// normalize gives inbound messages the fields the pipeline relies on:
// an id for merging and a user/normal classification for bare
// conversation turns.
func normalize(msgs []transcript.Message) []transcript.Message {
	out := make([]transcript.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Role == "" {
			m.Role = transcript.RoleUser
		}
		if m.Type == "" {
			m.Type = transcript.TypeNormal
		}
		out[i] = m
	}
	return out
}

func workflowError(err error) transcript.Message {
	m := transcript.New(transcript.RoleAssistant, transcript.TypeFinalAnswer)
	m.Content = fmt.Sprintf("Workflow execution failed: %v", err)
	m.ShowContent = m.Content
	return m
}

func lastContent(msgs []transcript.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// lastAnswer picks the text a buffered caller most likely wants: the
// newest assistant final answer, or failing that the newest assistant
// message with any content, which covers direct runs.
func lastAnswer(msgs []transcript.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == transcript.RoleAssistant && m.Type == transcript.TypeFinalAnswer && m.Content != "" {
			return m.Content
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == transcript.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
