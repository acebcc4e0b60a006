package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// turn scripts one Complete call of the fake model: the deltas it
// streams, the assembled result, or an error.
type turn struct {
	deltas []model.Delta
	result model.Result
	err    error
}

// fakeModel replays scripted turns in order and records every request
// it receives.
type fakeModel struct {
	turns []turn
	reqs  []model.Request
}

func (f *fakeModel) Complete(_ context.Context, req model.Request, onDelta model.DeltaFunc) (*model.Result, error) {
	f.reqs = append(f.reqs, req)
	if len(f.turns) == 0 {
		return &model.Result{}, nil
	}
	t := f.turns[0]
	f.turns = f.turns[1:]
	if t.err != nil {
		return nil, t.err
	}
	if onDelta != nil {
		for _, d := range t.deltas {
			if err := onDelta(d); err != nil {
				return nil, err
			}
		}
	}
	res := t.result
	return &res, nil
}

func (f *fakeModel) Model() string { return "fake" }

// textDeltas splits text into content deltas of at most size runes, the
// way a streaming backend fragments a completion.
func textDeltas(text string, size int) []model.Delta {
	var out []model.Delta
	runes := []rune(text)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, model.Delta{Content: string(runes[:n])})
		runes = runes[n:]
	}
	return out
}

func newEnv(t *testing.T, fm *fakeModel, caps ...*capability.Capability) Env {
	t.Helper()
	reg := capability.NewRegistry(logging.Nop())
	for _, c := range caps {
		require.True(t, reg.Register(c))
	}
	return Env{
		Model:      fm,
		Dispatcher: capability.NewDispatcher(reg, nil, logging.Nop()),
		Log:        logging.Nop(),
	}
}

// echoCapability returns a local tool echoing its text argument.
func echoCapability() *capability.Capability {
	return capability.NewLocal(capability.Descriptor{
		Name:        "echo",
		Description: "Echoes the text argument back.",
		Parameters: map[string]capability.Param{
			"text": {Type: "string", Description: "text to echo"},
		},
		Required: []string{"text"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
}

func completeTaskCapability() *capability.Capability {
	return capability.NewLocal(capability.Descriptor{
		Name:        "complete_task",
		Description: "Marks the task as complete.",
		Parameters:  map[string]capability.Param{},
	}, func(_ context.Context, _ map[string]any) (any, error) {
		return "Task completed", nil
	})
}

// runStage drives one stage to completion and returns every emitted
// fragment in order.
func runStage(t *testing.T, s Stage, req Request) []transcript.Message {
	t.Helper()
	batches, err := stream.Collect(context.Background(), func(ctx context.Context, emit stream.EmitFunc) error {
		return s.Run(ctx, req, emit)
	})
	require.NoError(t, err)
	var chunks []transcript.Message
	for _, b := range batches {
		chunks = append(chunks, b...)
	}
	return chunks
}

// fixedNow pins the stage clock for the duration of a test.
func fixedNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func userRequest(text string) Request {
	return Request{
		SessionID: "sess-1",
		Workspace: "/tmp/agentd/sess-1",
		Messages: []transcript.Message{
			{ID: "m-user", Role: transcript.RoleUser, Content: text, Type: transcript.TypeNormal},
		},
	}
}
