package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

type fakeRemote struct {
	response string
	err      error
	calls    []string
}

func (f *fakeRemote) CallTool(ctx context.Context, sessionID, server, tool string, args map[string]any) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%s", sessionID, server, tool))
	return f.response, f.err
}

func newTestDispatcher(t *testing.T, remote RemoteCaller) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry(nil)
	return NewDispatcher(reg, remote, nil), reg
}

func TestInvoke_LocalStructuredResult(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("factorial"), func(ctx context.Context, args map[string]any) (any, error) {
		return struct {
			Result int    `json:"result"`
			Input  int    `json:"input"`
			Status string `json:"status"`
		}{120, 5, "success"}, nil
	}))

	env := d.Invoke(context.Background(), "factorial", map[string]any{"n": 5}, nil, "s1")

	require.False(t, env.IsError())
	assert.JSONEq(t, `{"result": 120, "input": 5, "status": "success"}`, env.Content)
}

func TestInvoke_LocalScalarResult(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("count"), func(ctx context.Context, args map[string]any) (any, error) {
		return 42, nil
	}))

	env := d.Invoke(context.Background(), "count", nil, nil, "s1")

	require.False(t, env.IsError())
	assert.Equal(t, "42", env.Content)
}

func TestInvoke_LocalHandlerError(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("broken"), func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("disk on fire")
	}))

	env := d.Invoke(context.Background(), "broken", nil, nil, "s1")

	require.True(t, env.IsError())
	assert.Equal(t, ErrExecution, env.ErrorType)
	assert.Equal(t, "broken", env.ToolName)
	assert.Contains(t, env.Message, "disk on fire")
}

func TestInvoke_ToolNotFound(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("present"), noopHandler))

	env := d.Invoke(context.Background(), "absent", nil, nil, "s1")

	require.True(t, env.IsError())
	assert.Equal(t, ErrToolNotFound, env.ErrorType)
	assert.Contains(t, env.Message, "present")
}

func TestInvoke_Remote(t *testing.T) {
	remote := &fakeRemote{response: "part one\npart two"}
	d, reg := newTestDispatcher(t, remote)
	reg.Register(NewRemote(testDescriptor("search"), "search-server"))

	env := d.Invoke(context.Background(), "search", map[string]any{"q": "x"}, nil, "sess-9")

	require.False(t, env.IsError())
	assert.Equal(t, "part one\npart two", env.Content)
	assert.Equal(t, []string{"sess-9/search-server/search"}, remote.calls)
}

func TestInvoke_RemoteTransportFailure(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	d, reg := newTestDispatcher(t, remote)
	reg.Register(NewRemote(testDescriptor("search"), "search-server"))

	env := d.Invoke(context.Background(), "search", nil, nil, "s1")

	require.True(t, env.IsError())
	assert.Equal(t, ErrProtocolConnection, env.ErrorType)
	assert.Contains(t, env.Message, "search-server")
}

func TestInvoke_RemoteWithoutCaller(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewRemote(testDescriptor("search"), "search-server"))

	env := d.Invoke(context.Background(), "search", nil, nil, "s1")

	require.True(t, env.IsError())
	assert.Equal(t, ErrProtocolConnection, env.ErrorType)
}

func TestInvoke_NestedForwardsTranscript(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)

	var seen []transcript.Message
	reg.Register(NewNested(testDescriptor("code_agent"), func(ctx context.Context, msgs []transcript.Message, sessionID string) ([]transcript.Message, error) {
		seen = msgs
		return []transcript.Message{
			{ID: "n1", Role: transcript.RoleAssistant, Content: "done", Type: transcript.TypeFinalAnswer},
		}, nil
	}))

	history := []transcript.Message{{ID: "u1", Role: transcript.RoleUser, Content: "write code", Type: transcript.TypeNormal}}
	env := d.Invoke(context.Background(), "code_agent", nil, history, "s1")

	require.False(t, env.IsError())
	require.Len(t, env.Messages, 1)
	assert.Equal(t, "done", env.Messages[0].Content)
	assert.Equal(t, history, seen)
}

func TestInvoke_NestedError(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewNested(testDescriptor("code_agent"), func(ctx context.Context, msgs []transcript.Message, sessionID string) ([]transcript.Message, error) {
		return nil, errors.New("inner run failed")
	}))

	env := d.Invoke(context.Background(), "code_agent", nil, nil, "s1")

	require.True(t, env.IsError())
	assert.Equal(t, ErrExecution, env.ErrorType)
}

func TestInvoke_PanicBecomesEnvelope(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("bomb"), func(ctx context.Context, args map[string]any) (any, error) {
		panic("kaboom")
	}))

	env := d.Invoke(context.Background(), "bomb", nil, nil, "s1")

	require.NotNil(t, env)
	require.True(t, env.IsError())
	assert.Equal(t, ErrExecution, env.ErrorType)
	assert.Contains(t, env.Message, "kaboom")
}

func TestInvoke_UnserializableResult(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("weird"), func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"fn": func() {}}, nil
	}))

	env := d.Invoke(context.Background(), "weird", nil, nil, "s1")

	require.True(t, env.IsError())
	assert.Equal(t, ErrInvalidJSON, env.ErrorType)
}

// Every failure mode must still produce a well-formed envelope of
// exactly one variant.
func TestInvoke_EnvelopeTotality(t *testing.T) {
	remote := &fakeRemote{err: errors.New("down")}
	d, reg := newTestDispatcher(t, remote)
	reg.Register(NewLocal(testDescriptor("ok"), noopHandler))
	reg.Register(NewLocal(testDescriptor("fails"), func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("nope")
	}))
	reg.Register(NewLocal(testDescriptor("panics"), func(ctx context.Context, args map[string]any) (any, error) {
		panic("boom")
	}))
	reg.Register(NewRemote(testDescriptor("remote_down"), "srv"))
	reg.Register(NewNested(testDescriptor("nested_ok"), func(ctx context.Context, msgs []transcript.Message, sessionID string) ([]transcript.Message, error) {
		return nil, nil
	}))

	for _, name := range []string{"ok", "fails", "panics", "remote_down", "nested_ok", "never_registered"} {
		env := d.Invoke(context.Background(), name, map[string]any{"value": "x"}, nil, "s1")
		require.NotNil(t, env, name)

		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(env.JSON()), &decoded), name)

		variants := 0
		if _, ok := decoded["content"]; ok {
			variants++
		}
		if _, ok := decoded["messages"]; ok {
			variants++
		}
		if _, ok := decoded["error"]; ok {
			variants++
		}
		assert.Equal(t, 1, variants, "envelope for %q must have exactly one variant", name)
	}
}

func TestInvoke_ObserverSeesOutcomes(t *testing.T) {
	d, reg := newTestDispatcher(t, nil)
	reg.Register(NewLocal(testDescriptor("ok"), noopHandler))

	var names, kinds []string
	var types []ErrorType
	d.OnInvoke(func(name, kind string, errType ErrorType, elapsed time.Duration) {
		names = append(names, name)
		kinds = append(kinds, kind)
		types = append(types, errType)
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	})

	d.Invoke(context.Background(), "ok", nil, nil, "s1")
	d.Invoke(context.Background(), "missing", nil, nil, "s1")

	assert.Equal(t, []string{"ok", "missing"}, names)
	assert.Equal(t, []string{"local", ""}, kinds)
	assert.Equal(t, []ErrorType{"", ErrToolNotFound}, types)
}
