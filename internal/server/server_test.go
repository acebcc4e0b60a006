package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/history"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/metrics"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/session"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// scriptedModel replays streamed text completions in order, then settles
// with empty results.
type scriptedModel struct {
	texts []string
	calls int
}

func (f *scriptedModel) Complete(_ context.Context, _ model.Request, onDelta model.DeltaFunc) (*model.Result, error) {
	f.calls++
	if len(f.texts) == 0 {
		return &model.Result{}, nil
	}
	text := f.texts[0]
	f.texts = f.texts[1:]
	if onDelta != nil {
		if err := onDelta(model.Delta{Content: text}); err != nil {
			return nil, err
		}
	}
	return &model.Result{Usage: model.Usage{Prompt: 2, Completion: 1}}, nil
}

func (f *scriptedModel) Model() string { return "scripted" }

func newTestServer(t *testing.T, texts ...string) (*Server, *session.Manager) {
	t.Helper()
	reg := capability.NewRegistry(logging.Nop())
	require.True(t, reg.Register(capability.NewLocal(capability.Descriptor{
		Name:        "echo",
		Description: "Echoes the text argument back.",
		Parameters: map[string]capability.Param{
			"text": {Type: "string", Description: "text to echo"},
		},
		Required: []string{"text"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})))

	disp := capability.NewDispatcher(reg, nil, logging.Nop())
	sessions := session.NewManager(t.TempDir(), logging.Nop())
	ctrl := orchestrator.New(orchestrator.Config{}, &scriptedModel{texts: texts}, disp, sessions, logging.Nop())

	srv, err := New(Deps{
		Controller: ctrl,
		Sessions:   sessions,
		Registry:   reg,
		Metrics:    metrics.New(),
		Log:        logging.Nop(),
	}, Config{})
	require.NoError(t, err)
	return srv, sessions
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller is required")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRunBuffered(t *testing.T) {
	srv, _ := newTestServer(t, "Hello from the server")

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs",
		`{"query":"hello","session_id":"sess-http"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-http", resp.SessionID)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "direct", resp.Outcome)
	assert.Equal(t, "Hello from the server", resp.FinalAnswer)
	assert.Equal(t, model.Usage{Prompt: 2, Completion: 1}, resp.Usage)
	assert.NotEmpty(t, resp.Transcript)
}

func TestRunRejectsEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func sseEvents(body string) map[string][]string {
	events := map[string][]string{}
	var current string
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events[current] = append(events[current], strings.TrimPrefix(line, "data: "))
		}
	}
	return events
}

func TestRunStreamEmitsSSE(t *testing.T) {
	srv, _ := newTestServer(t, "Streamed hello")

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs/stream",
		`{"query":"hi","session_id":"sess-sse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	events := sseEvents(rec.Body.String())
	require.NotEmpty(t, events["message"])
	require.Len(t, events["done"], 1)
	assert.Empty(t, events["error"])

	var chunks []transcript.Message
	for _, data := range events["message"] {
		var batch []transcript.Message
		require.NoError(t, json.Unmarshal([]byte(data), &batch))
		chunks = append(chunks, batch...)
	}
	merged := transcript.MergeChunks(chunks)
	require.Len(t, merged, 1)
	assert.Equal(t, "Streamed hello", merged[0].Content)
	assert.Equal(t, "Streamed hello\n", merged[0].ShowContent)

	var done StreamSummary
	require.NoError(t, json.Unmarshal([]byte(events["done"][0]), &done))
	assert.Equal(t, "sess-sse", done.SessionID)
	assert.NotEmpty(t, done.RunID)
	assert.Equal(t, "direct", done.Outcome)
	assert.Equal(t, model.Usage{Prompt: 2, Completion: 1}, done.Usage)
}

func TestCapabilitiesListing(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/capabilities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CapabilitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Capabilities, 1)
	assert.Equal(t, "echo", resp.Capabilities[0].Name)
}

func TestEndSession(t *testing.T) {
	srv, sessions := newTestServer(t)
	_, err := sessions.Ensure("sess-end")
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodDelete, "/v1/sessions/sess-end", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := sessions.Get("sess-end")
	assert.False(t, ok)

	rec = doJSON(t, srv, http.MethodDelete, "/v1/sessions/sess-end", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunsRecordHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	srv, _ := newTestServer(t, "Buffered answer")
	srv.deps.History = store
	rec := doJSON(t, srv, http.MethodPost, "/v1/runs",
		`{"query":"buffered run","session_id":"sess-hist"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	srv, _ = newTestServer(t, "Streamed answer")
	srv.deps.History = store
	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/stream",
		`{"query":"streamed run","session_id":"sess-hist"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := store.BySession(context.Background(), "sess-hist")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "buffered run", records[0].Query)
	assert.Equal(t, "Buffered answer", records[0].FinalAnswer)
	assert.Equal(t, "direct", records[0].Outcome)
	assert.Equal(t, 2, records[0].PromptTokens)
	assert.Equal(t, "streamed run", records[1].Query)
	assert.Equal(t, "Streamed answer", records[1].FinalAnswer)
}
