// Package server exposes the orchestrator over HTTP: a buffered run
// endpoint, a streaming endpoint that forwards merged fragment batches
// as server-sent events, capability listing, session teardown, and the
// operational surface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/history"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/metrics"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/session"
	"github.com/fyrsmithlabs/agentd/internal/task"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// Config holds the HTTP listen address.
type Config struct {
	Host string
	Port int
}

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Controller *orchestrator.Controller
	Sessions   *session.Manager
	Registry   *capability.Registry
	// Metrics is optional; /metrics is mounted only when set.
	Metrics *metrics.Metrics
	// History is optional; finished runs are persisted when set.
	History *history.Store
	// Defaults seed each run's options; request bodies override per field.
	Defaults orchestrator.Options
	Log      *logging.Logger
}

// Server wires the orchestrator to HTTP.
type Server struct {
	echo *echo.Echo
	deps Deps
	cfg  Config
}

// requestIDPattern bounds what inbound X-Request-ID values reach the
// logging context.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// New builds the server and registers its routes.
func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8700
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, deps: deps, cfg: cfg}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestContext threads the request id into the request context so
// handler logs carry it.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		if requestIDPattern.MatchString(rid) {
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))
		}
		return next(c)
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.deps.Log.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	v1 := s.echo.Group("/v1")
	v1.POST("/runs", s.handleRun)
	v1.POST("/runs/stream", s.handleRunStream)
	v1.GET("/capabilities", s.handleCapabilities)
	v1.DELETE("/sessions/:id", s.handleEndSession)
}

// RunRequest is the body of POST /v1/runs and POST /v1/runs/stream.
// Query is shorthand for a single user message; Messages wins when both
// are present. Nil option fields fall back to the server defaults.
type RunRequest struct {
	SessionID string               `json:"session_id,omitempty"`
	Query     string               `json:"query,omitempty"`
	Messages  []transcript.Message `json:"messages,omitempty"`

	DeepResearch *bool `json:"deep_research,omitempty"`
	DeepThinking *bool `json:"deep_thinking,omitempty"`
	Summary      *bool `json:"summary,omitempty"`
}

// RunResponse is the body returned by POST /v1/runs.
type RunResponse struct {
	SessionID   string               `json:"session_id"`
	RunID       string               `json:"run_id"`
	Outcome     string               `json:"outcome"`
	FinalAnswer string               `json:"final_answer"`
	Loops       int                  `json:"loops"`
	Usage       model.Usage          `json:"usage"`
	DurationMS  int64                `json:"duration_ms"`
	Tasks       []task.Task          `json:"tasks,omitempty"`
	Transcript  []transcript.Message `json:"transcript"`
}

// StreamSummary is the data of the closing "done" event on
// POST /v1/runs/stream. The transcript is not repeated; it already
// streamed as "message" events.
type StreamSummary struct {
	SessionID  string      `json:"session_id"`
	RunID      string      `json:"run_id"`
	Outcome    string      `json:"outcome"`
	Loops      int         `json:"loops"`
	Usage      model.Usage `json:"usage"`
	DurationMS int64       `json:"duration_ms"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// CapabilitiesResponse is the body of GET /v1/capabilities.
type CapabilitiesResponse struct {
	Capabilities []capability.Descriptor `json:"capabilities"`
}

func (s *Server) buildRequest(body RunRequest) (orchestrator.Request, error) {
	msgs := body.Messages
	if len(msgs) == 0 {
		if strings.TrimSpace(body.Query) == "" {
			return orchestrator.Request{}, fmt.Errorf("query or messages required")
		}
		msgs = []transcript.Message{{Role: transcript.RoleUser, Content: body.Query}}
	}

	opts := s.deps.Defaults
	if body.DeepResearch != nil {
		opts.DeepResearch = *body.DeepResearch
	}
	if body.DeepThinking != nil {
		opts.DeepThinking = *body.DeepThinking
	}
	if body.Summary != nil {
		opts.Summary = *body.Summary
	}

	return orchestrator.Request{
		SessionID: body.SessionID,
		Messages:  msgs,
		Options:   opts,
	}, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCapabilities(c echo.Context) error {
	return c.JSON(http.StatusOK, CapabilitiesResponse{
		Capabilities: s.deps.Registry.List(),
	})
}

func (s *Server) handleEndSession(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.deps.Sessions.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	s.deps.Sessions.End(c.Request().Context(), id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRun(c echo.Context) error {
	var body RunRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req, err := s.buildRequest(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.deps.Controller.Run(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.record(c.Request().Context(), body, res)

	return c.JSON(http.StatusOK, RunResponse{
		SessionID:   res.SessionID,
		RunID:       res.RunID,
		Outcome:     string(res.Outcome),
		FinalAnswer: res.FinalAnswer,
		Loops:       res.Loops,
		Usage:       res.Usage,
		DurationMS:  res.Duration.Milliseconds(),
		Tasks:       res.Tasks,
		Transcript:  res.Transcript,
	})
}

// handleRunStream forwards each fragment batch as one SSE "message"
// event, then closes with a "done" event carrying the run summary, or
// an "error" event. A failed write aborts the run.
func (s *Server) handleRunStream(c echo.Context) error {
	var body RunRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req, err := s.buildRequest(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	res, err := s.deps.Controller.RunWith(c.Request().Context(), req,
		func(batch []transcript.Message) error {
			return writeEvent(c.Response(), "message", batch)
		})
	if err != nil {
		return writeEvent(c.Response(), "error", map[string]string{"error": err.Error()})
	}
	s.record(c.Request().Context(), body, res)

	return writeEvent(c.Response(), "done", StreamSummary{
		SessionID:  res.SessionID,
		RunID:      res.RunID,
		Outcome:    string(res.Outcome),
		Loops:      res.Loops,
		Usage:      res.Usage,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// record persists the finished run when a history store is attached.
// Persistence failures are logged, never surfaced to the client.
func (s *Server) record(ctx context.Context, body RunRequest, res *orchestrator.Result) {
	if s.deps.History == nil {
		return
	}
	err := s.deps.History.Append(ctx, history.Record{
		RunID:            res.RunID,
		SessionID:        res.SessionID,
		Query:            queryOf(body),
		FinalAnswer:      res.FinalAnswer,
		Outcome:          string(res.Outcome),
		Loops:            res.Loops,
		PromptTokens:     res.Usage.Prompt,
		CompletionTokens: res.Usage.Completion,
		Duration:         res.Duration,
	})
	if err != nil {
		s.deps.Log.Warn(ctx, "history append failed", zap.Error(err))
	}
}

// queryOf recovers the request text for the history row.
func queryOf(body RunRequest) string {
	if body.Query != "" {
		return body.Query
	}
	for _, m := range body.Messages {
		if m.Role == transcript.RoleUser {
			return m.Content
		}
	}
	return ""
}

func writeEvent(w *echo.Response, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.deps.Log.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Log.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
