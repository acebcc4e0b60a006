package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/capability/builtin"
	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/history"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/mcp"
	"github.com/fyrsmithlabs/agentd/internal/metrics"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/session"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
)

// bootstrapSession is the throwaway session id used to discover remote
// capabilities at startup. Its connections are torn down before any run
// starts.
const bootstrapSession = "bootstrap"

// app holds the wired component graph behind every command.
type app struct {
	cfg        *config.Config
	log        *logging.Logger
	telemetry  *telemetry.Provider
	metrics    *metrics.Metrics
	registry   *capability.Registry
	dispatcher *capability.Dispatcher
	mcp        *mcp.Manager
	sessions   *session.Manager
	controller *orchestrator.Controller
	history    *history.Store
}

// newApp loads configuration and builds the component graph. Remote
// capability discovery failures are logged, not fatal: a dead server
// should not take the local tools down with it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	tel, err := telemetry.Init(ctx, cfg.Telemetry, "agentd", version)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	a := &app{cfg: cfg, log: log, telemetry: tel, metrics: metrics.New()}

	client, err := model.New(model.Config{
		Provider:       cfg.Model.Provider,
		BaseURL:        cfg.Model.BaseURL,
		Name:           cfg.Model.Name,
		APIKey:         cfg.Model.APIKey.Value(),
		Temperature:    cfg.Model.Temperature,
		MaxTokens:      cfg.Model.MaxTokens,
		RequestTimeout: cfg.Model.RequestTimeout.Duration(),
		MaxRetries:     cfg.Model.MaxRetries,
		RateLimit:      cfg.Model.RateLimit,
		RateBurst:      cfg.Model.RateBurst,
	}, log)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("building model client: %w", err)
	}

	a.registry = capability.NewRegistry(log)
	builtin.Register(a.registry)

	if dir, err := config.ExpandHome(cfg.Tools.DynamicDir); err == nil && dir != "" {
		n, err := capability.LoadDir(ctx, dir, a.registry, log)
		if err != nil {
			log.Warn(ctx, "dynamic tool loading failed", zap.String("dir", dir), zap.Error(err))
		} else if n > 0 {
			log.Info(ctx, "dynamic tools loaded", zap.String("dir", dir), zap.Int("count", n))
		}
	}

	workspaceRoot, err := config.ExpandHome(cfg.Workspace.Root)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	a.sessions = session.NewManager(workspaceRoot, log)

	a.mcp = a.buildMCP(ctx)

	a.dispatcher = capability.NewDispatcher(a.registry, a.mcp, log)
	a.dispatcher.OnInvoke(func(name, kind string, errType capability.ErrorType, d time.Duration) {
		a.metrics.ObserveCapability(name, kind, string(errType), d)
	})

	a.controller = orchestrator.New(orchestrator.Config{
		MaxLoopCount:       cfg.Agent.MaxLoopCount,
		MaxTranscriptBytes: cfg.Transcript.MaxBytes,
		SystemPrefix:       cfg.Agent.SystemPrefix,
		MoreSuggest:        cfg.Agent.MoreSuggest,
	}, client, a.dispatcher, a.sessions, log)
	a.controller.OnStage(func(name string, d time.Duration, err error) {
		a.metrics.ObserveStage(name, d, err)
	})
	a.controller.OnRun(func(outcome orchestrator.Outcome, d time.Duration, loops int, u model.Usage) {
		a.metrics.ObserveRun(string(outcome), d, loops)
		a.metrics.AddTokens("prompt", u.Prompt)
		a.metrics.AddTokens("completion", u.Completion)
	})

	if cfg.Agent.MultiAgent {
		a.registry.Register(capability.NewNested(nestedAgentDescriptor(), a.controller.Nested()))
	}

	if cfg.History.Enabled {
		path, err := config.ExpandHome(cfg.History.Path)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("resolving history path: %w", err)
		}
		store, err := history.Open(path)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		a.history = store
	}

	return a, nil
}

// buildMCP loads the server definitions and registers every reachable
// remote tool as a capability. Returns a manager over an empty server
// set when nothing is configured.
func (a *app) buildMCP(ctx context.Context) *mcp.Manager {
	opts := mcp.Options{
		ConnectTimeout: a.cfg.MCP.ConnectTimeout.Duration(),
		CallTimeout:    a.cfg.MCP.CallTimeout.Duration(),
	}

	servers := map[string]mcp.ServerConfig{}
	path, err := config.ExpandHome(a.cfg.MCP.ServersPath)
	if err == nil && path != "" {
		loaded, err := mcp.LoadServers(path)
		if err != nil {
			a.log.Warn(ctx, "loading mcp servers failed", zap.String("path", path), zap.Error(err))
		} else {
			servers = loaded
		}
	}

	mgr := mcp.NewManager(servers, opts, a.log)
	a.sessions.OnCleanup(mgr.CleanupSession)

	if len(servers) > 0 {
		caps, err := mgr.Capabilities(ctx, bootstrapSession)
		if err != nil {
			a.log.Warn(ctx, "remote capability discovery failed", zap.Error(err))
		} else {
			for _, c := range caps {
				a.registry.Register(c)
			}
			a.log.Info(ctx, "remote capabilities registered",
				zap.Int("servers", len(servers)), zap.Int("tools", len(caps)))
		}
		mgr.CleanupSession(ctx, bootstrapSession)
	}
	return mgr
}

// options maps the agent configuration onto one run's options.
func (a *app) options() orchestrator.Options {
	return orchestrator.Options{
		DeepResearch: a.cfg.Agent.DeepResearch,
		DeepThinking: a.cfg.Agent.DeepThinking,
		Summary:      a.cfg.Agent.Summary,
	}
}

// Close releases everything newApp opened. Safe on a partially built app.
func (a *app) Close(ctx context.Context) {
	if a.sessions != nil {
		a.sessions.Close(ctx)
	}
	if a.mcp != nil {
		a.mcp.Close(ctx)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn(ctx, "closing history store", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.log.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	return logging.New(lc, nil)
}

func nestedAgentDescriptor() capability.Descriptor {
	return capability.Descriptor{
		Name: "research_agent",
		Description: "Hand the conversation to a nested deep-research agent. " +
			"Use for subtasks that need their own multi-step plan.",
		Parameters: map[string]capability.Param{},
	}
}
