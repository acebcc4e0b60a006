package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP",
	Long: `Serve the agent over HTTP.

Endpoints:
  POST   /v1/runs           buffered run, JSON response
  POST   /v1/runs/stream    streamed run, one SSE event per fragment batch
  GET    /v1/capabilities   registered capability descriptors
  DELETE /v1/sessions/:id   end a session and release its connections
  GET    /healthz           liveness
  GET    /metrics           Prometheus metrics`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	srv, err := server.New(server.Deps{
		Controller: a.controller,
		Sessions:   a.sessions,
		Registry:   a.registry,
		Metrics:    a.metrics,
		History:    a.history,
		Defaults:   a.options(),
		Log:        a.log,
	}, server.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn(shutdownCtx, "server shutdown", zap.Error(err))
	}
	return nil
}
