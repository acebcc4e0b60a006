// Package logging provides structured logging for agentd.
//
// # Overview
//
// The package wraps Zap with:
//   - A custom Trace level (-2, below Debug) for per-character stream
//     classification and wire payloads
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, session.id, run.id, stage)
//   - Secret redaction at the encoder
//   - Sampling for levels below Error
//   - A runtime-adjustable level for config hot reload
//
// # Usage
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithStage(ctx, "plan")
//	logger.Info(ctx, "stage complete", zap.Int("loop", n))
//
// Output carries the correlation automatically:
//
//	{
//	  "ts": "2026-08-25T10:15:30Z",
//	  "level": "info",
//	  "msg": "stage complete",
//	  "service": "agentd",
//	  "session.id": "b3a1...",
//	  "run.id": "9f2c...",
//	  "stage": "plan",
//	  "loop": 2
//	}
//
// # Secret Redaction
//
// Model API keys and similar values are redacted in three layers: the
// config.Secret type, encoder field-name filtering, and encoder pattern
// matching. Use the helpers for manual redaction:
//
//	logger.Info(ctx, "backend ready", logging.Secret("api_key", cfg.APIKey))
//
// # Testing
//
// TestLogger records entries for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "ready")
//	tl.AssertLogged(t, zapcore.InfoLevel, "ready")
//	tl.AssertNoSecrets(t)
package logging
