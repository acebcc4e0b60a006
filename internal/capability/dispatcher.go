package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

const instrumentationName = "github.com/fyrsmithlabs/agentd/internal/capability"

var tracer = otel.Tracer(instrumentationName)

// RemoteCaller issues protocol calls for remote capabilities. The
// protocol client manager implements it; multi-part textual responses
// arrive already newline-joined.
type RemoteCaller interface {
	CallTool(ctx context.Context, sessionID, server, tool string, args map[string]any) (string, error)
}

// Dispatcher executes capabilities and normalizes every outcome into an
// envelope. Invoke never returns an error and never panics; failures of
// any kind become error envelopes.
type Dispatcher struct {
	reg    *Registry
	remote RemoteCaller
	log    *logging.Logger

	// observe, when set, is called once per invocation with the
	// capability name and kind, the error type ("" on success), and the
	// wall time spent.
	observe func(name, kind string, errType ErrorType, d time.Duration)
}

// NewDispatcher wires a dispatcher to its registry. remote may be nil
// when no protocol servers are configured.
func NewDispatcher(reg *Registry, remote RemoteCaller, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{reg: reg, remote: remote, log: log}
}

// OnInvoke registers an observer for invocation outcomes.
func (d *Dispatcher) OnInvoke(fn func(name, kind string, errType ErrorType, d time.Duration)) {
	d.observe = fn
}

// Registry returns the dispatcher's capability registry.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// Invoke resolves name and executes the capability with the given
// arguments. Nested capabilities additionally receive the transcript;
// remote capabilities are routed by session.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any, msgs []transcript.Message, sessionID string) (env *Envelope) {
	start := time.Now()
	kind := ""
	ctx, span := tracer.Start(ctx, "capability."+name)
	span.SetAttributes(attribute.String("capability.name", name))

	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "capability panicked",
				zap.String("capability", name), zap.Any("panic", r))
			env = ErrorEnvelope(ErrExecution, fmt.Sprintf("Tool '%s' panicked: %v", name, r), name)
		}
		errType := ErrorType("")
		if env != nil && env.Error {
			errType = env.ErrorType
			span.SetStatus(codes.Error, string(errType))
		}
		span.End()
		if d.observe != nil {
			d.observe(name, kind, errType, time.Since(start))
		}
	}()

	c, ok := d.reg.Get(name)
	if !ok {
		msg := fmt.Sprintf("Tool '%s' not found. Available: %v", name, d.reg.Names())
		d.log.Error(ctx, "capability not found", zap.String("capability", name))
		return ErrorEnvelope(ErrToolNotFound, msg, name)
	}
	kind = c.Kind.String()
	span.SetAttributes(attribute.String("capability.kind", kind))

	d.log.Debug(ctx, "dispatching capability",
		zap.String("capability", name),
		zap.String("kind", kind))

	switch c.Kind {
	case KindLocal:
		env = d.invokeLocal(ctx, c, args)
	case KindRemote:
		env = d.invokeRemote(ctx, c, args, sessionID)
	case KindNested:
		env = d.invokeNested(ctx, c, msgs, sessionID)
	default:
		return ErrorEnvelope(ErrUnknownToolType,
			fmt.Sprintf("Unknown capability kind: %s", c.Kind), name)
	}

	if !env.IsError() {
		if _, err := json.Marshal(env); err != nil {
			d.log.Error(ctx, "capability returned unserializable result",
				zap.String("capability", name), zap.Error(err))
			return ErrorEnvelope(ErrInvalidJSON,
				fmt.Sprintf("Invalid response from tool '%s': %v", name, err), name)
		}
	}
	return env
}

func (d *Dispatcher) invokeLocal(ctx context.Context, c *Capability, args map[string]any) *Envelope {
	result, err := c.handler(ctx, args)
	if err != nil {
		return ErrorEnvelope(ErrExecution,
			fmt.Sprintf("Tool '%s' failed: %v", c.Name, err), c.Name).WithDetail(err.Error())
	}
	content, err := formatResult(result)
	if err != nil {
		return ErrorEnvelope(ErrInvalidJSON,
			fmt.Sprintf("Invalid response from tool '%s': %v", c.Name, err), c.Name)
	}
	return ContentEnvelope(content)
}

func (d *Dispatcher) invokeRemote(ctx context.Context, c *Capability, args map[string]any, sessionID string) *Envelope {
	if d.remote == nil {
		return ErrorEnvelope(ErrProtocolConnection,
			fmt.Sprintf("Tool '%s' requires a protocol client, none configured", c.Name), c.Name)
	}
	text, err := d.remote.CallTool(ctx, sessionID, c.Server, c.Name, args)
	if err != nil {
		return ErrorEnvelope(ErrProtocolConnection,
			fmt.Sprintf("Tool '%s' failed on server '%s': %v", c.Name, c.Server, err), c.Name).WithDetail(err.Error())
	}
	return ContentEnvelope(text)
}

func (d *Dispatcher) invokeNested(ctx context.Context, c *Capability, msgs []transcript.Message, sessionID string) *Envelope {
	out, err := c.nested(ctx, msgs, sessionID)
	if err != nil {
		return ErrorEnvelope(ErrExecution,
			fmt.Sprintf("Tool '%s' failed: %v", c.Name, err), c.Name).WithDetail(err.Error())
	}
	return MessagesEnvelope(out)
}

// formatResult mirrors the result contract: strings pass through,
// scalars stringify, structured values serialize as indented JSON.
func formatResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool, int, int64, float64:
		return fmt.Sprint(v), nil
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
