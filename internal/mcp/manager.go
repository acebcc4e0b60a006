package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// clientInfo identifies this process to servers during the protocol
// handshake.
var clientInfo = &mcpsdk.Implementation{
	Name:    "agentd",
	Version: "1.0.0",
}

// Options tunes connection handling.
type Options struct {
	// ConnectTimeout bounds the transport handshake. Zero means no
	// bound beyond the caller's context.
	ConnectTimeout time.Duration
	// CallTimeout bounds a single tool call.
	CallTimeout time.Duration
}

// Manager pools protocol sessions keyed by orchestrator session and
// server name. A session's first call to a server opens the connection;
// later calls reuse it until CleanupSession.
type Manager struct {
	servers map[string]ServerConfig
	opts    Options
	log     *logging.Logger

	// dial is swappable so tests can connect over in-memory transports.
	dial func(ctx context.Context, cfg ServerConfig) (*mcpsdk.ClientSession, error)

	mu       sync.Mutex
	sessions map[string]map[string]*mcpsdk.ClientSession
}

var _ capability.RemoteCaller = (*Manager)(nil)

// NewManager creates a manager over the given server set.
func NewManager(servers map[string]ServerConfig, opts Options, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	m := &Manager{
		servers:  servers,
		opts:     opts,
		log:      log.Named("mcp"),
		sessions: make(map[string]map[string]*mcpsdk.ClientSession),
	}
	m.dial = m.connect
	return m
}

// Servers returns the configured server names in stable order.
func (m *Manager) Servers() []string {
	return serverNames(m.servers)
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig) (*mcpsdk.ClientSession, error) {
	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	var transport mcpsdk.Transport
	if cfg.Command != "" {
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	} else {
		transport = &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}
	}

	client := mcpsdk.NewClient(clientInfo, nil)
	return client.Connect(ctx, transport, nil)
}

// session returns the pooled session, opening it on first use. The
// lock is held across the handshake so a (session, server) pair is
// only ever dialed once.
func (m *Manager) session(ctx context.Context, sessionID, server string) (*mcpsdk.ClientSession, error) {
	cfg, ok := m.servers[server]
	if !ok {
		return nil, fmt.Errorf("unknown server %q", server)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	perSession := m.sessions[sessionID]
	if perSession == nil {
		perSession = make(map[string]*mcpsdk.ClientSession)
		m.sessions[sessionID] = perSession
	}
	if cs, ok := perSession[server]; ok {
		return cs, nil
	}

	cs, err := m.dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to server %q: %w", server, err)
	}
	m.log.Debug(ctx, "server connected",
		zap.String("server", server),
		zap.String("session_id", sessionID))
	perSession[server] = cs
	return cs, nil
}

// drop closes and forgets a pooled session so the next call redials.
func (m *Manager) drop(ctx context.Context, sessionID, server string) {
	m.mu.Lock()
	cs := m.sessions[sessionID][server]
	delete(m.sessions[sessionID], server)
	m.mu.Unlock()

	if cs == nil {
		return
	}
	if err := cs.Close(); err != nil {
		m.log.Warn(ctx, "closing failed session",
			zap.String("server", server),
			zap.Error(err))
	}
}

// CallTool invokes a tool on the named server and returns its textual
// content, multiple parts joined by newlines. A failed call evicts the
// pooled session so the next attempt reconnects.
func (m *Manager) CallTool(ctx context.Context, sessionID, server, tool string, args map[string]any) (string, error) {
	cs, err := m.session(ctx, sessionID, server)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if m.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.opts.CallTimeout)
		defer cancel()
	}

	res, err := cs.CallTool(callCtx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		m.drop(ctx, sessionID, server)
		return "", fmt.Errorf("calling %s on %s: %w", tool, server, err)
	}

	return joinTextContent(res.Content), nil
}

// joinTextContent flattens a result's text parts. Non-text parts carry
// no representation a transcript can hold and are skipped.
func joinTextContent(content []mcpsdk.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Capabilities lists every tool on every configured server as a remote
// capability, ready for registry insertion. Servers that cannot be
// reached fail the whole listing; partial tool sets would silently
// change what the model can do.
func (m *Manager) Capabilities(ctx context.Context, sessionID string) ([]*capability.Capability, error) {
	var caps []*capability.Capability
	for _, server := range serverNames(m.servers) {
		cs, err := m.session(ctx, sessionID, server)
		if err != nil {
			return nil, err
		}
		res, err := cs.ListTools(ctx, nil)
		if err != nil {
			m.drop(ctx, sessionID, server)
			return nil, fmt.Errorf("listing tools on %s: %w", server, err)
		}
		for _, tool := range res.Tools {
			caps = append(caps, capability.NewRemote(descriptorFromTool(tool), server))
		}
	}
	return caps, nil
}

func descriptorFromTool(t *mcpsdk.Tool) capability.Descriptor {
	desc := capability.Descriptor{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  map[string]capability.Param{},
	}
	if t.InputSchema == nil {
		return desc
	}
	for name, prop := range t.InputSchema.Properties {
		p := capability.Param{Type: prop.Type, Description: prop.Description}
		if p.Type == "" {
			p.Type = "string"
		}
		desc.Parameters[name] = p
	}
	desc.Required = t.InputSchema.Required
	return desc
}

// CleanupSession closes every connection owned by an orchestrator
// session. Close failures are logged and do not stop the sweep.
func (m *Manager) CleanupSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	perSession := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	for server, cs := range perSession {
		if err := cs.Close(); err != nil {
			m.log.Warn(ctx, "closing server connection",
				zap.String("server", server),
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		m.log.Debug(ctx, "server connection closed",
			zap.String("server", server),
			zap.String("session_id", sessionID))
	}
}

// Close tears down every pooled connection across all sessions.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]map[string]*mcpsdk.ClientSession)
	m.mu.Unlock()

	for sessionID, perSession := range all {
		for server, cs := range perSession {
			if err := cs.Close(); err != nil {
				m.log.Warn(ctx, "closing server connection",
					zap.String("server", server),
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
		}
	}
}
