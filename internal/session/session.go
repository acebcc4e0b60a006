// Package session owns orchestrator session identity and the per-session
// workspace directory. Capabilities write only under a session's
// workspace; connection state held by other components is released
// through cleanup hooks when the session ends.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// idPattern is the session id alphabet. IDs become workspace directory
// names and log correlation fields, so anything that could traverse a
// path or break a log line is rejected.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Session is one orchestration session. The workspace path is derived
// from the id and stays valid for the session's lifetime.
type Session struct {
	ID        string
	Workspace string
	StartedAt time.Time
}

// CleanupFunc releases per-session resources owned by another component,
// such as pooled protocol connections.
type CleanupFunc func(ctx context.Context, sessionID string)

// Manager creates sessions on first use and tears them down on End.
// Safe for concurrent use.
type Manager struct {
	root string
	log  *logging.Logger

	mu       sync.Mutex
	active   map[string]Session
	cleanups []CleanupFunc
}

// NewManager returns a manager provisioning workspaces under root.
func NewManager(root string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		root:   root,
		log:    log,
		active: make(map[string]Session),
	}
}

// OnCleanup registers fn to run when a session ends. Hooks run in
// registration order.
func (m *Manager) OnCleanup(fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, fn)
}

// Ensure returns the session for id, creating it and its workspace
// directory on first use. An empty id gets a fresh one.
func (m *Manager) Ensure(id string) (Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !idPattern.MatchString(id) {
		return Session{}, fmt.Errorf("invalid session id %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[id]; ok {
		return s, nil
	}

	workspace := filepath.Join(m.root, id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return Session{}, fmt.Errorf("creating workspace %s: %w", workspace, err)
	}

	s := Session{ID: id, Workspace: workspace, StartedAt: time.Now()}
	m.active[id] = s
	m.log.Info(context.Background(), "session started",
		zap.String("session_id", id),
		zap.String("workspace", workspace))
	return s, nil
}

// Get returns the session for id if it is active.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[id]
	return s, ok
}

// Active returns every live session, oldest first.
func (m *Manager) Active() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// End runs the cleanup hooks for id and forgets the session. Workspace
// files stay on disk. Ending an unknown session is a no-op.
func (m *Manager) End(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.active[id]
	delete(m.active, id)
	hooks := make([]CleanupFunc, len(m.cleanups))
	copy(hooks, m.cleanups)
	m.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range hooks {
		fn(ctx, id)
	}
	m.log.Info(ctx, "session ended",
		zap.String("session_id", id),
		zap.Duration("lifetime", time.Since(s.StartedAt)))
}

// Close ends every active session.
func (m *Manager) Close(ctx context.Context) {
	for _, s := range m.Active() {
		m.End(ctx, s.ID)
	}
}
