package capability

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// Registry holds capabilities by name and preserves registration order,
// so tool listings embedded in prompts stay stable across runs.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]*Capability
	order  []string

	log *logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		byName: make(map[string]*Capability),
		log:    log,
	}
}

// Register adds a capability. The first registration of a name wins;
// duplicates are logged and rejected.
func (r *Registry) Register(c *Capability) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name]; exists {
		r.log.Warn(context.Background(), "capability already registered",
			zap.String("capability", c.Name))
		return false
	}
	r.byName[c.Name] = c
	r.order = append(r.order, c.Name)
	r.log.Debug(context.Background(), "capability registered",
		zap.String("capability", c.Name),
		zap.String("kind", c.Kind.String()))
	return true
}

// Get resolves a capability by exact name.
func (r *Registry) Get(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Len reports the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Descriptor)
	}
	return out
}

// ListSimplified returns name and description only, in registration
// order. This is the listing stages embed in prompts.
func (r *Registry) ListSimplified() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.order))
	for _, name := range r.order {
		c := r.byName[name]
		out = append(out, Summary{Name: c.Name, Description: c.Description})
	}
	return out
}

// Subset returns the descriptors for the given names, in the given
// order, silently skipping names that are not registered. Plans may
// request capabilities that do not exist.
func (r *Registry) Subset(names []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		if c, ok := r.byName[name]; ok {
			out = append(out, c.Descriptor)
		}
	}
	return out
}
