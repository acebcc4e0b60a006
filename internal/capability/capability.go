// Package capability presents a uniform invocation contract over the
// three capability kinds the orchestrator can call: in-process functions,
// tools hosted by remote protocol servers, and nested orchestrator
// instances. The Registry resolves names to capabilities; the Dispatcher
// executes them and normalizes every outcome, success or failure, into
// the same envelope shape.
package capability

import (
	"context"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// Kind discriminates the three runtime variants of a capability.
type Kind int

const (
	// KindLocal runs an in-process Go function.
	KindLocal Kind = iota
	// KindRemote routes through a session-scoped protocol connection.
	KindRemote
	// KindNested forwards the transcript to another orchestrator.
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindNested:
		return "nested"
	default:
		return "unknown"
	}
}

// Param describes one parameter of a capability.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Descriptor is the protocol-facing shape shared by all capability kinds.
type Descriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  map[string]Param `json:"parameters"`
	Required    []string         `json:"required"`
}

// Schema renders the parameters as a JSON Schema object, the shape
// completion backends expect for tool definitions.
func (d Descriptor) Schema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	for name, p := range d.Parameters {
		props[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	required := d.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Summary is the simplified listing used for prompt inclusion, where the
// full parameter schema would only waste tokens.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Handler is the implementation of a local capability. Arguments arrive
// as decoded JSON. A returned error becomes an execution-error envelope;
// structured results are serialized, scalars stringified.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// NestedRunner is the buffered entry point of another orchestrator. It
// receives the full transcript verbatim and returns the messages the
// nested run produced.
type NestedRunner func(ctx context.Context, msgs []transcript.Message, sessionID string) ([]transcript.Message, error)

// Capability binds a Descriptor to one of the three execution variants.
type Capability struct {
	Descriptor
	Kind Kind

	handler Handler
	nested  NestedRunner

	// Server identifies the owning protocol server for remote
	// capabilities. Connections are keyed by it.
	Server string
}

// NewLocal returns a capability backed by an in-process function.
func NewLocal(desc Descriptor, h Handler) *Capability {
	return &Capability{Descriptor: desc, Kind: KindLocal, handler: h}
}

// NewRemote returns a capability owned by the named protocol server.
func NewRemote(desc Descriptor, server string) *Capability {
	return &Capability{Descriptor: desc, Kind: KindRemote, Server: server}
}

// NewNested returns a capability that hands the transcript to another
// orchestrator.
func NewNested(desc Descriptor, run NestedRunner) *Capability {
	return &Capability{Descriptor: desc, Kind: KindNested, nested: run}
}
