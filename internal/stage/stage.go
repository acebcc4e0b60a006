// Package stage implements the pipeline steps the orchestrator
// sequences: analyze, decompose, plan, execute, observe, summarize, and
// the flat tool loop used when deep research is off. Every stage is one
// streamed completion plus the transcript fragments it emits; stages
// never share state directly, they communicate through the transcript
// the orchestrator merges between steps.
//
// A stage's Run returns an error only when emission fails or the
// context ends. Model and parse failures inside a stage become
// tool-role error messages on the stream, so the loop above can observe
// the failure and keep going.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/capability"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/stream"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// timeFormat is how stage prompts render the current time.
const timeFormat = "2006-01-02 Monday 15:04:05"

// now is a seam for tests that pin prompt timestamps.
var now = time.Now

// Request carries the per-run inputs every stage receives.
type Request struct {
	SessionID string
	Workspace string
	// Messages is the transcript as of this stage's start. Stages read
	// it and emit fragments; they never mutate it.
	Messages []transcript.Message
}

// Env bundles the process-wide collaborators stages share. The zero
// value is not usable; Model and Dispatcher must be set.
type Env struct {
	Model      model.Client
	Dispatcher *capability.Dispatcher
	Log        *logging.Logger

	// SystemPrefix replaces the per-stage default system preamble when
	// non-empty.
	SystemPrefix string
	// MoreSuggest enables the direct executor's tool-suggestion
	// pre-pass.
	MoreSuggest bool
}

func (e Env) logger() *logging.Logger {
	if e.Log == nil {
		return logging.Nop()
	}
	return e.Log
}

// Stage is one step of the orchestration pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, req Request, emit stream.EmitFunc) error
}

// systemMessage builds the shared system prompt: the stage preamble
// followed by workspace, time, and session lines.
func (e Env) systemMessage(defaultPrefix string, req Request) transcript.Message {
	prefix := e.SystemPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	content := prefix +
		"\nYour working directory is: " + req.Workspace +
		"\nThe current time is: " + now().Format(timeFormat) +
		"\nYour session id is: " + req.SessionID + "\n"
	return transcript.Message{Role: transcript.RoleSystem, Content: content}
}

// toolListing renders the simplified capability listing stages embed in
// prompts.
func (e Env) toolListing() string {
	summaries := e.Dispatcher.Registry().ListSimplified()
	if len(summaries) == 0 {
		return "No tools available"
	}
	b, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "No tools available"
	}
	return string(b)
}

// errorMessage is the uniform stage-failure shape: a fresh tool-role
// message whose content and display text both read "\n{what} failed:".
func errorMessage(what string, err error, typ transcript.Type) transcript.Message {
	m := transcript.New(transcript.RoleTool, typ)
	m.Content = fmt.Sprintf("\n%s failed: %v", what, err)
	m.ShowContent = m.Content
	return m
}

func emitOne(emit stream.EmitFunc, m transcript.Message) error {
	return emit([]transcript.Message{m})
}

// schemaTools converts capability descriptors into the tool shape the
// completion backends accept.
func schemaTools(descs []capability.Descriptor) []model.Tool {
	if len(descs) == 0 {
		return nil
	}
	out := make([]model.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, model.Tool{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		})
	}
	return out
}
