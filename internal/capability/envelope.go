package capability

import (
	"encoding/json"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// ErrorType is the failure taxonomy carried in error envelopes.
type ErrorType string

const (
	ErrToolNotFound       ErrorType = "TOOL_NOT_FOUND"
	ErrInvalidJSON        ErrorType = "INVALID_JSON"
	ErrExecution          ErrorType = "EXECUTION_ERROR"
	ErrProtocolConnection ErrorType = "PROTOCOL_CONNECTION_ERROR"
	ErrUnknownToolType    ErrorType = "UNKNOWN_TOOL_TYPE"
)

// Envelope is the normalized result of every capability invocation.
// Exactly one of the three variants is populated: Content for textual
// results, Messages for nested-orchestrator output, or the error fields.
type Envelope struct {
	Content  string
	Messages []transcript.Message

	Error     bool
	ErrorType ErrorType
	Message   string
	ToolName  string
	Timestamp int64
	Detail    string
}

// ContentEnvelope wraps a textual result.
func ContentEnvelope(content string) *Envelope {
	return &Envelope{Content: content}
}

// MessagesEnvelope wraps the message list a nested orchestrator returned.
func MessagesEnvelope(msgs []transcript.Message) *Envelope {
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	return &Envelope{Messages: msgs}
}

// ErrorEnvelope builds the normalized failure shape.
func ErrorEnvelope(typ ErrorType, message, toolName string) *Envelope {
	return &Envelope{
		Error:     true,
		ErrorType: typ,
		Message:   message,
		ToolName:  toolName,
		Timestamp: time.Now().Unix(),
	}
}

// WithDetail attaches the underlying exception text to an error
// envelope.
func (e *Envelope) WithDetail(detail string) *Envelope {
	e.Detail = detail
	return e
}

// IsError reports whether the envelope carries the error variant.
func (e *Envelope) IsError() bool { return e.Error }

// MarshalJSON emits exactly one variant, matching the wire contract
// {"content": ...} | {"messages": [...]} | {"error": true, ...}.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	switch {
	case e.Error:
		return json.Marshal(struct {
			Error     bool      `json:"error"`
			ErrorType ErrorType `json:"error_type"`
			Message   string    `json:"message"`
			ToolName  string    `json:"tool_name"`
			Timestamp int64     `json:"timestamp"`
			Detail    string    `json:"exception_detail,omitempty"`
		}{true, e.ErrorType, e.Message, e.ToolName, e.Timestamp, e.Detail})
	case e.Messages != nil:
		return json.Marshal(struct {
			Messages []transcript.Message `json:"messages"`
		}{e.Messages})
	default:
		return json.Marshal(struct {
			Content string `json:"content"`
		}{e.Content})
	}
}

// JSON renders the envelope as an indented string, the form stored in
// tool-result messages.
func (e *Envelope) JSON() string {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return `{"error": true, "error_type": "INVALID_JSON", "message": "envelope serialization failed"}`
	}
	return string(b)
}
