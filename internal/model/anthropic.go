package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// AnthropicClient talks to the Anthropic Messages API. Tool-call
// argument JSON arrives in genuine fragments here, exercising the same
// accumulation path the OpenAI backend takes in one step.
type AnthropicClient struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	log     *logging.Logger
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropic creates a client for the Anthropic Messages API.
func NewAnthropic(cfg Config, log *logging.Logger) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	if log == nil {
		log = logging.Nop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled here, not in the SDK, so backoff and
		// stream-safety stay consistent across backends.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		limiter: newLimiter(cfg),
		log:     log.Named("model.anthropic"),
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.cfg.Name
}

// Complete streams one completion.
func (c *AnthropicClient) Complete(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	system, msgs := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Name),
		MaxTokens: int64(c.cfg.MaxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(c.cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	c.log.Debug(ctx, "completion request",
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)))

	return completeWithRetry(ctx, c.cfg.MaxRetries, onDelta, func(ctx context.Context, emit DeltaFunc) (*Result, error) {
		return c.stream(ctx, params, emit)
	})
}

func (c *AnthropicClient) stream(ctx context.Context, params anthropic.MessageNewParams, emit DeltaFunc) (*Result, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	acc := NewAccumulator()
	var (
		content    strings.Builder
		usage      Usage
		stopReason string
	)

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.Prompt += int(ev.Message.Usage.InputTokens)
			usage.Cached += int(ev.Message.Usage.CacheReadInputTokens)

		case anthropic.ContentBlockStartEvent:
			switch block := ev.ContentBlock.AsAny().(type) {
			case anthropic.ToolUseBlock:
				d := ToolCallDelta{Index: int(ev.Index), ID: block.ID, Name: block.Name}
				acc.Add(d)
				if err := emit(Delta{ToolCalls: []ToolCallDelta{d}}); err != nil {
					return nil, err
				}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text == "" {
					continue
				}
				content.WriteString(d.Text)
				if err := emit(Delta{Content: d.Text}); err != nil {
					return nil, err
				}
			case anthropic.InputJSONDelta:
				if d.PartialJSON == "" {
					continue
				}
				frag := ToolCallDelta{Index: int(ev.Index), Arguments: d.PartialJSON}
				acc.Add(frag)
				if err := emit(Delta{ToolCalls: []ToolCallDelta{frag}}); err != nil {
					return nil, err
				}
			}

		case anthropic.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			usage.Completion += int(ev.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	return &Result{
		Content:    content.String(),
		ToolCalls:  acc.Calls(),
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func classifyAnthropicError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return &retryableError{err: err}
		}
		return err
	}
	return &retryableError{err: fmt.Errorf("API request failed: %w", err)}
}

// toAnthropicMessages splits system messages out into the dedicated
// system field and maps the rest onto Messages API turns. Tool results
// become user-turn tool_result blocks, matching the API's shape for
// returning tool output.
func toAnthropicMessages(msgs []transcript.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch {
		case m.Role == transcript.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case len(m.ToolCalls) > 0:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Function.Arguments), tc.Function.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case m.ToolCallID != "":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case m.Role == transcript.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}

// toolInput passes argument JSON through verbatim, defaulting empty
// arguments to an empty object so the wire payload stays valid.
func toolInput(arguments string) json.RawMessage {
	if strings.TrimSpace(arguments) == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(arguments)
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch req := t.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
