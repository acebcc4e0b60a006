package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint
// through langchaingo. This covers the hosted API as well as local
// servers (vLLM, Ollama, TEI-style gateways).
type OpenAIClient struct {
	llm     *openai.LLM
	cfg     Config
	limiter *rate.Limiter
	log     *logging.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAI creates a client for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config, log *logging.Logger) (*OpenAIClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token, use placeholder for local endpoints
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Name),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return &OpenAIClient{
		llm:     llm,
		cfg:     cfg,
		limiter: newLimiter(cfg),
		log:     log.Named("model.openai"),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.cfg.Name
}

// Complete streams one completion.
//
// langchaingo's streaming callback carries text deltas only; tool calls
// arrive assembled in the final response. Each assembled call is
// re-emitted as a single whole fragment so consumers see one uniform
// delta contract across backends.
func (c *OpenAIClient) Complete(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	msgs := toLangchainMessages(req.Messages)
	callOpts := []llms.CallOption{
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	}
	if len(req.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(toLangchainTools(req.Tools)))
	}

	c.log.Debug(ctx, "completion request",
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)))

	return completeWithRetry(ctx, c.cfg.MaxRetries, onDelta, func(ctx context.Context, emit DeltaFunc) (*Result, error) {
		return c.generate(ctx, msgs, callOpts, emit)
	})
}

func (c *OpenAIClient) generate(ctx context.Context, msgs []llms.MessageContent, callOpts []llms.CallOption, emit DeltaFunc) (*Result, error) {
	var emitErr error
	opts := append([]llms.CallOption{}, callOpts...)
	opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(Delta{Content: string(chunk)}); err != nil {
			emitErr = err
			return err
		}
		return nil
	}))

	resp, err := c.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		if emitErr != nil {
			return nil, emitErr
		}
		return nil, classifyHTTPError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from API")
	}

	choice := resp.Choices[0]
	acc := NewAccumulator()
	for i, tc := range choice.ToolCalls {
		d := ToolCallDelta{Index: i, ID: tc.ID}
		if tc.FunctionCall != nil {
			d.Name = tc.FunctionCall.Name
			d.Arguments = tc.FunctionCall.Arguments
		}
		acc.Add(d)
		if err := emit(Delta{ToolCalls: []ToolCallDelta{d}}); err != nil {
			return nil, err
		}
	}

	return &Result{
		Content:    choice.Content,
		ToolCalls:  acc.Calls(),
		StopReason: choice.StopReason,
		Usage:      usageFromInfo(choice.GenerationInfo),
	}, nil
}

var statusCodeRe = regexp.MustCompile(`status code: (\d{3})`)

// classifyHTTPError decides retryability for errors surfaced by
// langchaingo. The library formats HTTP failures into the error string,
// so the status code is only recoverable by inspection; errors without
// one never reached the server and are treated as transient.
func classifyHTTPError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if m := statusCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		if code == http.StatusTooManyRequests || code >= 500 {
			return &retryableError{err: err}
		}
		return err
	}
	return &retryableError{err: fmt.Errorf("API request failed: %w", err)}
}

// usageFromInfo reads token counts out of langchaingo's loosely typed
// generation info. Missing or unexpected values count as zero.
func usageFromInfo(info map[string]any) Usage {
	return Usage{
		Prompt:     intFromInfo(info, "PromptTokens"),
		Completion: intFromInfo(info, "CompletionTokens"),
		Reasoning:  intFromInfo(info, "ReasoningTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func toLangchainMessages(msgs []transcript.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case len(m.ToolCalls) > 0:
			parts := make([]llms.ContentPart, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, llms.MessageContent{Role: roleToChatType(m.Role), Parts: parts})
		case m.ToolCallID != "":
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Content:    m.Content,
				}},
			})
		default:
			out = append(out, llms.MessageContent{
				Role:  roleToChatType(m.Role),
				Parts: []llms.ContentPart{llms.TextContent{Text: m.Content}},
			})
		}
	}
	return out
}

func roleToChatType(r transcript.Role) llms.ChatMessageType {
	switch r {
	case transcript.RoleSystem:
		return llms.ChatMessageTypeSystem
	case transcript.RoleAssistant:
		return llms.ChatMessageTypeAI
	case transcript.RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func toLangchainTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
