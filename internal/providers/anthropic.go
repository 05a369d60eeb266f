package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider talks to the Anthropic Messages API. It is the
// reference implementation of the Anthropic-shape contract in spec.md
// §4.1: system blocks with cache_control markers, typed content blocks
// (text/thinking/tool_use), and x-api-key auth. Every credential, including
// an "sk-ant-oat" OAuth token, is sent as x-api-key; the OAuth prefix only
// changes what TokenInfo reports, and no Bearer or beta header is sent.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	apiKey       string
	isOAuth      bool
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string // required; "sk-ant-oat..." is treated as an OAuth token
	BaseURL      string
	MaxRetries   int
	DefaultModel string
}

// NewAnthropicProvider validates config and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", cfg.MaxRetries),
		client:       anthropic.NewClient(opts...),
		apiKey:       cfg.APIKey,
		isOAuth:      strings.HasPrefix(cfg.APIKey, "sk-ant-oat"),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) maxTokens(req *ChatRequest) int64 {
	if req.MaxTokens <= 0 {
		return 4096
	}
	return int64(req.MaxTokens)
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: p.maxTokens(req),
	}

	switch {
	case len(req.SystemTiered) > 0:
		blocks := make([]anthropic.TextBlockParam, 0, len(req.SystemTiered))
		for _, tier := range req.SystemTiered {
			b := anthropic.TextBlockParam{Type: "text", Text: tier.Text}
			if tier.Cache {
				b.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			blocks = append(blocks, b)
		}
		params.System = blocks
	case req.SystemText != "":
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.SystemText}}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if budget := req.ThinkingLevel.BudgetTokens(); budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}

	return params, nil
}

// convertMessages prefers RawMessages (the tool loop's structured form)
// over the flat Messages form, per spec.md §4.1's union semantics.
func (p *AnthropicProvider) convertMessages(req *ChatRequest) ([]anthropic.MessageParam, error) {
	if len(req.RawMessages) > 0 {
		return p.convertRawMessages(req.RawMessages)
	}
	var out []anthropic.MessageParam
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out, nil
}

// convertRawMessages walks structured content blocks. Thinking blocks from
// a prior assistant turn are stripped before resubmission — Anthropic
// rejects re-sending them, per spec.md §4.1.
func (p *AnthropicProvider) convertRawMessages(raw []RawMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range raw {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case "thinking":
				continue // never resubmit
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case "tool_use":
				var input map[string]any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("anthropic: invalid tool_use input: %w", err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.ToolResult, b.IsError))
			}
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

func (p *AnthropicProvider) convertTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", t.Name, err)
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tp.OfTool == nil {
			return nil, fmt.Errorf("anthropic: tool %s missing definition", t.Name)
		}
		tp.OfTool.Description = anthropic.String(t.Description)
		out = append(out, tp)
	}
	return out, nil
}

// Send performs a non-streaming completion, retrying within this slot per
// BaseProvider.Retry before surfacing the final error to the router.
func (p *AnthropicProvider) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}

	var msg *anthropic.Message
	retryErr := p.Retry(ctx, func(err error) bool {
		pe, ok := GetProviderError(err)
		return ok && pe.Reason.IsRetryable()
	}, func() error {
		m, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return p.wrapError(err, p.model(req))
		}
		msg = m
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	resp := &ChatResponse{
		Model:      string(msg.Model),
		TokensIn:   int(msg.Usage.InputTokens),
		TokensOut:  int(msg.Usage.OutputTokens),
		StopReason: anthropicStopReason(string(msg.StopReason)),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, RequestedToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return resp, nil
}

func anthropicStopReason(s string) StopReason {
	switch s {
	case "tool_use":
		return StopReasonToolUse
	case "max_tokens":
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}

// SendStream streams a completion, translating Anthropic's SSE events into
// the provider-neutral StreamEvent variants.
func (p *AnthropicProvider) SendStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)

		var inputTokens, outputTokens int
		var toolID, toolName string
		var toolInput strings.Builder
		inTool := false

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				inputTokens = int(ms.Message.Usage.InputTokens)
			case "content_block_start":
				cb := event.AsContentBlockStart().ContentBlock
				if cb.Type == "tool_use" {
					tu := cb.AsToolUse()
					toolID, toolName = tu.ID, tu.Name
					toolInput.Reset()
					inTool = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					out <- StreamEvent{Type: StreamEventTextDelta, Text: delta.Text}
				case "thinking_delta":
					out <- StreamEvent{Type: StreamEventThinking, Text: delta.Thinking}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}
			case "content_block_stop":
				if inTool {
					out <- StreamEvent{Type: StreamEventToolUse, ToolCallID: toolID, ToolCallName: toolName,
						ToolInput: json.RawMessage(toolInput.String())}
					inTool = false
				}
			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					outputTokens = int(md.Usage.OutputTokens)
				}
			case "message_stop":
				out <- StreamEvent{Type: StreamEventDone, Model: p.model(req), TokensIn: inputTokens,
					TokensOut: outputTokens, StopReason: StopReasonEndTurn}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamEvent{Type: StreamEventError, Err: p.wrapError(err, p.model(req))}
		}
	}()
	return out, nil
}

// TokenInfo reports the credential shape; static API keys have no expiry.
func (p *AnthropicProvider) TokenInfo(ctx context.Context) *TokenInfo {
	if p.isOAuth {
		return &TokenInfo{Kind: TokenKindOAuth, Refreshable: true}
	}
	return &TokenInfo{Kind: TokenKindAPIKey, Refreshable: false}
}

// RefreshAuth is a no-op: Anthropic API keys and OAuth access tokens used
// here are not refreshed by this adapter (OAuth refresh, when configured,
// is handled by the credential loader that feeds AnthropicConfig.APIKey).
func (p *AnthropicProvider) RefreshAuth(ctx context.Context) error { return nil }

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := (&ProviderError{Provider: "anthropic", Model: model, Cause: err}).WithStatus(apiErr.StatusCode)
		requestID := apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					pe = pe.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					pe = pe.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		if requestID != "" {
			pe = pe.WithRequestID(requestID)
		}
		if pe.Reason == FailoverRateLimit {
			pe = pe.WithRetryAfterMS(0) // always the 5000ms default; the Retry-After header is not read
		}
		return pe
	}
	return NewProviderError("anthropic", model, err)
}
