package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts any OpenAI-compatible chat completions endpoint
// (OpenAI proper, or a compatible gateway reached via BaseURL).
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // non-empty to target an OpenAI-compatible gateway
	MaxRetries   int
	DefaultModel string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", cfg.MaxRetries),
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest, stream bool) (openai.ChatCompletionRequest, error) {
	messages, err := p.convertMessages(req)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	out := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: messages,
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		out.Tools = p.convertTools(req.Tools)
	}
	return out, nil
}

// convertMessages flattens system tiers into a single leading system
// message — OpenAI has no cache_control concept, so tier boundaries only
// matter to Anthropic; here they are concatenated in order.
func (p *OpenAIProvider) convertMessages(req *ChatRequest) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage

	if len(req.SystemTiered) > 0 {
		var sb strings.Builder
		for i, tier := range req.SystemTiered {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(tier.Text)
		}
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sb.String()})
	} else if req.SystemText != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemText})
	}

	if len(req.RawMessages) > 0 {
		for _, m := range req.RawMessages {
			msgs, err := p.convertRawMessage(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msgs...)
		}
		return out, nil
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// convertRawMessage expands one structured turn into OpenAI's flatter
// shape: tool_use blocks become assistant ToolCalls, tool_result blocks
// become separate role=tool messages (OpenAI requires one message per
// result, unlike Anthropic's inline tool_result content blocks).
func (p *OpenAIProvider) convertRawMessage(m RawMessage) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	var text strings.Builder
	var toolCalls []openai.ToolCall
	var toolResults []openai.ChatCompletionMessage

	for _, b := range m.Content {
		switch b.Type {
		case "thinking":
			continue
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ToolUseID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      b.ToolName,
					Arguments: string(b.ToolInput),
				},
			})
		case "tool_result":
			toolResults = append(toolResults, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    b.ToolResult,
				ToolCallID: b.ToolUseID,
			})
		}
	}

	if text.Len() > 0 || len(toolCalls) > 0 {
		msg := openai.ChatCompletionMessage{Role: m.Role, Content: text.String()}
		if m.Role == "assistant" {
			msg.ToolCalls = toolCalls
		}
		out = append(out, msg)
	}
	out = append(out, toolResults...)
	return out, nil
}

func (p *OpenAIProvider) convertTools(tools []ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params, err := p.buildRequest(req, false)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}

	var completion openai.ChatCompletionResponse
	retryErr := p.Retry(ctx, func(err error) bool {
		pe, ok := GetProviderError(err)
		return ok && pe.Reason.IsRetryable()
	}, func() error {
		c, err := p.client.CreateChatCompletion(ctx, params)
		if err != nil {
			return p.wrapError(err, p.model(req))
		}
		completion = c
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if len(completion.Choices) == 0 {
		return nil, NewProviderError(p.Name(), p.model(req), errors.New("empty choices"))
	}

	choice := completion.Choices[0]
	resp := &ChatResponse{
		Content:    choice.Message.Content,
		Model:      completion.Model,
		TokensIn:   completion.Usage.PromptTokens,
		TokensOut:  completion.Usage.CompletionTokens,
		StopReason: openaiStopReason(string(choice.FinishReason)),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, RequestedToolCall{
			ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func openaiStopReason(s string) StopReason {
	switch s {
	case "tool_calls":
		return StopReasonToolUse
	case "length":
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}

func (p *OpenAIProvider) SendStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	params, err := p.buildRequest(req, true)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		type building struct {
			id, name string
			args     strings.Builder
		}
		calls := map[int]*building{}
		var tokensOut int

		for {
			chunk, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					indices := make([]int, 0, len(calls))
					for idx := range calls {
						indices = append(indices, idx)
					}
					sort.Ints(indices)
					for _, idx := range indices {
						c := calls[idx]
						out <- StreamEvent{Type: StreamEventToolUse, ToolCallID: c.id, ToolCallName: c.name,
							ToolInput: json.RawMessage(c.args.String())}
					}
					out <- StreamEvent{Type: StreamEventDone, Model: p.model(req), TokensOut: tokensOut, StopReason: StopReasonEndTurn}
					return
				}
				out <- StreamEvent{Type: StreamEventError, Err: p.wrapError(err, p.model(req))}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				tokensOut++
				out <- StreamEvent{Type: StreamEventTextDelta, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				b := calls[idx]
				if b == nil {
					b = &building{}
					calls[idx] = b
				}
				if tc.ID != "" {
					b.id = tc.ID
				}
				if tc.Function.Name != "" {
					b.name = tc.Function.Name
				}
				b.args.WriteString(tc.Function.Arguments)
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) TokenInfo(ctx context.Context) *TokenInfo {
	return &TokenInfo{Kind: TokenKindAPIKey, Refreshable: false}
}

func (p *OpenAIProvider) RefreshAuth(ctx context.Context) error { return nil }

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := (&ProviderError{Provider: p.Name(), Model: model, Cause: err}).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			pe = pe.WithMessage(apiErr.Message)
		}
		if apiErr.Code != nil {
			if code, ok := apiErr.Code.(string); ok {
				pe = pe.WithCode(code)
			}
		}
		return pe
	}
	return NewProviderError(p.Name(), model, err)
}
