package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OllamaProvider talks to a local Ollama daemon's NDJSON chat endpoint.
// Stdlib-only: see DESIGN.md — no NDJSON streaming client appears
// anywhere in the retrieval pack, and Ollama's wire format is a small
// enough NDJSON loop that bufio.Scanner is the idiomatic tool either way.
type OllamaProvider struct {
	BaseProvider
	client       *http.Client
	baseURL      string
	defaultModel string
}

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		BaseProvider: NewBaseProvider("ollama", cfg.MaxRetries),
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

func (p *OllamaProvider) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

func (p *OllamaProvider) buildMessages(req *ChatRequest) []ollamaChatMessage {
	var out []ollamaChatMessage

	switch {
	case len(req.SystemTiered) > 0:
		var sb strings.Builder
		for i, tier := range req.SystemTiered {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(tier.Text)
		}
		out = append(out, ollamaChatMessage{Role: "system", Content: sb.String()})
	case req.SystemText != "":
		out = append(out, ollamaChatMessage{Role: "system", Content: req.SystemText})
	}

	if len(req.RawMessages) > 0 {
		toolNames := map[string]string{}
		for _, m := range req.RawMessages {
			for _, b := range m.Content {
				if b.Type == "tool_use" {
					toolNames[b.ToolUseID] = b.ToolName
				}
			}
		}
		for _, m := range req.RawMessages {
			var text strings.Builder
			var calls []ollamaToolCall
			for _, b := range m.Content {
				switch b.Type {
				case "thinking":
					continue
				case "text":
					text.WriteString(b.Text)
				case "tool_use":
					args := b.ToolInput
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					calls = append(calls, ollamaToolCall{ID: b.ToolUseID, Type: "function",
						Function: ollamaToolFunction{Name: b.ToolName, Arguments: args}})
				case "tool_result":
					out = append(out, ollamaChatMessage{Role: "tool", Content: b.ToolResult, ToolName: toolNames[b.ToolUseID]})
				}
			}
			if text.Len() > 0 || len(calls) > 0 {
				out = append(out, ollamaChatMessage{Role: m.Role, Content: text.String(), ToolCalls: calls})
			}
		}
		return out
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *OllamaProvider) buildTools(tools []ToolDef) []ollamaTool {
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, ollamaTool{Type: "function", Function: ollamaToolFunction{Name: t.Name, Arguments: t.InputSchema}})
	}
	return out
}

func (p *OllamaProvider) post(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	model := p.model(req)
	if model == "" {
		return nil, NewProviderError("ollama", "", errors.New("model is required"))
	}

	payload := ollamaChatRequest{Model: model, Stream: stream, Messages: p.buildMessages(req)}
	if len(req.Tools) > 0 {
		payload.Tools = p.buildTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProviderError("ollama", model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}
	return resp, nil
}

func (p *OllamaProvider) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	retryErr := p.Retry(ctx, func(err error) bool {
		pe, ok := GetProviderError(err)
		return ok && pe.Reason.IsRetryable()
	}, func() error {
		httpResp, err := p.post(ctx, req, false)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		var out ollamaChatResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
			return NewProviderError("ollama", p.model(req), fmt.Errorf("decode response: %w", err))
		}
		if out.Error != "" {
			return NewProviderError("ollama", p.model(req), errors.New(out.Error))
		}

		cr := &ChatResponse{Model: p.model(req), TokensIn: out.PromptEvalCount, TokensOut: out.EvalCount, StopReason: StopReasonEndTurn}
		if out.Message != nil {
			cr.Content = out.Message.Content
			for _, tc := range out.Message.ToolCalls {
				id := tc.ID
				if id == "" {
					id = uuid.NewString()
				}
				cr.ToolCalls = append(cr.ToolCalls, RequestedToolCall{ID: id, Name: tc.Function.Name, Input: tc.Function.Arguments})
			}
		}
		if len(cr.ToolCalls) > 0 {
			cr.StopReason = StopReasonToolUse
		}
		resp = cr
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return resp, nil
}

func (p *OllamaProvider) SendStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	httpResp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		emitted := map[string]struct{}{}
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var resp ollamaChatResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				out <- StreamEvent{Type: StreamEventError, Err: NewProviderError("ollama", p.model(req), fmt.Errorf("decode response: %w", err))}
				return
			}
			if resp.Error != "" {
				out <- StreamEvent{Type: StreamEventError, Err: NewProviderError("ollama", p.model(req), errors.New(resp.Error))}
				return
			}
			if resp.Message != nil {
				if resp.Message.Content != "" {
					out <- StreamEvent{Type: StreamEventTextDelta, Text: resp.Message.Content}
				}
				for _, tc := range resp.Message.ToolCalls {
					id := tc.ID
					if id == "" {
						id = tc.Function.Name + ":" + string(tc.Function.Arguments)
					}
					if _, ok := emitted[id]; ok {
						continue
					}
					emitted[id] = struct{}{}
					args := tc.Function.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					out <- StreamEvent{Type: StreamEventToolUse, ToolCallID: tc.ID, ToolCallName: tc.Function.Name, ToolInput: args}
				}
			}
			if resp.Done {
				out <- StreamEvent{Type: StreamEventDone, Model: p.model(req), TokensIn: resp.PromptEvalCount, TokensOut: resp.EvalCount, StopReason: StopReasonEndTurn}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamEvent{Type: StreamEventError, Err: NewProviderError("ollama", p.model(req), err)}
		}
	}()
	return out, nil
}

func (p *OllamaProvider) TokenInfo(ctx context.Context) *TokenInfo {
	return &TokenInfo{Kind: TokenKindNone, Refreshable: false}
}

func (p *OllamaProvider) RefreshAuth(ctx context.Context) error { return nil }
