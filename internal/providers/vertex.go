package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// VertexProvider adapts Google's Gemini models, reachable either through
// the plain Gemini API (APIKey set) or through Vertex AI (ProjectID set,
// credentials resolved via Application Default Credentials). This mirrors
// the two backends genai.Client supports natively.
type VertexProvider struct {
	BaseProvider
	client       *genai.Client
	defaultModel string
}

// VertexConfig configures a VertexProvider. Set either APIKey (Gemini API)
// or ProjectID+Location (Vertex AI, via ADC) — not both.
type VertexConfig struct {
	APIKey       string
	ProjectID    string
	Location     string
	DefaultModel string
	MaxRetries   int
}

func NewVertexProvider(ctx context.Context, cfg VertexConfig) (*VertexProvider, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{}
	switch {
	case cfg.ProjectID != "":
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = cfg.ProjectID
		if cfg.Location == "" {
			cfg.Location = "us-central1"
		}
		clientCfg.Location = cfg.Location
	case cfg.APIKey != "":
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = cfg.APIKey
	default:
		return nil, errors.New("vertex: either api key or project id is required")
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}

	return &VertexProvider{
		BaseProvider: NewBaseProvider("vertex", cfg.MaxRetries),
		client:       client,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *VertexProvider) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *VertexProvider) buildConfig(req *ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	switch {
	case len(req.SystemTiered) > 0:
		var sb strings.Builder
		for i, tier := range req.SystemTiered {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(tier.Text)
		}
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sb.String()}}}
	case req.SystemText != "":
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemText}}}
	}

	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	if len(req.Tools) > 0 {
		cfg.Tools = p.convertTools(req.Tools)
	}
	return cfg
}

func (p *VertexProvider) convertTools(tools []ToolDef) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name: t.Name, Description: t.Description, ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertMessages prefers RawMessages, translating tool_use/tool_result
// blocks into Gemini's FunctionCall/FunctionResponse parts. Thinking
// blocks are dropped; Gemini has no equivalent content type here.
func (p *VertexProvider) convertMessages(req *ChatRequest) ([]*genai.Content, error) {
	var out []*genai.Content

	if len(req.RawMessages) > 0 {
		for _, m := range req.RawMessages {
			content := &genai.Content{Role: vertexRole(m.Role)}
			for _, b := range m.Content {
				switch b.Type {
				case "thinking":
					continue
				case "text":
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				case "tool_use":
					var args map[string]any
					if len(b.ToolInput) > 0 {
						if err := json.Unmarshal(b.ToolInput, &args); err != nil {
							return nil, fmt.Errorf("vertex: invalid tool_use input: %w", err)
						}
					}
					content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: b.ToolName, Args: args}})
				case "tool_result":
					var response map[string]any
					if err := json.Unmarshal([]byte(b.ToolResult), &response); err != nil {
						response = map[string]any{"result": b.ToolResult, "error": b.IsError}
					}
					content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: b.ToolName, Response: response}})
				}
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		}
		return out, nil
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, &genai.Content{Role: vertexRole(m.Role), Parts: []*genai.Part{{Text: m.Content}}})
	}
	return out, nil
}

func vertexRole(role string) genai.Role {
	if role == "assistant" {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func (p *VertexProvider) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	contents, err := p.convertMessages(req)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}
	cfg := p.buildConfig(req)

	var result *genai.GenerateContentResponse
	retryErr := p.Retry(ctx, func(err error) bool {
		pe, ok := GetProviderError(err)
		return ok && pe.Reason.IsRetryable()
	}, func() error {
		r, err := p.client.Models.GenerateContent(ctx, p.model(req), contents, cfg)
		if err != nil {
			return p.wrapError(err, p.model(req))
		}
		result = r
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	resp := &ChatResponse{Model: p.model(req), StopReason: StopReasonEndTurn}
	if result.UsageMetadata != nil {
		resp.TokensIn = int(result.UsageMetadata.PromptTokenCount)
		resp.TokensOut = int(result.UsageMetadata.CandidatesTokenCount)
	}
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				resp.Content += part.Text
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				resp.ToolCalls = append(resp.ToolCalls, RequestedToolCall{
					ID: "call_" + part.FunctionCall.Name, Name: part.FunctionCall.Name, Input: args,
				})
			}
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopReasonToolUse
	}
	return resp, nil
}

func (p *VertexProvider) SendStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	contents, err := p.convertMessages(req)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}
	cfg := p.buildConfig(req)

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		var tokensOut int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model(req), contents, cfg) {
			if err != nil {
				out <- StreamEvent{Type: StreamEventError, Err: p.wrapError(err, p.model(req))}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				tokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						out <- StreamEvent{Type: StreamEventTextDelta, Text: part.Text}
					}
					if part.FunctionCall != nil {
						args, _ := json.Marshal(part.FunctionCall.Args)
						out <- StreamEvent{Type: StreamEventToolUse, ToolCallID: "call_" + part.FunctionCall.Name,
							ToolCallName: part.FunctionCall.Name, ToolInput: args}
					}
				}
			}
		}
		out <- StreamEvent{Type: StreamEventDone, Model: p.model(req), TokensOut: tokensOut, StopReason: StopReasonEndTurn}
	}()
	return out, nil
}

func (p *VertexProvider) TokenInfo(ctx context.Context) *TokenInfo {
	return &TokenInfo{Kind: TokenKindNone, Refreshable: false}
}

// RefreshAuth is a no-op: Vertex credentials rotate through Application
// Default Credentials; Gemini API keys are static.
func (p *VertexProvider) RefreshAuth(ctx context.Context) error { return nil }

func (p *VertexProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	pe := NewProviderError("vertex", model, err)
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		pe = pe.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403"), strings.Contains(errMsg, "permission denied"):
		pe = pe.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404"), strings.Contains(errMsg, "not found"):
		pe = pe.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"), strings.Contains(errMsg, "quota"):
		pe = pe.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"), strings.Contains(errMsg, "502"), strings.Contains(errMsg, "503"):
		pe = pe.WithStatus(http.StatusServiceUnavailable)
	}
	return pe
}
