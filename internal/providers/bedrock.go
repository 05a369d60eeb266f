package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockProvider reaches Anthropic and other foundation models hosted on
// AWS Bedrock via the Converse API. Per spec.md §9, Bedrock is wired
// non-streaming only: SendStream synthesizes a single-chunk stream rather
// than using ConverseStream, since the gateway's only Bedrock deployments
// observed so far sit behind VPC endpoints that don't carry event-stream
// framing reliably.
type BedrockProvider struct {
	BaseProvider
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures a BedrockProvider. AccessKeyID/SecretAccessKey
// are optional; when empty the default AWS credential chain is used (env,
// shared config, IAM role).
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &BedrockProvider{
		BaseProvider: NewBaseProvider("bedrock", cfg.MaxRetries),
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *BedrockProvider) buildInput(req *ChatRequest) (*bedrockruntime.ConverseInput, error) {
	messages, err := p.convertMessages(req)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model(req)),
		Messages: messages,
	}

	switch {
	case len(req.SystemTiered) > 0:
		var sb strings.Builder
		for i, tier := range req.SystemTiered {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(tier.Text)
		}
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: sb.String()}}
	case req.SystemText != "":
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemText}}
	}

	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}

	if len(req.Tools) > 0 {
		toolSpecs := make([]types.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any
			if len(t.InputSchema) > 0 {
				if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
					return nil, fmt.Errorf("bedrock: invalid schema for %s: %w", t.Name, err)
				}
			}
			toolSpecs = append(toolSpecs, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: toolSpecs}
	}

	return input, nil
}

func (p *BedrockProvider) convertMessages(req *ChatRequest) ([]types.Message, error) {
	var out []types.Message

	if len(req.RawMessages) > 0 {
		for _, m := range req.RawMessages {
			var content []types.ContentBlock
			for _, b := range m.Content {
				switch b.Type {
				case "thinking":
					continue
				case "text":
					content = append(content, &types.ContentBlockMemberText{Value: b.Text})
				case "tool_use":
					var input any
					if len(b.ToolInput) > 0 {
						_ = json.Unmarshal(b.ToolInput, &input)
					}
					content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: aws.String(b.ToolUseID),
						Name:      aws.String(b.ToolName),
						Input:     document.NewLazyDocument(input),
					}})
				case "tool_result":
					content = append(content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
						ToolUseId: aws.String(b.ToolUseID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: b.ToolResult}},
					}})
				}
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, types.Message{Role: bedrockRole(m.Role), Content: content})
		}
		return out, nil
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, types.Message{
			Role:    bedrockRole(m.Role),
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out, nil
}

func bedrockRole(role string) types.ConversationRole {
	if role == "assistant" {
		return types.ConversationRoleAssistant
	}
	return types.ConversationRoleUser
}

func (p *BedrockProvider) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}

	var out *bedrockruntime.ConverseOutput
	retryErr := p.Retry(ctx, func(err error) bool {
		pe, ok := GetProviderError(err)
		return ok && pe.Reason.IsRetryable()
	}, func() error {
		o, err := p.client.Converse(ctx, input)
		if err != nil {
			return p.wrapError(err, p.model(req))
		}
		out = o
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	resp := &ChatResponse{Model: p.model(req), StopReason: bedrockStopReason(out.StopReason)}
	if out.Usage != nil {
		resp.TokensIn = int(aws.ToInt32(out.Usage.InputTokens))
		resp.TokensOut = int(aws.ToInt32(out.Usage.OutputTokens))
	}

	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError("bedrock", p.model(req), errors.New("unexpected converse output shape"))
	}
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content += v.Value
		case *types.ContentBlockMemberToolUse:
			var input map[string]any
			_ = v.Value.Input.UnmarshalSmithyDocument(&input)
			raw, _ := json.Marshal(input)
			resp.ToolCalls = append(resp.ToolCalls, RequestedToolCall{
				ID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Input: raw,
			})
		}
	}
	return resp, nil
}

func bedrockStopReason(r types.StopReason) StopReason {
	switch r {
	case types.StopReasonToolUse:
		return StopReasonToolUse
	case types.StopReasonMaxTokens:
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}

// SendStream has no native streaming path wired (see type doc); it sends
// once and replays the full response as a single text delta plus done.
func (p *BedrockProvider) SendStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	resp, err := p.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent, 2+len(resp.ToolCalls))
	if resp.Content != "" {
		out <- StreamEvent{Type: StreamEventTextDelta, Text: resp.Content}
	}
	for _, tc := range resp.ToolCalls {
		out <- StreamEvent{Type: StreamEventToolUse, ToolCallID: tc.ID, ToolCallName: tc.Name, ToolInput: tc.Input}
	}
	out <- StreamEvent{Type: StreamEventDone, Model: resp.Model, TokensIn: resp.TokensIn, TokensOut: resp.TokensOut, StopReason: resp.StopReason}
	close(out)
	return out, nil
}

func (p *BedrockProvider) TokenInfo(ctx context.Context) *TokenInfo {
	return &TokenInfo{Kind: TokenKindNone, Refreshable: false}
}

// RefreshAuth is a no-op: credential rotation is handled by the AWS SDK's
// own credential chain (env/IAM role), not by this adapter.
func (p *BedrockProvider) RefreshAuth(ctx context.Context) error { return nil }

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	errStr := strings.ToLower(err.Error())
	pe := NewProviderError("bedrock", model, err)
	switch {
	case strings.Contains(errStr, "throttlingexception"), strings.Contains(errStr, "toomanyrequestsexception"):
		pe.Reason = FailoverRateLimit
	case strings.Contains(errStr, "accessdeniedexception"), strings.Contains(errStr, "unrecognizedclientexception"):
		pe.Reason = FailoverAuth
	case strings.Contains(errStr, "serviceunavailableexception"), strings.Contains(errStr, "internalserverexception"):
		pe.Reason = FailoverServerError
	case strings.Contains(errStr, "modelnotreadyexception"), strings.Contains(errStr, "resourcenotfoundexception"):
		pe.Reason = FailoverModelUnavailable
	case strings.Contains(errStr, "validationexception"):
		pe.Reason = FailoverInvalidRequest
	}
	return pe
}
