package providers

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// CopilotProvider reaches GitHub Copilot's chat completion API, which
// speaks the OpenAI chat-completions shape over a different base URL and
// header set. It delegates request/response conversion to OpenAIProvider
// and only owns the endpoint and header wiring.
type CopilotProvider struct {
	*OpenAIProvider
}

// CopilotConfig configures a CopilotProvider.
type CopilotConfig struct {
	// Token is the already-exchanged Copilot API token (the gateway's
	// credential loader is responsible for the GitHub OAuth device flow
	// and periodic token refresh upstream of this adapter).
	Token        string
	BaseURL      string // default: https://api.githubcopilot.com
	DefaultModel string
	MaxRetries   int
}

func NewCopilotProvider(cfg CopilotConfig) (*CopilotProvider, error) {
	if cfg.Token == "" {
		return nil, errors.New("copilot: token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.githubcopilot.com"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	base, err := NewOpenAIProvider(OpenAIConfig{
		APIKey: cfg.Token, BaseURL: cfg.BaseURL, DefaultModel: cfg.DefaultModel, MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	base.BaseProvider = NewBaseProvider("copilot", cfg.MaxRetries)
	return &CopilotProvider{OpenAIProvider: base}, nil
}

func (p *CopilotProvider) Name() string { return "copilot" }

// TokenInfo reports the credential as an exchanged token: the copilot API
// token issued from a GitHub OAuth token, short-lived and refreshable.
func (p *CopilotProvider) TokenInfo(ctx context.Context) *TokenInfo {
	return &TokenInfo{Kind: TokenKindExchange, Refreshable: true}
}

// RefreshAuth is a no-op here: token exchange/refresh lives in the
// credential loader that constructs CopilotConfig, which re-creates the
// provider with a fresh token rather than mutating one in place.
func (p *CopilotProvider) RefreshAuth(ctx context.Context) error { return nil }
