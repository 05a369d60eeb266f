package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Qwen's OAuth device-flow token and API endpoints and the public client id
// the reference CLI registers under. Grounded on
// original_source/skynet/crates/skynet-agent/src/qwen_oauth.rs.
const (
	qwenTokenURL  = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenClientID  = "f0304373b74a44d2b584a3fb70ca9e56"
	qwenAPIBase   = "https://portal.qwen.ai/v1"
	qwenTokenSkew = 60 * time.Second
)

// QwenCredentials is the on-disk OAuth credential shape, round-tripped
// byte-for-byte with the reference CLI's credentials.json so the same file
// can be shared between this gateway and that tool.
type QwenCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiryDate   int64  `json:"expiry_date"` // unix millis
	ResourceURL  string `json:"resource_url,omitempty"`
}

func (c QwenCredentials) expiresSoon() bool {
	return time.UnixMilli(c.ExpiryDate).Before(time.Now().Add(qwenTokenSkew))
}

// QwenOAuthProvider reaches Qwen's OpenAI-compatible chat endpoint with a
// bearer token obtained and kept fresh via the refresh_token grant,
// persisting the rotated credentials back to disk on every refresh so a
// restart picks up the latest token rather than the one baked in at
// startup. Delegates wire-format conversion to OpenAIProvider the same way
// CopilotProvider does; unlike Copilot, this adapter owns its own refresh
// loop rather than leaving it to an upstream credential loader, since
// nothing outside this process holds a Qwen session.
type QwenOAuthProvider struct {
	*OpenAIProvider

	credentialsPath string
	tokenURL        string // overridable in tests; defaults to qwenTokenURL

	mu    sync.Mutex
	creds QwenCredentials
}

// QwenOAuthConfig configures a QwenOAuthProvider.
type QwenOAuthConfig struct {
	// CredentialsPath is the JSON file holding the initial (and every
	// subsequently refreshed) QwenCredentials.
	CredentialsPath string
	DefaultModel    string
	MaxRetries      int
}

func NewQwenOAuthProvider(cfg QwenOAuthConfig) (*QwenOAuthProvider, error) {
	if cfg.CredentialsPath == "" {
		return nil, errors.New("qwen: credentials path is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "qwen3-coder-plus"
	}

	raw, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("qwen: read credentials: %w", err)
	}
	var creds QwenCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("qwen: parse credentials: %w", err)
	}

	p := &QwenOAuthProvider{credentialsPath: cfg.CredentialsPath, tokenURL: qwenTokenURL, creds: creds}

	clientCfg := openai.DefaultConfig("")
	clientCfg.BaseURL = qwenAPIBase
	clientCfg.HTTPClient = &http.Client{Transport: &qwenAuthTransport{provider: p, base: http.DefaultTransport}}

	base := &OpenAIProvider{
		BaseProvider: NewBaseProvider("qwen-oauth", cfg.MaxRetries),
		defaultModel: cfg.DefaultModel,
	}
	base.client = openai.NewClientWithConfig(clientCfg)
	p.OpenAIProvider = base
	return p, nil
}

// ensureToken returns a currently-valid access token, refreshing it first
// if it is within qwenTokenSkew of expiry.
func (p *QwenOAuthProvider) ensureToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.creds.expiresSoon() {
		return p.creds.AccessToken, nil
	}

	refreshed, err := p.refreshLocked(ctx, p.creds)
	if err != nil {
		return "", err
	}
	p.creds = refreshed
	return p.creds.AccessToken, nil
}

// refreshLocked performs the refresh_token grant and persists the result
// to credentialsPath. Caller holds p.mu.
func (p *QwenOAuthProvider) refreshLocked(ctx context.Context, current QwenCredentials) (QwenCredentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
		"client_id":     {qwenClientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return QwenCredentials{}, fmt.Errorf("qwen: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return QwenCredentials{}, fmt.Errorf("qwen: refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QwenCredentials{}, fmt.Errorf("qwen: refresh token: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		ResourceURL  string `json:"resource_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return QwenCredentials{}, fmt.Errorf("qwen: decode refresh response: %w", err)
	}

	next := current
	next.AccessToken = body.AccessToken
	if body.RefreshToken != "" {
		next.RefreshToken = body.RefreshToken
	}
	if body.TokenType != "" {
		next.TokenType = body.TokenType
	}
	if body.ResourceURL != "" {
		next.ResourceURL = body.ResourceURL
	}
	next.ExpiryDate = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second).UnixMilli()

	if err := p.persist(next); err != nil {
		return QwenCredentials{}, err
	}
	return next, nil
}

func (p *QwenOAuthProvider) persist(creds QwenCredentials) error {
	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("qwen: marshal credentials: %w", err)
	}
	if err := os.WriteFile(p.credentialsPath, raw, 0o600); err != nil {
		return fmt.Errorf("qwen: persist credentials: %w", err)
	}
	return nil
}

func (p *QwenOAuthProvider) Name() string { return "qwen-oauth" }

// TokenInfo reports the live refresh_token-backed credential, with its
// actual expiry rather than Copilot's opaque exchange token.
func (p *QwenOAuthProvider) TokenInfo(ctx context.Context) *TokenInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &TokenInfo{
		Kind:        TokenKindOAuth,
		ExpiresAt:   time.UnixMilli(p.creds.ExpiryDate).Unix(),
		Refreshable: true,
	}
}

// RefreshAuth forces a refresh regardless of the current token's expiry,
// for callers (health checks, credential rotation tooling) that want to
// confirm the refresh_token itself is still valid.
func (p *QwenOAuthProvider) RefreshAuth(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	refreshed, err := p.refreshLocked(ctx, p.creds)
	if err != nil {
		return err
	}
	p.creds = refreshed
	return nil
}

// qwenAuthTransport injects a freshly-ensured bearer token into every
// outbound request, letting go-openai's static-API-key client shape carry
// a token that actually rotates mid-process.
type qwenAuthTransport struct {
	provider *QwenOAuthProvider
	base     http.RoundTripper
}

func (t *qwenAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.provider.ensureToken(req.Context())
	if err != nil {
		return nil, fmt.Errorf("qwen: ensure token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(req)
}
