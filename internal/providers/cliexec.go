package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CLIExecProvider wraps a local command-line model runner (e.g. a vendor
// CLI that reads a prompt on stdin and writes a completion to stdout) as
// a Provider. Grounded on the stdio subprocess plumbing of the MCP stdio
// transport: a single short-lived process per call, stdin/stdout pipes,
// no persistent connection. Stdlib-only — os/exec has no ecosystem
// alternative in the retrieval pack for one-shot subprocess invocation.
type CLIExecProvider struct {
	BaseProvider
	command string
	args    []string
	env     map[string]string
	workDir string
	timeout time.Duration
}

// CLIExecConfig configures a CLIExecProvider.
type CLIExecConfig struct {
	Command    string
	Args       []string
	Env        map[string]string
	WorkDir    string
	Timeout    time.Duration // default 2 minutes
	MaxRetries int
}

func NewCLIExecProvider(cfg CLIExecConfig) (*CLIExecProvider, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("cliexec: command is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CLIExecProvider{
		BaseProvider: NewBaseProvider("cliexec", cfg.MaxRetries),
		command:      cfg.Command,
		args:         cfg.Args,
		env:          cfg.Env,
		workDir:      cfg.WorkDir,
		timeout:      timeout,
	}, nil
}

// cliPrompt is the JSON fed to the wrapped CLI on stdin. The CLI is
// expected to emit a single JSON object matching cliCompletion on stdout.
type cliPrompt struct {
	Model    string       `json:"model,omitempty"`
	System   string       `json:"system,omitempty"`
	Messages []Message    `json:"messages,omitempty"`
	Raw      []RawMessage `json:"raw_messages,omitempty"`
	Tools    []ToolDef    `json:"tools,omitempty"`
}

type cliCompletion struct {
	Content    string              `json:"content"`
	ToolCalls  []RequestedToolCall `json:"tool_calls,omitempty"`
	TokensIn   int                 `json:"tokens_in"`
	TokensOut  int                 `json:"tokens_out"`
	StopReason string              `json:"stop_reason"`
	Error      string              `json:"error,omitempty"`
}

func (p *CLIExecProvider) run(ctx context.Context, req *ChatRequest) (*cliCompletion, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload := cliPrompt{Model: req.Model, System: req.SystemText, Messages: req.Messages, Raw: req.RawMessages, Tools: req.Tools}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("cliexec", req.Model, fmt.Errorf("marshal prompt: %w", err))
	}

	cmd := exec.CommandContext(runCtx, p.command, p.args...)
	if p.workDir != "" {
		cmd.Dir = p.workDir
	}
	cmd.Env = os.Environ()
	for k, v := range p.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, NewProviderError("cliexec", req.Model, fmt.Errorf("%s: %s", p.command, msg))
	}

	var out cliCompletion
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, NewProviderError("cliexec", req.Model, fmt.Errorf("decode output: %w", err))
	}
	if out.Error != "" {
		return nil, NewProviderError("cliexec", req.Model, errors.New(out.Error))
	}
	return &out, nil
}

func (p *CLIExecProvider) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var result *cliCompletion
	retryErr := p.Retry(ctx, func(err error) bool {
		pe, ok := GetProviderError(err)
		return ok && pe.Reason.IsRetryable()
	}, func() error {
		r, err := p.run(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	resp := &ChatResponse{
		Content: result.Content, Model: req.Model, TokensIn: result.TokensIn, TokensOut: result.TokensOut,
		ToolCalls: result.ToolCalls, StopReason: StopReasonEndTurn,
	}
	if result.StopReason == "tool_use" {
		resp.StopReason = StopReasonToolUse
	}
	return resp, nil
}

// SendStream has no incremental output path — the wrapped CLI runs to
// completion, then its single result replays as one delta and a done event.
func (p *CLIExecProvider) SendStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
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

func (p *CLIExecProvider) TokenInfo(ctx context.Context) *TokenInfo {
	return &TokenInfo{Kind: TokenKindNone, Refreshable: false}
}

func (p *CLIExecProvider) RefreshAuth(ctx context.Context) error { return nil }
