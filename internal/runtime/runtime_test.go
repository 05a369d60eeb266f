package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/hooks"
	"github.com/skynetai/skynet/internal/identity"
	"github.com/skynetai/skynet/internal/memory"
	"github.com/skynetai/skynet/internal/policy"
	"github.com/skynetai/skynet/internal/prompt"
	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/storage/sqlite"
	"github.com/skynetai/skynet/internal/tools"
)

// fakeSender always returns a canned end-turn response, echoing the model
// it was asked to use.
type fakeSender struct {
	calls int
}

func (f *fakeSender) Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	return &providers.ChatResponse{
		Content:    "hello from " + req.Model,
		Model:      req.Model,
		TokensIn:   10,
		TokensOut:  5,
		StopReason: providers.StopReasonEndTurn,
	}, nil
}

func newTestRuntime(t *testing.T) (*Runtime, *fakeSender) {
	t.Helper()
	store, err := sqlite.Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	soulPath := filepath.Join(t.TempDir(), "SOUL.md")
	if err := os.WriteFile(soulPath, []byte("You are a helpful assistant."), 0o644); err != nil {
		t.Fatalf("write soul file: %v", err)
	}
	builder, err := prompt.NewBuilder(soulPath)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	mem := memory.NewManager(store, zerolog.Nop(), nil, "claude-haiku")
	idm := identity.NewManager(store, zerolog.Nop())
	registry := tools.NewRegistry()
	skills := tools.NewSkillReadTool(t.TempDir(), t.TempDir())
	hookRegistry := hooks.NewRegistry(zerolog.Nop())
	sender := &fakeSender{}

	rt := New(Deps{
		Router:   sender,
		Prompt:   builder,
		Memory:   mem,
		Identity: idm,
		Tools:    registry,
		Skills:   skills,
		Hooks:    hookRegistry,
		Config:   &config.Config{},
		Policy:   policy.NewResolver(),
		Log:      zerolog.Nop(),
	}, "claude-sonnet-4-20250514")
	return rt, sender
}

func TestProcessRunsTurnAndPersistsHistory(t *testing.T) {
	rt, sender := newTestRuntime(t)
	ctx := context.Background()

	result, err := rt.Process(ctx, Turn{Channel: "discord", Identifier: "user-1", Content: "hi there"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Content != "hello from claude-sonnet-4-20250514" {
		t.Fatalf("content = %q, want the fake sender's canned reply", result.Content)
	}
	if sender.calls != 1 {
		t.Fatalf("sender.calls = %d, want 1", sender.calls)
	}

	userID, err := rt.deps.Identity.Resolve(ctx, "discord", "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	history, err := rt.deps.Memory.GetHistory(ctx, FormatSessionKey(userID, defaultAgentID, defaultSlot), 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d turns, want 2 (user + assistant)", len(history))
	}
}

func TestProcessModelOverrideBeatsDefault(t *testing.T) {
	rt, _ := newTestRuntime(t)
	result, err := rt.Process(context.Background(), Turn{
		Channel: "discord", Identifier: "user-2", Content: "hi", ModelOverride: "opus",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Model != "claude-opus-4-20250514" {
		t.Fatalf("model = %q, want the resolved opus alias", result.Model)
	}
}

func TestSlashModelCommandSwitchesDefaultWithoutCallingSender(t *testing.T) {
	rt, sender := newTestRuntime(t)
	result, err := rt.Process(context.Background(), Turn{Channel: "discord", Identifier: "user-3", Content: "/model opus"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rt.DefaultModel() != "claude-opus-4-20250514" {
		t.Fatalf("DefaultModel() = %q, want opus resolved", rt.DefaultModel())
	}
	if sender.calls != 0 {
		t.Fatalf("a slash command should never reach the sender, got %d calls", sender.calls)
	}
	if result.Content == "" {
		t.Fatalf("expected a non-empty confirmation reply")
	}
}

func TestSlashHelpAndVersionAndTools(t *testing.T) {
	rt, sender := newTestRuntime(t)
	ctx := context.Background()

	if _, err := rt.Process(ctx, Turn{Channel: "ws", Identifier: "conn-1", Content: "/help"}); err != nil {
		t.Fatalf("/help: %v", err)
	}
	if _, err := rt.Process(ctx, Turn{Channel: "ws", Identifier: "conn-1", Content: "/version"}); err != nil {
		t.Fatalf("/version: %v", err)
	}
	out, err := rt.Process(ctx, Turn{Channel: "ws", Identifier: "conn-1", Content: "/tools"})
	if err != nil {
		t.Fatalf("/tools: %v", err)
	}
	if out.Content != "no tools registered" {
		t.Fatalf("content = %q, want no tools registered for an empty registry", out.Content)
	}
	if sender.calls != 0 {
		t.Fatalf("no slash command should reach the sender, got %d calls", sender.calls)
	}
}

func TestSlashClearRemovesHistory(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()
	turn := Turn{Channel: "discord", Identifier: "user-4", Content: "remember this"}
	if _, err := rt.Process(ctx, turn); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	if _, err := rt.Process(ctx, Turn{Channel: "discord", Identifier: "user-4", Content: "/clear"}); err != nil {
		t.Fatalf("/clear: %v", err)
	}

	userID, err := rt.deps.Identity.Resolve(ctx, "discord", "user-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	history, err := rt.deps.Memory.GetHistory(ctx, FormatSessionKey(userID, defaultAgentID, defaultSlot), 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history = %+v, want empty after /clear", history)
	}
}

func TestSameUserAcrossChannelsSharesOneSession(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	userID, err := rt.deps.Identity.Resolve(ctx, "discord", "peer-1")
	if err != nil {
		t.Fatalf("Resolve discord: %v", err)
	}
	if err := rt.deps.Identity.AdminLink(ctx, "admin", "telegram", "peer-1-tg", userID); err != nil {
		t.Fatalf("AdminLink: %v", err)
	}

	if _, err := rt.Process(ctx, Turn{Channel: "discord", Identifier: "peer-1", Content: "hi from discord"}); err != nil {
		t.Fatalf("Process (discord): %v", err)
	}
	if _, err := rt.Process(ctx, Turn{Channel: "telegram", Identifier: "peer-1-tg", Content: "hi from telegram"}); err != nil {
		t.Fatalf("Process (telegram): %v", err)
	}

	session := FormatSessionKey(userID, defaultAgentID, defaultSlot)
	history, err := rt.deps.Memory.GetHistory(ctx, session, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history = %d turns, want 4 (2 user + 2 assistant) sharing one cross-channel session", len(history))
	}
}

func TestResolveModelAliasPassesThroughUnknownNames(t *testing.T) {
	if got := ResolveModelAlias("opus"); got != "claude-opus-4-20250514" {
		t.Fatalf("ResolveModelAlias(opus) = %q", got)
	}
	if got := ResolveModelAlias("claude-3-5-sonnet-20241022"); got != "claude-3-5-sonnet-20241022" {
		t.Fatalf("ResolveModelAlias should pass through a fully-qualified model id unchanged, got %q", got)
	}
}
