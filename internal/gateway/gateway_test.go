package gateway

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
	"github.com/skynetai/skynet/internal/prompt"
	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/runtime"
	"github.com/skynetai/skynet/internal/storage/sqlite"
	"github.com/skynetai/skynet/internal/tools"
)

// fakeSender always returns a canned end-turn response naming the model it
// was asked to use, mirroring internal/runtime's own test double.
type fakeSender struct{ calls int }

func (f *fakeSender) Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	return &providers.ChatResponse{
		Content:    "hello from " + req.Model,
		Model:      req.Model,
		TokensIn:   3,
		TokensOut:  2,
		StopReason: providers.StopReasonEndTurn,
	}, nil
}

func newTestRuntime(t *testing.T) (*runtime.Runtime, *fakeSender) {
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
	sender := &fakeSender{}

	rt := runtime.New(runtime.Deps{
		Router:   sender,
		Prompt:   builder,
		Memory:   mem,
		Identity: idm,
		Tools:    tools.NewRegistry(),
		Skills:   tools.NewSkillReadTool(t.TempDir(), t.TempDir()),
		Hooks:    hooks.NewRegistry(zerolog.Nop()),
		Config:   &config.Config{},
		Log:      zerolog.Nop(),
	}, "claude-sonnet-4-20250514")
	return rt, sender
}
