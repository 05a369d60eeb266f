package main

import (
	"context"
	"fmt"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/skynetai/skynet/internal/channels"
	"github.com/skynetai/skynet/internal/channels/discord"
	"github.com/skynetai/skynet/internal/channels/telegram"
	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/gateway"
	"github.com/skynetai/skynet/internal/hooks"
	"github.com/skynetai/skynet/internal/identity"
	"github.com/skynetai/skynet/internal/memory"
	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/policy"
	"github.com/skynetai/skynet/internal/prompt"
	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/router"
	"github.com/skynetai/skynet/internal/runtime"
	"github.com/skynetai/skynet/internal/safety"
	"github.com/skynetai/skynet/internal/scheduler"
	"github.com/skynetai/skynet/internal/storage/sqlite"
	"github.com/skynetai/skynet/internal/tools"
)

// buildServeCmd is the composition root: it wires every internal package
// into one running process. Grounded on the teacher's commands_serve.go +
// handlers_serve.go split (cobra command delegates to a runServe function
// that owns the signal-driven lifecycle), collapsed into one file since
// this binary has one server, not the teacher's plugin/edge/RAG mesh.
func buildServeCmd(log zerolog.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: WebSocket/OpenAI-compat/webhook HTTP, channel bots, and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), log, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to skynet.toml (default: $SKYNET_CONFIG or ~/.skynet/skynet.toml)")
	return cmd
}

func runServe(ctx context.Context, log zerolog.Logger, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.Path, log)
	if err != nil {
		return fmt.Errorf("serve: open storage: %w", err)
	}
	defer store.Close()

	// The scheduler keeps its own connection per internal/storage/sqlite's
	// independent-connection convention for the tick engine, so a long
	// migration or a busy turn pipeline never stalls job delivery.
	schedStore, err := sqlite.Open(cfg.Storage.Path, log)
	if err != nil {
		return fmt.Errorf("serve: open scheduler storage: %w", err)
	}
	defer schedStore.Close()

	idMgr := identity.NewManager(store, log)

	slots, err := buildProviderSlots(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("serve: build providers: %w", err)
	}
	if len(slots) == 0 {
		log.Warn().Msg("serve: no providers configured, every turn will fail over to nothing")
	}
	chatRouter := router.NewRouter(nil, slots...)

	memMgr := memory.NewManager(store, log, chatRouter, cfg.Agent.Model)

	promptBuilder, err := prompt.NewBuilder(cfg.Agent.SoulPath)
	if err != nil {
		return fmt.Errorf("serve: build prompt: %w", err)
	}

	hookRegistry := hooks.NewRegistry(log)

	schedHandle := scheduler.NewHandle(schedStore)
	schedEngine := scheduler.NewEngine(schedStore, log, 32)
	if err := schedEngine.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("serve: scheduler recovery failed")
	}

	toolRegistry := tools.NewRegistry()
	skillTool := tools.NewSkillReadTool(cfg.Agent.WorkspacePath, cfg.Agent.WorkspacePath)
	registerBuiltinTools(toolRegistry, skillTool, cfg, memMgr, idMgr, schedHandle)

	rt := runtime.New(runtime.Deps{
		Router:   chatRouter,
		Prompt:   promptBuilder,
		Memory:   memMgr,
		Identity: idMgr,
		Tools:    toolRegistry,
		Skills:   skillTool,
		Hooks:    hookRegistry,
		Config:   cfg,
		Policy:   policy.NewResolver(),
		Log:      log,
	}, cfg.Agent.Model)

	chanRegistry := channels.NewRegistry()
	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{Token: cfg.Channels.Discord.Token, Logger: log})
		if err != nil {
			return fmt.Errorf("serve: discord adapter: %w", err)
		}
		chanRegistry.Register(adapter)
	}
	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{Token: cfg.Channels.Telegram.Token, Logger: log})
		if err != nil {
			return fmt.Errorf("serve: telegram adapter: %w", err)
		}
		chanRegistry.Register(adapter)
	}
	if err := chanRegistry.StartAll(ctx); err != nil {
		return fmt.Errorf("serve: start channel adapters: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Bind:      cfg.Gateway.Bind,
		Port:      cfg.Gateway.Port,
		AuthToken: cfg.Gateway.Auth,
		Webhooks:  cfg.Webhooks,
		Runtime:   rt,
		Log:       log,
	})

	deliveryRunner := &shellCommandRunner{log: log.With().Str("component", "scheduler.runner").Logger()}
	deliveryRouter := scheduler.NewRouter(log, deliveryRunner)
	deliveryRouter.Register("ws", gw.Hub())
	for _, t := range []channels.Type{channels.TypeDiscord, channels.TypeTelegram} {
		if out, ok := chanRegistry.GetOutbound(t); ok {
			deliveryRouter.Register(string(t), &channelDispatcher{out: out})
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		deliveryRouter.Run(ctx, schedEngine.Fired())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		schedEngine.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pumpInboundMessages(ctx, log, chanRegistry, rt)
	}()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("serve: start gateway: %w", err)
	}

	log.Info().Str("bind", cfg.Gateway.Bind).Int("port", cfg.Gateway.Port).Msg("serve: listening")

	<-ctx.Done()
	log.Info().Msg("serve: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("serve: gateway shutdown error")
	}
	if err := chanRegistry.StopAll(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("serve: channel shutdown error")
	}
	wg.Wait()
	return nil
}

// pumpInboundMessages feeds every channel adapter's aggregated inbound
// stream into the runtime, routing each reply back out through the
// adapter that originated the message.
func pumpInboundMessages(ctx context.Context, log zerolog.Logger, registry *channels.Registry, rt *runtime.Runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-registry.Aggregate(ctx):
			if !ok {
				return
			}
			go deliverInbound(ctx, log, registry, rt, msg)
		}
	}
}

func deliverInbound(ctx context.Context, log zerolog.Logger, registry *channels.Registry, rt *runtime.Runtime, msg channels.Message) {
	result, err := rt.Process(ctx, runtime.Turn{
		Channel:    string(msg.Channel),
		Identifier: msg.Identifier,
		Content:    msg.Content,
	})
	if err != nil {
		log.Warn().Err(err).Str("channel", string(msg.Channel)).Msg("serve: process turn failed")
		return
	}
	out, ok := registry.GetOutbound(msg.Channel)
	if !ok {
		return
	}
	if err := out.Send(ctx, channels.Outbound{Identifier: msg.Identifier, Content: result.Content}); err != nil {
		log.Warn().Err(err).Str("channel", string(msg.Channel)).Msg("serve: reply send failed")
	}
}

// channelDispatcher adapts a channels.OutboundAdapter into the
// scheduler's Dispatcher interface, so a fired reminder/proactive job can
// be delivered through the same Discord/Telegram adapters a live turn
// replies through.
type channelDispatcher struct {
	out channels.OutboundAdapter
}

func (d *channelDispatcher) Deliver(ctx context.Context, action scheduler.Action, job *models.Job) error {
	return d.out.Send(ctx, channels.Outbound{Identifier: action.Target, Content: action.Message})
}

// shellCommandRunner executes a fired job's bash_command payload through
// the same allowlist/denylist safety.CheckCommand gate the bash and
// execute_command tools use, rather than a raw os/exec passthrough.
type shellCommandRunner struct {
	log zerolog.Logger
}

func (r *shellCommandRunner) Run(ctx context.Context, command string) (stdout, stderr string, err error) {
	verdict := safety.CheckCommand(command)
	if !verdict.Allowed {
		return "", "", fmt.Errorf("command blocked: %s", verdict.Reason)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	return outBuf.String(), errBuf.String(), runErr
}

// buildProviderSlots translates config.ProvidersConfig into router.Slot
// entries in the configured Order, skipping disabled entries and names
// absent from Providers. An unrecognized provider kind or a constructor
// error for any enabled entry fails the whole build.
func buildProviderSlots(ctx context.Context, cfg config.ProvidersConfig) ([]router.Slot, error) {
	order := cfg.Order
	if len(order) == 0 {
		for name := range cfg.Providers {
			order = append(order, name)
		}
	}

	var slots []router.Slot
	for _, name := range order {
		cred, ok := cfg.Providers[name]
		if !ok || !cred.Enabled {
			continue
		}
		provider, err := buildProvider(ctx, name, cred)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		if provider != nil {
			slots = append(slots, router.Slot{Provider: provider})
		}
	}
	return slots, nil
}

func buildProvider(ctx context.Context, name string, cred config.ProviderCredential) (providers.Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     cred.APIKey,
			BaseURL:    cred.BaseURL,
			MaxRetries: cred.MaxRetries,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:     cred.APIKey,
			BaseURL:    cred.BaseURL,
			MaxRetries: cred.MaxRetries,
		})
	case "bedrock":
		return providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:     cred.Region,
			MaxRetries: cred.MaxRetries,
		})
	case "vertex":
		return providers.NewVertexProvider(ctx, providers.VertexConfig{
			APIKey:     cred.APIKey,
			ProjectID:  cred.ProjectID,
			Location:   cred.Region,
			MaxRetries: cred.MaxRetries,
		})
	case "copilot":
		return providers.NewCopilotProvider(providers.CopilotConfig{
			Token:      cred.APIKey,
			BaseURL:    cred.BaseURL,
			MaxRetries: cred.MaxRetries,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:    cred.BaseURL,
			MaxRetries: cred.MaxRetries,
		}), nil
	case "cli":
		return providers.NewCLIExecProvider(providers.CLIExecConfig{
			Command:    cred.BaseURL,
			MaxRetries: cred.MaxRetries,
		})
	case "qwen":
		return providers.NewQwenOAuthProvider(providers.QwenOAuthConfig{
			CredentialsPath: cred.CredentialsPath,
			MaxRetries:      cred.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", name)
	}
}
