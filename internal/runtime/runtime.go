// Package runtime composes the current provider router, the prompt
// builder, and a mutable default-model string into the per-turn pipeline
// spec.md §4.9 describes: resolve identity, intercept slash commands,
// build tools and a tiered prompt, run the tool loop, persist history, and
// spawn compaction. Grounded on internal/agent/runtime.go's overall
// Process/lockSession shape, reduced from its policy/approval/streaming
// machinery down to the sequential algorithm spec.md actually names — that
// richness belongs to a product built around the teacher's own approval
// workflow, not this one.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/hooks"
	"github.com/skynetai/skynet/internal/identity"
	"github.com/skynetai/skynet/internal/memory"
	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/policy"
	"github.com/skynetai/skynet/internal/prompt"
	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/tools"
	"github.com/skynetai/skynet/internal/toolloop"
)

// historyWindow is how many turns of session history are loaded before
// appending the current user message, per spec.md §4.9 step 6.
const historyWindow = 40

// hotTopicsWindowDays/hotTopicsLimit bound the "Hot topics" line
// injected into T3 every turn, per spec.md §4.6.
const (
	hotTopicsWindowDays = 7
	hotTopicsLimit      = 5
)

// modelAliases maps the short names /model accepts to canonical provider
// model IDs, matching the one canonical ID already hard-coded as this
// module's default (internal/config.defaults, internal/providers/anthropic.go).
var modelAliases = map[string]string{
	"opus":   "claude-opus-4-20250514",
	"sonnet": "claude-sonnet-4-20250514",
	"haiku":  "claude-haiku-4-20250514",
}

// ResolveModelAlias maps alias to its canonical model ID. If alias isn't a
// known short name, it's returned unchanged — callers may already pass a
// fully-qualified model ID.
func ResolveModelAlias(alias string) string {
	if canonical, ok := modelAliases[strings.ToLower(strings.TrimSpace(alias))]; ok {
		return canonical
	}
	return alias
}

// Deps is the capability bundle the runtime is built from. Every field is
// an interface handle shared with other subsystems — the runtime never
// reaches for a global, per spec.md's Design Notes.
type Deps struct {
	Router   toolloop.Sender
	Prompt   *prompt.Builder
	Memory   *memory.Manager
	Identity *identity.Manager
	Tools    *tools.Registry
	Skills   *tools.SkillReadTool
	Hooks    *hooks.Registry
	Config   *config.Config
	Policy   *policy.Resolver
	Log      zerolog.Logger
}

// sessionLock is a refcounted per-session mutex, so concurrent turns on
// the same session serialize while turns on different sessions never
// block each other. Grounded on internal/agent/runtime.go's
// sessionLock/lockSession pair, copied verbatim in shape.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Runtime drives one turn of the pipeline. Safe for concurrent use across
// sessions; same-session turns are serialized via lockSession.
type Runtime struct {
	deps Deps

	modelMu      sync.RWMutex
	defaultModel string

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sessionLock
}

// New builds a Runtime over deps, defaulting to defaultModel (typically
// config.AgentConfig.Model).
func New(deps Deps, defaultModel string) *Runtime {
	return &Runtime{
		deps:         deps,
		defaultModel: defaultModel,
		sessionLocks: make(map[string]*sessionLock),
	}
}

// DefaultModel returns the runtime's current default model.
func (r *Runtime) DefaultModel() string {
	r.modelMu.RLock()
	defer r.modelMu.RUnlock()
	return r.defaultModel
}

// SetDefaultModel swaps the runtime's default model, e.g. from a /model
// slash command.
func (r *Runtime) SetDefaultModel(model string) {
	r.modelMu.Lock()
	r.defaultModel = model
	r.modelMu.Unlock()
}

func (r *Runtime) lockSession(sessionKey string) func() {
	if strings.TrimSpace(sessionKey) == "" {
		return func() {}
	}

	r.sessionLocksMu.Lock()
	lock := r.sessionLocks[sessionKey]
	if lock == nil {
		lock = &sessionLock{}
		r.sessionLocks[sessionKey] = lock
	}
	lock.refs++
	r.sessionLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.sessionLocksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(r.sessionLocks, sessionKey)
		}
		r.sessionLocksMu.Unlock()
	}
}

// Turn is one inbound message to process.
type Turn struct {
	Channel       string // "discord", "telegram", "ws", ...
	Identifier    string // channel-scoped user identifier (discord user id, chat id, connection id)
	Content       string
	ModelOverride string // per-request model override, takes priority over the runtime default
}

// ProcessedMessage is the pipeline's result, per spec.md §4.9 step 11.
type ProcessedMessage struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason providers.StopReason
}

// SessionInfo is the resolved identity of the turn currently executing,
// made available to tools (link_identity, reminder) that need to know who
// is calling and where to deliver an asynchronous reply without the
// registry threading that state through every Execute call individually.
type SessionInfo struct {
	UserID     string
	Channel    string
	Identifier string
}

type sessionInfoKey struct{}

func withSessionInfo(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionInfoKey{}, info)
}

// SessionInfoFromContext returns the calling turn's resolved identity, if
// Process has run on ctx. ok is false outside a turn (e.g. a CLI command
// invoking a tool directly).
func SessionInfoFromContext(ctx context.Context) (SessionInfo, bool) {
	info, ok := ctx.Value(sessionInfoKey{}).(SessionInfo)
	return info, ok
}

// Process runs the full turn pipeline described in spec.md §4.9.
func (r *Runtime) Process(ctx context.Context, turn Turn) (*ProcessedMessage, error) {
	// Step 1: resolve identity, build session_key.
	userID, err := r.deps.Identity.Resolve(ctx, turn.Channel, turn.Identifier)
	if err != nil {
		return nil, fmt.Errorf("runtime: resolve identity: %w", err)
	}
	session := FormatSessionKey(userID, defaultAgentID, defaultSlot)
	ctx = withSessionInfo(ctx, SessionInfo{UserID: userID, Channel: turn.Channel, Identifier: turn.Identifier})

	unlock := r.lockSession(session)
	defer unlock()

	if err := r.deps.Memory.EnsureSession(ctx, session, userID, defaultAgentID); err != nil {
		r.deps.Log.Warn().Err(err).Str("session", session).Msg("ensure session failed, continuing")
	}

	// Step 2: intercept slash commands before spending a provider call.
	if reply, handled := r.handleSlashCommand(ctx, turn, session); handled {
		return reply, nil
	}

	user, err := r.deps.Identity.GetUser(ctx, userID)
	if err != nil {
		r.deps.Log.Warn().Err(err).Str("user_id", userID).Msg("load user for policy check failed, continuing unrestricted")
		user = nil
	}

	// Step 3: tool set is already closed over shared context at
	// construction (r.deps.Tools); filter it down to what this user's
	// capability flags, content filter, and approval state permit.
	allDefs := r.deps.Tools.Defs()
	visibleDefs := allDefs
	deniedTools := map[string]bool{}
	if r.deps.Policy != nil {
		visibleDefs = r.deps.Policy.VisibleDefs(user, allDefs)
		visibleSet := make(map[string]bool, len(visibleDefs))
		for _, d := range visibleDefs {
			visibleSet[d.Name] = true
		}
		for _, d := range allDefs {
			if !visibleSet[d.Name] {
				deniedTools[strings.ToLower(d.Name)] = true
			}
		}
	}

	// Step 4: tiered prompt, with hot knowledge and the skill index folded
	// into T3.
	userContext, err := r.deps.Memory.BuildUserContext(ctx, userID)
	if err != nil {
		r.deps.Log.Warn().Err(err).Str("user_id", userID).Msg("build user context failed, continuing without it")
	}
	hotTopics, err := r.deps.Memory.GetHotTopics(ctx, hotTopicsWindowDays, hotTopicsLimit)
	if err != nil {
		r.deps.Log.Warn().Err(err).Msg("get hot topics failed, continuing without them")
	}
	var skillIndex []string
	if r.deps.Skills != nil {
		skillIndex = r.deps.Skills.Names()
	}
	turnCount, err := r.deps.Memory.CountTurns(ctx, session)
	if err != nil {
		r.deps.Log.Warn().Err(err).Str("session", session).Msg("count turns failed")
	}
	volatile := prompt.Volatile{
		SessionID:  session,
		TurnCount:  turnCount,
		Now:        time.Now(),
		HotTopics:  hotTopics,
		SkillIndex: skillIndex,
	}
	systemTiers := r.deps.Prompt.BuildStructured(userContext, volatile)

	// Step 5: resolve effective model — per-request override beats the
	// runtime default.
	model := r.DefaultModel()
	if turn.ModelOverride != "" {
		model = ResolveModelAlias(turn.ModelOverride)
	}

	// Step 6: load history, append the current user message.
	history, err := r.deps.Memory.GetHistory(ctx, session, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("runtime: get history: %w", err)
	}
	rawMessages := historyToRawMessages(history)
	rawMessages = append(rawMessages, providers.RawMessage{
		Role:    "user",
		Content: []providers.ContentBlock{{Type: "text", Text: turn.Content}},
	})

	req := providers.ChatRequest{
		Model:        model,
		SystemTiered: systemTiers,
		RawMessages:  rawMessages,
		Tools:        visibleDefs,
	}

	if r.deps.Hooks != nil {
		beforeCtx := &hooks.Context{Event: hooks.EventLLMInput, SessionKey: session, ChannelID: turn.Channel,
			Payload: map[string]any{"model": model, "content": turn.Content}}
		if blocked, reason := r.deps.Hooks.Emit(ctx, beforeCtx); blocked {
			return &ProcessedMessage{Content: "blocked: " + reason, Model: model, StopReason: providers.StopReasonStop}, nil
		}
	}

	// Step 7: invoke the tool loop.
	result, err := toolloop.Run(ctx, r.deps.Router, policyFilteredRegistry{reg: toolLoopRegistry{r.deps.Tools}, denied: deniedTools}, r.deps.Log, req)
	if err != nil {
		if r.deps.Hooks != nil {
			r.deps.Hooks.Emit(ctx, &hooks.Context{Event: hooks.EventLLMError, SessionKey: session, ChannelID: turn.Channel, Err: err})
		}
		return nil, fmt.Errorf("runtime: tool loop: %w", err)
	}

	// Step 8: log every invoked tool name.
	for _, name := range result.ToolsInvoked {
		if logErr := r.deps.Memory.LogToolCall(ctx, name, session); logErr != nil {
			r.deps.Log.Warn().Err(logErr).Str("tool", name).Msg("log tool call failed")
		}
	}

	// Step 9: persist user turn then assistant turn.
	userMsg := &models.ConversationMessage{
		UserID: userID, SessionKey: session, Channel: turn.Channel,
		Role: models.MessageRoleUser, Content: turn.Content,
	}
	if err := r.deps.Memory.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("runtime: save user message: %w", err)
	}
	assistantMsg := &models.ConversationMessage{
		UserID: userID, SessionKey: session, Channel: turn.Channel,
		Role: models.MessageRoleAssistant, Content: result.Response.Content,
		ModelUsed: result.Response.Model, TokensIn: result.Response.TokensIn, TokensOut: result.Response.TokensOut,
	}
	if err := r.deps.Memory.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("runtime: save assistant message: %w", err)
	}

	// Step 10: compaction is spawned internally by memory.Manager's
	// SaveMessage once the assistant turn pushes the session over its
	// compaction threshold — nothing further to trigger here.

	turnTokens := result.Response.TokensIn + result.Response.TokensOut
	if err := r.deps.Memory.RecordSessionTurn(ctx, session, int64(turnTokens), result.Response.Model); err != nil {
		r.deps.Log.Warn().Err(err).Str("session", session).Msg("record session turn failed")
	}
	if r.deps.Identity != nil {
		if err := r.deps.Identity.RecordUsage(ctx, userID, int64(turnTokens)); err != nil {
			r.deps.Log.Warn().Err(err).Str("user_id", userID).Msg("record usage failed")
		}
	}

	if r.deps.Hooks != nil {
		r.deps.Hooks.Emit(ctx, &hooks.Context{Event: hooks.EventLLMOutput, SessionKey: session, ChannelID: turn.Channel,
			Payload: map[string]any{"content": result.Response.Content, "tools_invoked": result.ToolsInvoked}})
	}

	// Step 11.
	return &ProcessedMessage{
		Content:    result.Response.Content,
		Model:      result.Response.Model,
		TokensIn:   result.Response.TokensIn,
		TokensOut:  result.Response.TokensOut,
		StopReason: result.Response.StopReason,
	}, nil
}

// toolLoopRegistry adapts *tools.Registry to toolloop.Registry, which
// internal/tools deliberately doesn't import to avoid a cycle.
type toolLoopRegistry struct{ r *tools.Registry }

func (t toolLoopRegistry) Lookup(name string) (toolloop.Tool, bool) { return t.r.Lookup(name) }
func (t toolLoopRegistry) Defs() []providers.ToolDef                { return t.r.Defs() }

// policyFilteredRegistry re-asserts the request-time tool visibility
// decision at execution time: even if a provider somehow requests a tool
// name that was filtered out of its own tool list, Lookup still denies it.
type policyFilteredRegistry struct {
	reg    toolloop.Registry
	denied map[string]bool
}

func (p policyFilteredRegistry) Lookup(name string) (toolloop.Tool, bool) {
	if p.denied[strings.ToLower(name)] {
		return nil, false
	}
	return p.reg.Lookup(name)
}

func (p policyFilteredRegistry) Defs() []providers.ToolDef { return p.reg.Defs() }

func historyToRawMessages(history []*models.ConversationMessage) []providers.RawMessage {
	msgs := make([]providers.RawMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, providers.RawMessage{
			Role:    string(m.Role),
			Content: []providers.ContentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return msgs
}
