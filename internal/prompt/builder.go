// Package prompt assembles the 3-tier system prompt per spec.md §4.5: a
// static T1 (identity + safety rules + tool definitions), a per-user T2
// rendered memory context, and a volatile T3 (session id, turn count,
// current time, hot topics). Grounded on
// internal/gateway/system_prompt.go's section-assembly style, adapted
// from its ad hoc config-driven sections to the spec's fixed three tiers
// and the dual flat/cache-tiered rendering modes.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skynetai/skynet/internal/providers"
)

// maxUserContextChars bounds T2's rendered memory context, matching the
// cap internal/memory's build_user_context already enforces — repeated
// here as a defensive floor in case a caller bypasses that path.
const maxUserContextChars = 6000

// safetyBlock is static T1 content appended after the identity (SOUL)
// text, mirroring the teacher's hard-coded trailing safety lines in
// buildSystemPrompt.
const safetyBlock = "Do not exfiltrate secrets. Avoid destructive actions unless explicitly requested. " +
	"Tool errors are reported back to you so you can recover; do not abort a turn because one tool call failed. " +
	"Be concise, direct, and ask clarifying questions when requirements are ambiguous."

// Volatile is T3: content that changes every turn and must never sit
// ahead of a cacheable prefix.
type Volatile struct {
	SessionID string
	TurnCount int
	Now       time.Time
	HotTopics []string
	// SkillIndex lists discoverable skill names, rendered as a line in T3
	// when non-empty so the model knows what skill_read can return.
	SkillIndex []string
}

// Builder owns the SOUL text and tool definitions that make up T1, and
// renders full system prompts on demand. Safe for concurrent use.
type Builder struct {
	mu       sync.RWMutex
	soulPath string
	soul     string
	toolDefs string
}

// NewBuilder loads soulPath and returns a ready Builder.
func NewBuilder(soulPath string) (*Builder, error) {
	b := &Builder{soulPath: soulPath}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads the SOUL file from disk, picking up edits without a
// process restart.
func (b *Builder) Reload() error {
	text, err := os.ReadFile(b.soulPath)
	if err != nil {
		return fmt.Errorf("prompt: read soul file: %w", err)
	}
	b.mu.Lock()
	b.soul = strings.TrimSpace(string(text))
	b.mu.Unlock()
	return nil
}

// SetToolDefs replaces the tool-definitions text folded into T1, called
// whenever the registered tool/skill set changes.
func (b *Builder) SetToolDefs(text string) {
	b.mu.Lock()
	b.toolDefs = strings.TrimSpace(text)
	b.mu.Unlock()
}

// tierOne renders the static identity + safety + tool-definitions block.
func (b *Builder) tierOne() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	parts := []string{}
	if b.soul != "" {
		parts = append(parts, b.soul)
	}
	parts = append(parts, safetyBlock)
	if b.toolDefs != "" {
		parts = append(parts, "Available tools:\n"+b.toolDefs)
	}
	return strings.Join(parts, "\n\n")
}

// tierTwo bounds and returns the rendered per-user memory context.
func tierTwo(userContext string) string {
	userContext = strings.TrimSpace(userContext)
	if len(userContext) > maxUserContextChars {
		userContext = userContext[:maxUserContextChars]
	}
	return userContext
}

// tierThree renders the volatile block, placed last so it never breaks a
// cacheable prefix.
func tierThree(v Volatile) string {
	lines := []string{
		fmt.Sprintf("Session: %s", v.SessionID),
		fmt.Sprintf("Turn: %d", v.TurnCount),
		fmt.Sprintf("Current time (UTC): %s", v.Now.UTC().Format(time.RFC3339)),
	}
	if len(v.HotTopics) > 0 {
		lines = append(lines, fmt.Sprintf("Hot topics: %s", strings.Join(v.HotTopics, ", ")))
	}
	if len(v.SkillIndex) > 0 {
		lines = append(lines, fmt.Sprintf("Knowledge index: %s", strings.Join(v.SkillIndex, ", ")))
	}
	return strings.Join(lines, "\n")
}

// BuildFlat concatenates T1 + T2 + T3 with blank lines, for providers
// with no cache-control concept.
func (b *Builder) BuildFlat(userContext string, v Volatile) string {
	var parts []string
	if t1 := b.tierOne(); t1 != "" {
		parts = append(parts, t1)
	}
	if t2 := tierTwo(userContext); t2 != "" {
		parts = append(parts, t2)
	}
	parts = append(parts, tierThree(v))
	return strings.Join(parts, "\n\n")
}

// BuildStructured renders T1 and T2 as separately cache-markable system
// tiers; T3 carries no cache marker since it changes every turn.
func (b *Builder) BuildStructured(userContext string, v Volatile) []providers.SystemTier {
	var tiers []providers.SystemTier
	if t1 := b.tierOne(); t1 != "" {
		tiers = append(tiers, providers.SystemTier{Text: t1, Cache: true})
	}
	if t2 := tierTwo(userContext); t2 != "" {
		tiers = append(tiers, providers.SystemTier{Text: t2, Cache: true})
	}
	tiers = append(tiers, providers.SystemTier{Text: tierThree(v), Cache: false})
	return tiers
}
