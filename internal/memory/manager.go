// Package memory implements spec.md §4.6's long-term memory subsystem: a
// confidence-scored fact store (learn/forget/search), a bounded per-user
// context cache for prompt assembly, session history with a turn-count-triggered
// compaction pipeline that folds old turns into facts, an operator-authored
// knowledge base, and tool-call frequency tracking for "hot topics".
// Grounded on internal/storage/sqlite's existing store methods; the
// compaction pipeline's detached-task-plus-cheap-model shape is grounded on
// internal/agent/compaction.go's callback-driven CompactionManager, adapted
// from its context-budget trigger to the spec's turn-count trigger.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/providers"
	"github.com/skynetai/skynet/internal/storage/sqlite"
)

const (
	maxUserContextChars  = 6000
	contextCacheTTL      = 5 * time.Minute
	contextCacheCap      = 256
	compactionThreshold  = 40
	compactionBatchSize  = 20
	defaultHotTopTools   = 10
	compactionExtractMax = 2000 // chars of rendered history sent to the extraction model
)

// categoryOrder fixes the rendering order of BuildUserContext: instructions
// carry the most weight for behavior, context the least.
var categoryOrder = []models.MemoryCategory{
	models.MemoryCategoryInstruction,
	models.MemoryCategoryPreference,
	models.MemoryCategoryFact,
	models.MemoryCategoryContext,
}

// Sender is the minimal capability the compaction pipeline needs from a
// model backend. Satisfied by both providers.Provider and router.Router
// without either package importing this one.
type Sender interface {
	Send(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error)
}

type cachedContext struct {
	text    string
	builtAt time.Time
}

// Manager is the memory subsystem's single entry point. Safe for concurrent
// use.
type Manager struct {
	store *sqlite.Store
	log   zerolog.Logger

	compactor      Sender
	compactModel   string
	compactEnabled bool

	cacheMu sync.Mutex
	cache   map[string]*cachedContext
}

// NewManager builds a Manager. compactor and compactModel may be zero-valued
// if automatic compaction should stay disabled (e.g. in tests).
func NewManager(store *sqlite.Store, log zerolog.Logger, compactor Sender, compactModel string) *Manager {
	return &Manager{
		store:          store,
		log:            log.With().Str("component", "memory").Logger(),
		compactor:      compactor,
		compactModel:   compactModel,
		compactEnabled: compactor != nil && compactModel != "",
		cache:          make(map[string]*cachedContext),
	}
}

// Learn upserts a fact. Confidence-wins semantics live in the store; Learn
// additionally invalidates the user's cached context so the next
// BuildUserContext call reflects the write.
func (m *Manager) Learn(ctx context.Context, userID string, category models.MemoryCategory, key, value string, confidence float64, source models.MemorySource) (bool, error) {
	written, err := m.store.UpsertFact(ctx, &models.UserMemory{
		UserID:     userID,
		Category:   category,
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Source:     source,
	})
	if err != nil {
		return false, err
	}
	if written {
		m.invalidate(userID)
	}
	return written, nil
}

// LearnWithExpiry upserts a fact that expires at expiresAt, used for
// short-lived context entries such as link_identity's 6-digit codes rather
// than durable user facts.
func (m *Manager) LearnWithExpiry(ctx context.Context, userID string, category models.MemoryCategory, key, value string, confidence float64, source models.MemorySource, expiresAt time.Time) (bool, error) {
	written, err := m.store.UpsertFact(ctx, &models.UserMemory{
		UserID:     userID,
		Category:   category,
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Source:     source,
		ExpiresAt:  &expiresAt,
	})
	if err != nil {
		return false, err
	}
	if written {
		m.invalidate(userID)
	}
	return written, nil
}

// Forget removes a fact by (category, key).
func (m *Manager) Forget(ctx context.Context, userID string, category models.MemoryCategory, key string) error {
	if err := m.store.DeleteFact(ctx, userID, category, key); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// Search runs an FTS5 query over a user's facts. userID = "*" searches every
// user's facts; callers (the tool/call-site layer) are responsible for
// gating that wildcard on admin role — the manager enforces no
// authorization of its own.
func (m *Manager) Search(ctx context.Context, userID, query string, limit int) ([]*models.UserMemory, error) {
	return m.store.SearchFacts(ctx, userID, query, limit)
}

// BuildUserContext renders a user's facts for T2 of the system prompt,
// ordered by category then key, truncated to maxUserContextChars. Results
// are cached for contextCacheTTL, bounded to contextCacheCap entries with
// oldest-built eviction, and invalidated on every Learn/Forget.
func (m *Manager) BuildUserContext(ctx context.Context, userID string) (string, error) {
	if cached, ok := m.cachedContext(userID); ok {
		return cached, nil
	}

	facts, err := m.store.ListFacts(ctx, userID)
	if err != nil {
		return "", err
	}

	byCategory := make(map[models.MemoryCategory][]*models.UserMemory)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var lines []string
	for _, cat := range categoryOrder {
		for _, f := range byCategory[cat] {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", cat, f.Key, f.Value))
		}
	}
	text := strings.Join(lines, "\n")
	if len(text) > maxUserContextChars {
		text = text[:maxUserContextChars]
	}

	m.storeCache(userID, text)
	return text, nil
}

func (m *Manager) cachedContext(userID string) (string, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	c, ok := m.cache[userID]
	if !ok || time.Since(c.builtAt) > contextCacheTTL {
		return "", false
	}
	return c.text, true
}

func (m *Manager) storeCache(userID, text string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if _, exists := m.cache[userID]; !exists && len(m.cache) >= contextCacheCap {
		m.evictOldestLocked()
	}
	m.cache[userID] = &cachedContext{text: text, builtAt: time.Now()}
}

func (m *Manager) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, c := range m.cache {
		if oldestKey == "" || c.builtAt.Before(oldestAt) {
			oldestKey, oldestAt = k, c.builtAt
		}
	}
	if oldestKey != "" {
		delete(m.cache, oldestKey)
	}
}

func (m *Manager) invalidate(userID string) {
	m.cacheMu.Lock()
	delete(m.cache, userID)
	m.cacheMu.Unlock()
}

// SaveMessage appends one turn of session history and, once the session
// crosses compactionThreshold turns, spawns a detached compaction task.
// Compaction never blocks the caller and never propagates failures back to
// the live turn.
func (m *Manager) SaveMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	if !m.compactEnabled {
		return nil
	}
	count, err := m.store.CountMessages(ctx, msg.SessionKey)
	if err != nil {
		m.log.Warn().Err(err).Str("session", msg.SessionKey).Msg("compaction: count turns failed")
		return nil
	}
	if count >= compactionThreshold {
		go m.compact(context.Background(), msg.SessionKey)
	}
	return nil
}

// EnsureSession creates the Session row for key on first contact — spec.md
// §3's Session model, previously persisted by storage/sqlite/sessions.go
// but never written by any caller. A no-op once the row exists.
func (m *Manager) EnsureSession(ctx context.Context, key, userID, agentID string) error {
	_, err := m.store.GetSessionByKey(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		return err
	}
	return m.store.CreateSession(ctx, &models.Session{
		ID: models.NewSessionID(), Key: key, UserID: userID, AgentID: agentID,
	})
}

// RecordSessionTurn bumps a session's message count, token total, and
// last-used model after a completed turn.
func (m *Manager) RecordSessionTurn(ctx context.Context, key string, tokens int64, model string) error {
	return m.store.RecordTurn(ctx, key, tokens, model)
}

// GetHistory returns up to limit of the most recent turns, oldest first.
func (m *Manager) GetHistory(ctx context.Context, sessionKey string, limit int) ([]*models.ConversationMessage, error) {
	return m.store.GetHistory(ctx, sessionKey, limit)
}

// CountTurns returns the total stored turn count for a session.
func (m *Manager) CountTurns(ctx context.Context, sessionKey string) (int, error) {
	return m.store.CountMessages(ctx, sessionKey)
}

// GetOldestTurns returns the oldest n turns for a session, oldest first.
func (m *Manager) GetOldestTurns(ctx context.Context, sessionKey string, n int) ([]*models.ConversationMessage, error) {
	return m.store.GetOldestMessages(ctx, sessionKey, n)
}

// DeleteTurns removes the oldest n turns for a session.
func (m *Manager) DeleteTurns(ctx context.Context, sessionKey string, n int) error {
	return m.store.DeleteOldestMessages(ctx, sessionKey, n)
}

// compact folds the oldest compactionBatchSize turns of a session into
// UserMemory facts via a cheap model, then deletes them. Every failure is
// logged and swallowed; the live pipeline must never notice a compaction
// task failing.
func (m *Manager) compact(ctx context.Context, sessionKey string) {
	log := m.log.With().Str("session", sessionKey).Logger()

	turns, err := m.store.GetOldestMessages(ctx, sessionKey, compactionBatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("compaction: fetch oldest turns failed")
		return
	}
	if len(turns) == 0 {
		return
	}

	var userID string
	var b strings.Builder
	for _, t := range turns {
		if t.UserID != "" {
			userID = t.UserID
		}
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(t.Role)), t.Content)
	}
	rendered := b.String()
	if len(rendered) > compactionExtractMax {
		rendered = rendered[:compactionExtractMax]
	}

	facts, err := m.extractFacts(ctx, rendered)
	if err != nil {
		log.Warn().Err(err).Msg("compaction: fact extraction failed")
		return
	}

	for _, fact := range facts {
		key := strings.TrimSpace(fact.Key)
		value := strings.TrimSpace(fact.Value)
		if key == "" || value == "" {
			continue
		}
		if _, err := m.Learn(ctx, userID, fact.category(), key, value, 0.7, models.MemorySourceInferred); err != nil {
			log.Warn().Err(err).Msg("compaction: learn failed")
		}
	}

	if err := m.store.DeleteOldestMessages(ctx, sessionKey, len(turns)); err != nil {
		log.Warn().Err(err).Msg("compaction: delete oldest turns failed")
		return
	}
	log.Info().Int("facts_extracted", len(facts)).Int("turns_folded", len(turns)).Msg("compaction complete")
}

const extractionPrompt = `Extract durable facts, preferences, and instructions about the user from the
conversation below. Return ONLY a JSON array. Each element must be:
{"key":"short_label","value":"brief_fact","category":"fact|preference|instruction|context"}
Maximum 10 items. Omit trivial exchanges. If nothing is worth keeping, return
an empty array: []

Conversation:
`

// extractedFact is the wire shape the compaction prompt asks the model for,
// grounded on original_source's pipeline/compact.rs.
type extractedFact struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Category string `json:"category"`
}

func (f extractedFact) category() models.MemoryCategory {
	switch models.MemoryCategory(f.Category) {
	case models.MemoryCategoryPreference, models.MemoryCategoryInstruction, models.MemoryCategoryContext:
		return models.MemoryCategory(f.Category)
	default:
		return models.MemoryCategoryFact
	}
}

// extractFactCap is the maximum number of facts a single compaction keeps,
// matching the prompt's own "maximum 10 items" instruction — enforced here
// rather than trusted, since a model reply can ignore it.
const extractFactCap = 10

func (m *Manager) extractFacts(ctx context.Context, rendered string) ([]extractedFact, error) {
	resp, err := m.compactor.Send(ctx, &providers.ChatRequest{
		Model:     m.compactModel,
		MaxTokens: 1024,
		Messages: []providers.Message{
			{Role: "user", Content: extractionPrompt + rendered},
		},
	})
	if err != nil {
		return nil, err
	}
	return parseFactArray(resp.Content)
}

// parseFactArray tolerantly extracts the first top-level JSON array found in
// text — models sometimes wrap the array in prose or code fences despite
// being asked not to — and caps the result at extractFactCap items.
func parseFactArray(text string) ([]extractedFact, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("memory: no JSON array found in extraction response")
	}
	var facts []extractedFact
	if err := json.Unmarshal([]byte(text[start:end+1]), &facts); err != nil {
		return nil, fmt.Errorf("memory: parse extracted facts: %w", err)
	}
	if len(facts) > extractFactCap {
		facts = facts[:extractFactCap]
	}
	return facts, nil
}

// WriteKnowledge upserts an operator-authored knowledge entry by topic.
func (m *Manager) WriteKnowledge(ctx context.Context, k *models.KnowledgeEntry) error {
	return m.store.WriteKnowledge(ctx, k)
}

// SearchKnowledge runs an FTS5 query over the knowledge base.
func (m *Manager) SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error) {
	return m.store.SearchKnowledge(ctx, query, limit)
}

// ListKnowledge returns every knowledge entry, most recently updated first.
func (m *Manager) ListKnowledge(ctx context.Context) ([]*models.KnowledgeEntry, error) {
	return m.store.ListKnowledge(ctx)
}

// DeleteKnowledgeEntry removes a knowledge entry by id.
func (m *Manager) DeleteKnowledgeEntry(ctx context.Context, id int64) error {
	return m.store.DeleteKnowledge(ctx, id)
}

// LoadSeedKnowledge imports every .md file in dir as a knowledge entry,
// topic = filename without extension. An optional first line of the form
// "tags: a, b, c" sets the entry's tags and is stripped from the stored
// content. Only topics absent from the knowledge base are inserted —
// re-running against an already-seeded store is a no-op.
func (m *Manager) LoadSeedKnowledge(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("memory: read seed dir: %w", err)
	}

	existing, err := m.store.ListKnowledge(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[e.Topic] = true
	}

	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".md") {
			continue
		}
		topic := strings.TrimSuffix(ent.Name(), ".md")
		if have[topic] {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			m.log.Warn().Err(err).Str("file", ent.Name()).Msg("seed knowledge: read failed")
			continue
		}
		tags, content := splitTagsHeader(string(raw))
		if err := m.store.WriteKnowledge(ctx, &models.KnowledgeEntry{
			Topic:   topic,
			Content: content,
			Tags:    tags,
			Source:  models.KnowledgeSourceSeed,
		}); err != nil {
			m.log.Warn().Err(err).Str("topic", topic).Msg("seed knowledge: write failed")
		}
	}
	return nil
}

func splitTagsHeader(text string) (tags, content string) {
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) == 2 && strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[0])), "tags:") {
		header := strings.SplitN(lines[0], ":", 2)[1]
		var parts []string
		for _, p := range strings.Split(header, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ","), strings.TrimSpace(lines[1])
	}
	return "", strings.TrimSpace(text)
}

// LogToolCall records one tool invocation for frequency ranking.
func (m *Manager) LogToolCall(ctx context.Context, toolName, sessionKey string) error {
	return m.store.LogToolCall(ctx, toolName, sessionKey)
}

// GetTopTools returns the most frequently invoked tools globally over the
// last days, most-called first.
func (m *Manager) GetTopTools(ctx context.Context, days, limit int) ([]sqlite.HotTopic, error) {
	return m.store.TopTools(ctx, days, limit)
}

// GetHotTopics scores every tagged knowledge entry by how many of its tags
// intersect with the global top tools over the last days, and returns the
// highest-scoring topic names, most relevant first. Entries with zero
// intersection are dropped.
func (m *Manager) GetHotTopics(ctx context.Context, days, limit int) ([]string, error) {
	topTools, err := m.store.TopTools(ctx, days, defaultHotTopTools)
	if err != nil {
		return nil, err
	}
	if len(topTools) == 0 {
		return nil, nil
	}
	toolSet := make(map[string]bool, len(topTools))
	for _, t := range topTools {
		toolSet[strings.ToLower(t.ToolName)] = true
	}

	entries, err := m.store.ListKnowledge(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		topic string
		score int
	}
	var ranked []scored
	for _, e := range entries {
		if e.Tags == "" {
			continue
		}
		score := 0
		for _, tag := range strings.Split(e.Tags, ",") {
			if toolSet[strings.ToLower(strings.TrimSpace(tag))] {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{topic: e.Topic, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	topics := make([]string, len(ranked))
	for i, r := range ranked {
		topics[i] = r.topic
	}
	return topics, nil
}
