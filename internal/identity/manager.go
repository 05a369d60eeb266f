// Package identity resolves (channel, identifier) pairs — a Discord
// snowflake, a Telegram chat id, a WebSocket session token — to the durable
// cross-channel user they belong to, creating a new user on first contact.
// Grounded on internal/storage/sqlite/identities.go's store methods; the
// bounded cache shape is grounded on internal/agent/routing/router.go's
// candidate-list bookkeeping style, adapted from a health map to a
// FIFO-eviction lookup cache.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/storage/sqlite"
)

// maxCacheEntries bounds the resolution cache. On overflow, the oldest half
// of entries (by insertion order) is dropped in one pass rather than
// evicting one-by-one, to avoid doing eviction work on every single insert
// once the cache is warm.
const maxCacheEntries = 256

// Manager resolves and links channel identities to durable users. Safe for
// concurrent use.
type Manager struct {
	store *sqlite.Store
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[string]string // "channel\x00identifier" -> user_id
	order []string          // insertion order, for half-drop eviction
}

// NewManager builds a Manager over store.
func NewManager(store *sqlite.Store, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log.With().Str("component", "identity").Logger(),
		cache: make(map[string]string),
	}
}

func cacheKey(channel, identifier string) string {
	return channel + "\x00" + identifier
}

// Resolve returns the durable user id bound to (channel, identifier),
// creating a new user and a "self"-linked binding on first contact.
func (m *Manager) Resolve(ctx context.Context, channel, identifier string) (string, error) {
	key := cacheKey(channel, identifier)

	m.mu.Lock()
	if userID, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return userID, nil
	}
	m.mu.Unlock()

	ui, err := m.store.ResolveByPeer(ctx, channel, identifier)
	switch {
	case err == nil:
		m.cachePut(key, ui.UserID)
		return ui.UserID, nil
	case err != sqlite.ErrNotFound:
		return "", err
	}

	userID := models.NewUserID()
	if err := m.store.CreateUser(ctx, &models.User{ID: userID}); err != nil {
		return "", fmt.Errorf("identity: create user: %w", err)
	}
	if err := m.store.LinkIdentity(ctx, &models.UserIdentity{
		ID: uuid.NewString(), UserID: userID, Channel: channel, Identifier: identifier,
		Verified: true, LinkedBy: "self",
	}); err != nil {
		return "", fmt.Errorf("identity: link new user: %w", err)
	}
	m.log.Info().Str("channel", channel).Str("user_id", userID).Msg("new user created on first contact")
	m.cachePut(key, userID)
	return userID, nil
}

// AdminLink binds (channel, identifier) to targetUserID on an operator's
// authority, overwriting any existing binding for that peer. Invalidates
// the cache entry so the next Resolve sees the new target.
func (m *Manager) AdminLink(ctx context.Context, adminID, channel, identifier, targetUserID string) error {
	return m.link(ctx, channel, identifier, targetUserID, adminID)
}

// SelfLink binds (sourceChannel, sourceIdentifier) to targetUserID, used by
// the link_identity tool's "verify" action once a user has proven control
// of both channels via the 6-digit code exchange.
func (m *Manager) SelfLink(ctx context.Context, sourceChannel, sourceIdentifier, targetUserID string) error {
	return m.link(ctx, sourceChannel, sourceIdentifier, targetUserID, "self_merge")
}

func (m *Manager) link(ctx context.Context, channel, identifier, targetUserID, linkedBy string) error {
	if err := m.store.UnlinkIdentity(ctx, channel, identifier); err != nil {
		return fmt.Errorf("identity: unlink existing: %w", err)
	}
	if err := m.store.LinkIdentity(ctx, &models.UserIdentity{
		ID: uuid.NewString(), UserID: targetUserID, Channel: channel, Identifier: identifier,
		Verified: true, LinkedBy: linkedBy,
	}); err != nil {
		return fmt.Errorf("identity: link: %w", err)
	}
	m.mu.Lock()
	delete(m.cache, cacheKey(channel, identifier))
	m.mu.Unlock()
	return nil
}

// Unlink removes a (channel, identifier) binding.
func (m *Manager) Unlink(ctx context.Context, channel, identifier string) error {
	if err := m.store.UnlinkIdentity(ctx, channel, identifier); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cache, cacheKey(channel, identifier))
	m.mu.Unlock()
	return nil
}

// ListIdentities returns every channel binding for a user.
func (m *Manager) ListIdentities(ctx context.Context, userID string) ([]*models.UserIdentity, error) {
	return m.store.ListIdentities(ctx, userID)
}

// GetUser loads a user's full record, needed by the per-turn tool policy
// check (content filter, capability flags, approval state) that
// Resolve/cache only track by id.
func (m *Manager) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return m.store.GetUser(ctx, userID)
}

// RecordUsage folds tokensUsed into a user's lifetime and today's token
// counters, rolling the daily counter over (and lifting any approval
// requirement it previously tripped) when the UTC date has advanced. If
// TokenBudget is set and today's usage now exceeds it, RequiresApproval is
// set until the next day's rollover — spec.md's token_budget ->
// requires_approval enforcement point.
func (m *Manager) RecordUsage(ctx context.Context, userID string, tokensUsed int64) error {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("identity: record usage: load user: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	if u.Counters.ResetDate != today {
		u.Counters.ResetDate = today
		u.Counters.TokensDay = 0
		u.RequiresApproval = false
	}

	u.Counters.Messages++
	u.Counters.TokensAll += tokensUsed
	u.Counters.TokensDay += tokensUsed
	u.Counters.LastTurnAt = time.Now().UTC()

	if u.TokenBudget != nil && u.Counters.TokensDay > *u.TokenBudget {
		u.RequiresApproval = true
	}

	return m.store.UpdateUser(ctx, u)
}

func (m *Manager) cachePut(key, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cache[key]; !exists && len(m.order) >= maxCacheEntries {
		half := len(m.order) / 2
		for _, k := range m.order[:half] {
			delete(m.cache, k)
		}
		m.order = append([]string(nil), m.order[half:]...)
	}
	if _, exists := m.cache[key]; !exists {
		m.order = append(m.order, key)
	}
	m.cache[key] = userID
}
