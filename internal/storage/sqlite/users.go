package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/skynetai/skynet/internal/models"
)

const userColumns = `id, display_name, role, language, tone, interests, age, timezone,
	cap_install, cap_browser, cap_exec, content_filter, token_budget, requires_approval,
	msgs, tokens_total, tokens_today, reset_date, last_turn_at, created_at, updated_at`

// timeString converts a time.Time to a nullable column value, treating the
// zero value as NULL (used for optional "last seen" style timestamps).
func timeString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// CreateUser inserts a new user row. Callers mint the ID via models.NewUserID.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	u.CreatedAt = parseTime(ts)
	u.UpdatedAt = u.CreatedAt
	if u.ContentFilter == "" {
		u.ContentFilter = models.ContentFilterModerate
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, role, language, tone, interests, age, timezone,
			cap_install, cap_browser, cap_exec, content_filter, token_budget, requires_approval,
			msgs, tokens_total, tokens_today, reset_date, last_turn_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.DisplayName, string(u.Role), u.Language, u.Tone, strings.Join(u.Interests, ","),
		u.Age, u.Timezone, u.Capabilities.Install, u.Capabilities.Browser, u.Capabilities.Exec,
		string(u.ContentFilter), u.TokenBudget, u.RequiresApproval,
		u.Counters.Messages, u.Counters.TokensAll, u.Counters.TokensDay, u.Counters.ResetDate,
		timeString(u.Counters.LastTurnAt), ts, ts)
	return err
}

// GetUser loads a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row interface{ Scan(dest ...any) error }) (*models.User, error) {
	var u models.User
	var interests string
	var lastTurn sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.DisplayName, &u.Role, &u.Language, &u.Tone, &interests, &u.Age,
		&u.Timezone, &u.Capabilities.Install, &u.Capabilities.Browser, &u.Capabilities.Exec,
		&u.ContentFilter, &u.TokenBudget, &u.RequiresApproval,
		&u.Counters.Messages, &u.Counters.TokensAll, &u.Counters.TokensDay, &u.Counters.ResetDate,
		&lastTurn, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if interests != "" {
		u.Interests = strings.Split(interests, ",")
	}
	if lastTurn.Valid {
		u.Counters.LastTurnAt = parseTime(lastTurn.String)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// UpdateUser persists the mutable fields of u (profile, capabilities,
// counters). ID and CreatedAt are not touched.
func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name=?, role=?, language=?, tone=?, interests=?, age=?,
			timezone=?, cap_install=?, cap_browser=?, cap_exec=?, content_filter=?,
			token_budget=?, requires_approval=?, msgs=?, tokens_total=?, tokens_today=?,
			reset_date=?, last_turn_at=?, updated_at=?
		WHERE id=?`,
		u.DisplayName, string(u.Role), u.Language, u.Tone, strings.Join(u.Interests, ","),
		u.Age, u.Timezone, u.Capabilities.Install, u.Capabilities.Browser, u.Capabilities.Exec,
		string(u.ContentFilter), u.TokenBudget, u.RequiresApproval,
		u.Counters.Messages, u.Counters.TokensAll, u.Counters.TokensDay, u.Counters.ResetDate,
		timeString(u.Counters.LastTurnAt), ts, u.ID)
	if err == nil {
		u.UpdatedAt = parseTime(ts)
	}
	return err
}

// DeleteUser removes a user and, via ON DELETE CASCADE, their identities
// and sessions.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}
