package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/skynetai/skynet/internal/models"
)

// GetSessionByKey loads a session by its opaque key (e.g.
// "user:u1:agent:default:default"), per spec.md's SessionKey scheme.
func (s *Store) GetSessionByKey(ctx context.Context, key string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key, user_id, agent_id, name, title, msg_count, tokens_total, last_model, created_at, updated_at
		FROM sessions WHERE key = ?`, key)
	return scanSession(row)
}

func scanSession(row interface{ Scan(dest ...any) error }) (*models.Session, error) {
	var sess models.Session
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.Key, &sess.UserID, &sess.AgentID, &sess.Name, &sess.Title,
		&sess.MsgCount, &sess.TokensAll, &sess.LastModel, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	sess.CreatedAt = parseTime(ts)
	sess.UpdatedAt = sess.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, key, user_id, agent_id, name, title, msg_count, tokens_total, last_model, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Key, sess.UserID, sess.AgentID, sess.Name, sess.Title,
		sess.MsgCount, sess.TokensAll, sess.LastModel, ts, ts)
	return err
}

// RecordTurn bumps a session's message count, token total, and last model
// after a completed turn.
func (s *Store) RecordTurn(ctx context.Context, sessionKey string, tokens int64, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET msg_count = msg_count + 1, tokens_total = tokens_total + ?,
			last_model = ?, updated_at = ? WHERE key = ?`,
		tokens, model, now(), sessionKey)
	return err
}
