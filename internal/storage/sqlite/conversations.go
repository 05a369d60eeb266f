package sqlite

import (
	"context"

	"github.com/skynetai/skynet/internal/models"
)

// AppendMessage stores one turn of session history. History is append-only;
// compaction (internal/memory) rewrites facts, never this table, except via
// DeleteOldestMessages for the oldest compacted range.
func (s *Store) AppendMessage(ctx context.Context, m *models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	m.CreatedAt = parseTime(ts)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, session_key, channel, role, content, model_used, tokens_in, tokens_out, cost_usd, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.UserID, m.SessionKey, m.Channel, string(m.Role), m.Content, m.ModelUsed,
		m.TokensIn, m.TokensOut, m.CostUSD, ts)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// GetHistory returns up to limit of the most recent messages for a session,
// oldest first (ready to append directly to a prompt).
func (s *Store) GetHistory(ctx context.Context, sessionKey string, limit int) ([]*models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_key, channel, role, content, model_used, tokens_in, tokens_out, cost_usd, created_at
		FROM conversations WHERE session_key = ? ORDER BY id DESC LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionKey, &m.Channel, &m.Role, &m.Content,
			&m.ModelUsed, &m.TokensIn, &m.TokensOut, &m.CostUSD, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse: query was newest-first for LIMIT to bound the scan, callers want oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetOldestMessages returns the oldest n messages for a session, oldest
// first, used by compaction to pick the range it is about to fold into
// UserMemory facts and then delete.
func (s *Store) GetOldestMessages(ctx context.Context, sessionKey string, n int) ([]*models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_key, channel, role, content, model_used, tokens_in, tokens_out, cost_usd, created_at
		FROM conversations WHERE session_key = ? ORDER BY id ASC LIMIT ?`, sessionKey, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionKey, &m.Channel, &m.Role, &m.Content,
			&m.ModelUsed, &m.TokensIn, &m.TokensOut, &m.CostUSD, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CountMessages returns the total number of stored turns for a session.
func (s *Store) CountMessages(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE session_key = ?`, sessionKey).Scan(&n)
	return n, err
}

// DeleteOldestMessages removes the oldest n messages for a session, used
// by compaction after their content has been folded into UserMemory facts.
func (s *Store) DeleteOldestMessages(ctx context.Context, sessionKey string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations WHERE session_key = ? ORDER BY id ASC LIMIT ?
		)`, sessionKey, n)
	return err
}
