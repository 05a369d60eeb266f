package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/skynetai/skynet/internal/models"
)

// UpsertFact writes a user fact/preference/instruction. If a row with the
// same (user_id, category, key) already exists, the write only replaces it when the
// new confidence is >= the stored confidence — "confidence-wins": a
// higher- or equal-confidence observation may overwrite, a lower-confidence
// one is dropped silently. Returns true if the row was written.
func (s *Store) UpsertFact(ctx context.Context, m *models.UserMemory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingID int64
	var existingConfidence float64
	err = tx.QueryRowContext(ctx, `SELECT id, confidence FROM user_memory WHERE user_id=? AND category=? AND key=?`,
		m.UserID, string(m.Category), m.Key).Scan(&existingID, &existingConfidence)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ts := now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_memory (user_id, category, key, value, confidence, source, expires_at, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			m.UserID, string(m.Category), m.Key, m.Value, m.Confidence, string(m.Source),
			timePtrString(m.ExpiresAt), ts, ts)
		if err != nil {
			return false, err
		}
		m.ID, _ = res.LastInsertId()
		if err := syncMemoryFTS(ctx, tx, m.ID, m.Key, m.Value); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	}

	if m.Confidence < existingConfidence {
		return false, tx.Commit()
	}

	ts := now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_memory SET category=?, value=?, confidence=?, source=?, expires_at=?, updated_at=?
		WHERE id=?`,
		string(m.Category), m.Value, m.Confidence, string(m.Source), timePtrString(m.ExpiresAt), ts, existingID); err != nil {
		return false, err
	}
	m.ID = existingID
	if err := syncMemoryFTS(ctx, tx, m.ID, m.Key, m.Value); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func syncMemoryFTS(ctx context.Context, tx execer, rowID int64, key, value string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_memory_fts WHERE rowid = ?`, rowID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO user_memory_fts(rowid, key, value) VALUES (?,?,?)`, rowID, key, value)
	return err
}

// SearchFacts runs an FTS5 match query over a user's facts. query may use
// FTS5 syntax (AND/OR/phrase); an empty query returns the user's most
// recently updated facts up to limit. userID = "*" matches every user's
// rows — callers must gate that wildcard on admin role themselves; the
// store enforces no authorization of its own.
func (s *Store) SearchFacts(ctx context.Context, userID, query string, limit int) ([]*models.UserMemory, error) {
	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, category, key, value, confidence, source, expires_at, created_at, updated_at
			FROM user_memory WHERE user_id = ? OR ? = '*' ORDER BY updated_at DESC LIMIT ?`, userID, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, m.user_id, m.category, m.key, m.value, m.confidence, m.source, m.expires_at, m.created_at, m.updated_at
			FROM user_memory m JOIN user_memory_fts f ON f.rowid = m.id
			WHERE (m.user_id = ? OR ? = '*') AND user_memory_fts MATCH ? ORDER BY rank LIMIT ?`, userID, userID, query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListFacts returns every fact for a user ordered by category then key,
// used by prompt assembly which needs deterministic ordering, not relevance.
func (s *Store) ListFacts(ctx context.Context, userID string) ([]*models.UserMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, key, value, confidence, source, expires_at, created_at, updated_at
		FROM user_memory WHERE user_id = ? ORDER BY category, key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]*models.UserMemory, error) {
	var out []*models.UserMemory
	for rows.Next() {
		var m models.UserMemory
		var expires sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Key, &m.Value, &m.Confidence,
			&m.Source, &expires, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := parseTime(expires.String)
			m.ExpiresAt = &t
		}
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteFact removes a user fact by (category, key) and its FTS mirror row.
func (s *Store) DeleteFact(ctx context.Context, userID string, category models.MemoryCategory, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM user_memory WHERE user_id=? AND category=? AND key=?`,
		userID, string(category), key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return tx.Commit()
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_memory WHERE id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_memory_fts WHERE rowid=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
