package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/skynetai/skynet/internal/models"
)

// WriteKnowledge upserts by topic (topic is unique): a second write to the
// same topic replaces content/tags/source in place rather than creating a
// second row, and keeps the FTS5 mirror in sync.
func (s *Store) WriteKnowledge(ctx context.Context, k *models.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	var existingID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM knowledge WHERE topic = ?`, k.Topic).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge (topic, content, tags, source, created_at, updated_at)
			VALUES (?,?,?,?,?,?)`,
			k.Topic, k.Content, k.Tags, string(k.Source), ts, ts)
		if err != nil {
			return err
		}
		k.ID, _ = res.LastInsertId()
	case err != nil:
		return err
	default:
		k.ID = existingID
		if _, err := tx.ExecContext(ctx, `
			UPDATE knowledge SET content=?, tags=?, source=?, updated_at=? WHERE id=?`,
			k.Content, k.Tags, string(k.Source), ts, k.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_fts WHERE rowid=?`, k.ID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO knowledge_fts(rowid, topic, content, tags) VALUES (?,?,?,?)`,
		k.ID, k.Topic, k.Content, k.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

// SearchKnowledge runs an FTS5 match query over the knowledge base. An
// empty query returns the most recently updated entries.
func (s *Store) SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error) {
	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, topic, content, tags, source, created_at, updated_at
			FROM knowledge ORDER BY updated_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT k.id, k.topic, k.content, k.tags, k.source, k.created_at, k.updated_at
			FROM knowledge k JOIN knowledge_fts f ON f.rowid = k.id
			WHERE knowledge_fts MATCH ? ORDER BY rank LIMIT ?`, query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.KnowledgeEntry
	for rows.Next() {
		var k models.KnowledgeEntry
		var createdAt, updatedAt string
		if err := rows.Scan(&k.ID, &k.Topic, &k.Content, &k.Tags, &k.Source, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		k.CreatedAt = parseTime(createdAt)
		k.UpdatedAt = parseTime(updatedAt)
		out = append(out, &k)
	}
	return out, rows.Err()
}

// ListKnowledge returns every entry, most recently updated first, for admin
// listing.
func (s *Store) ListKnowledge(ctx context.Context) ([]*models.KnowledgeEntry, error) {
	return s.SearchKnowledge(ctx, "", 1<<30)
}

// DeleteKnowledge removes a knowledge entry and its FTS mirror row.
func (s *Store) DeleteKnowledge(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge WHERE id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_fts WHERE rowid=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
