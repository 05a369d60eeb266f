package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/skynetai/skynet/internal/models"
)

// ResolveByPeer looks up the user identity bound to (channel, identifier).
// Returns ErrNotFound if no link exists yet.
func (s *Store) ResolveByPeer(ctx context.Context, channel, identifier string) (*models.UserIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, identifier, verified, linked_by, created_at, updated_at
		FROM user_identities WHERE channel = ? AND identifier = ?`, channel, identifier)
	return scanIdentity(row)
}

func scanIdentity(row interface{ Scan(dest ...any) error }) (*models.UserIdentity, error) {
	var id models.UserIdentity
	var createdAt, updatedAt string
	err := row.Scan(&id.ID, &id.UserID, &id.Channel, &id.Identifier, &id.Verified, &id.LinkedBy,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id.CreatedAt = parseTime(createdAt)
	id.UpdatedAt = parseTime(updatedAt)
	return &id, nil
}

// LinkIdentity binds (channel, identifier) to userID. linkedBy records who
// performed the link: "self" for first-contact auto-creation, an admin
// user ID for operator-issued links, or "" when unknown.
func (s *Store) LinkIdentity(ctx context.Context, ui *models.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	ui.CreatedAt = parseTime(ts)
	ui.UpdatedAt = ui.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_identities (id, user_id, channel, identifier, verified, linked_by, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		ui.ID, ui.UserID, ui.Channel, ui.Identifier, ui.Verified, ui.LinkedBy, ts, ts)
	return err
}

// UnlinkIdentity removes a (channel, identifier) binding.
func (s *Store) UnlinkIdentity(ctx context.Context, channel, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_identities WHERE channel=? AND identifier=?`, channel, identifier)
	return err
}

// ListIdentities returns every channel binding for a user.
func (s *Store) ListIdentities(ctx context.Context, userID string) ([]*models.UserIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel, identifier, verified, linked_by, created_at, updated_at
		FROM user_identities WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UserIdentity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
