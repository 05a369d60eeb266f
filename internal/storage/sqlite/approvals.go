package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ApprovalRequest is a tool call held for operator sign-off, raised when a
// user's token budget is exhausted or a tool requires explicit approval.
type ApprovalRequest struct {
	ID         string
	UserID     string
	ToolName   string
	ToolInput  string
	Reason     string
	Status     string // pending, approved, denied
	CreatedAt  string
	ResolvedAt sql.NullString
}

// EnqueueApproval adds a held tool call to the approval queue and returns its ID.
func (s *Store) EnqueueApproval(ctx context.Context, userID, toolName, toolInput, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_queue (id, user_id, tool_name, tool_input, reason, status, created_at)
		VALUES (?,?,?,?,?,'pending',?)`, id, userID, toolName, toolInput, reason, now())
	return id, err
}

// ResolveApproval marks a queued request approved or denied.
func (s *Store) ResolveApproval(ctx context.Context, id string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := "denied"
	if approved {
		status = "approved"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE approval_queue SET status=?, resolved_at=? WHERE id=?`,
		status, now(), id)
	return err
}

// PendingApprovals lists outstanding approval requests for a user.
func (s *Store) PendingApprovals(ctx context.Context, userID string) ([]*ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tool_name, tool_input, reason, status, created_at, resolved_at
		FROM approval_queue WHERE user_id = ? AND status = 'pending' ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ApprovalRequest
	for rows.Next() {
		var a ApprovalRequest
		if err := rows.Scan(&a.ID, &a.UserID, &a.ToolName, &a.ToolInput, &a.Reason, &a.Status,
			&a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// GetApproval loads a single approval request by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	var a ApprovalRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tool_name, tool_input, reason, status, created_at, resolved_at
		FROM approval_queue WHERE id = ?`, id).Scan(&a.ID, &a.UserID, &a.ToolName, &a.ToolInput,
		&a.Reason, &a.Status, &a.CreatedAt, &a.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
