package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/skynetai/skynet/internal/models"
)

// CreateJob inserts a new scheduled job. Callers mint the ID via models.NewJobID.
func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	j.CreatedAt = parseTime(ts)
	j.UpdatedAt = j.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, schedule, action, status, last_run, next_run, run_count, max_runs, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.Schedule, j.Action, string(j.Status),
		timePtrString(j.LastRun), timePtrString(j.NextRun), j.RunCount, j.MaxRuns, ts, ts)
	return err
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, schedule, action, status, last_run, next_run, run_count, max_runs, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row interface{ Scan(dest ...any) error }) (*models.Job, error) {
	var j models.Job
	var lastRun, nextRun sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.Name, &j.Schedule, &j.Action, &j.Status, &lastRun, &nextRun,
		&j.RunCount, &j.MaxRuns, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.LastRun = parseTimePtr(lastRun)
	j.NextRun = parseTimePtr(nextRun)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

// ListDueJobs returns pending jobs whose next_run is <= asOf, ordered by
// next_run ascending. Used both by the tick loop and by startup missed-job
// recovery (called once with asOf = time.Now() before the first tick).
func (s *Store) ListDueJobs(ctx context.Context, asOf string) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, schedule, action, status, last_run, next_run, run_count, max_runs, created_at, updated_at
		FROM jobs WHERE status != 'completed' AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run ASC`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListJobs returns every job, used by the "list reminders/jobs" tool.
func (s *Store) ListJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, schedule, action, status, last_run, next_run, run_count, max_runs, created_at, updated_at
		FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob persists status/run-count/timing fields after a tick or edit.
func (s *Store) UpdateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET name=?, schedule=?, action=?, status=?, last_run=?, next_run=?,
			run_count=?, max_runs=?, updated_at=? WHERE id=?`,
		j.Name, j.Schedule, j.Action, string(j.Status), timePtrString(j.LastRun), timePtrString(j.NextRun),
		j.RunCount, j.MaxRuns, ts, j.ID)
	if err == nil {
		j.UpdatedAt = parseTime(ts)
	}
	return err
}

// DeleteJob removes a job permanently.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}
