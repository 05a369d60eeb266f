package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/storage/sqlite"
)

// Handle is the add/list/remove side of the scheduler, used by the
// `reminder` tool and admin job management. Per spec.md §4.8 a handle and
// an engine "share the DB schema but use independent connections" — callers
// construct a Handle and an Engine over separate *sqlite.Store opens of the
// same database path.
type Handle struct {
	store *sqlite.Store
}

// NewHandle wraps store for add/list/remove use.
func NewHandle(store *sqlite.Store) *Handle {
	return &Handle{store: store}
}

// Add persists a new job with its initial next_run computed from schedule.
func (h *Handle) Add(ctx context.Context, name string, schedule Schedule, action []byte, maxRuns *int) (*models.Job, error) {
	encoded, err := Encode(schedule)
	if err != nil {
		return nil, err
	}
	next, ok := NextRun(schedule, time.Now().UTC())
	job := &models.Job{
		ID:       uuid.NewString(),
		Name:     name,
		Schedule: encoded,
		Action:   action,
		Status:   models.JobStatusPending,
		MaxRuns:  maxRuns,
	}
	if ok {
		job.NextRun = &next
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// List returns every job.
func (h *Handle) List(ctx context.Context) ([]*models.Job, error) {
	return h.store.ListJobs(ctx)
}

// Remove deletes a job by id.
func (h *Handle) Remove(ctx context.Context, id string) error {
	return h.store.DeleteJob(ctx, id)
}

// Engine is the tick-loop side: it fires due jobs and pushes them to a
// buffered channel a DeliveryRouter drains. Construct one per process.
type Engine struct {
	store *sqlite.Store
	log   zerolog.Logger
	fired chan *models.Job
}

// NewEngine builds an Engine with a buffered fired-job channel of the given
// capacity.
func NewEngine(store *sqlite.Store, log zerolog.Logger, bufSize int) *Engine {
	return &Engine{
		store: store,
		log:   log.With().Str("component", "scheduler.engine").Logger(),
		fired: make(chan *models.Job, bufSize),
	}
}

// Fired returns the channel of fired jobs for a DeliveryRouter to drain.
func (e *Engine) Fired() <-chan *models.Job {
	return e.fired
}

// Recover runs once at startup, before Run: any pending job whose next_run
// already passed is marked missed rather than fired — the engine never
// silently executes stale work accumulated while the process was down.
func (e *Engine) Recover(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := e.store.ListDueJobs(ctx, now.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	for _, j := range due {
		if j.Status != models.JobStatusPending {
			continue
		}
		j.Status = models.JobStatusMissed
		j.NextRun = nil
		if err := e.store.UpdateJob(ctx, j); err != nil {
			e.log.Warn().Err(err).Str("job_id", j.ID).Msg("recover: mark missed failed")
		} else {
			e.log.Warn().Str("job_id", j.ID).Str("name", j.Name).Msg("job missed while offline")
		}
	}
	return nil
}

// Run ticks every second until ctx is cancelled, firing due jobs.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := e.store.ListDueJobs(ctx, now.Format(time.RFC3339Nano))
	if err != nil {
		e.log.Warn().Err(err).Msg("tick: list due jobs failed")
		return
	}
	for _, j := range due {
		e.fire(ctx, j, now)
	}
}

func (e *Engine) fire(ctx context.Context, j *models.Job, now time.Time) {
	j.RunCount++
	j.LastRun = &now

	schedule, err := Decode(j.Schedule)
	if err != nil {
		e.log.Warn().Err(err).Str("job_id", j.ID).Msg("fire: decode schedule failed")
		j.Status = models.JobStatusFailed
		j.NextRun = nil
	} else if j.MaxRuns != nil && j.RunCount >= *j.MaxRuns {
		j.Status = models.JobStatusCompleted
		j.NextRun = nil
	} else if schedule.Kind == KindOnce {
		j.Status = models.JobStatusCompleted
		j.NextRun = nil
	} else if next, ok := NextRun(schedule, now); ok {
		j.Status = models.JobStatusPending
		j.NextRun = &next
	} else {
		j.Status = models.JobStatusCompleted
		j.NextRun = nil
	}

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.log.Warn().Err(err).Str("job_id", j.ID).Msg("fire: update job failed")
		return
	}

	select {
	case e.fired <- j:
	default:
		e.log.Warn().Str("job_id", j.ID).Msg("fired-job channel full or unread; dropping delivery")
	}
}
