package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHandleAddComputesInitialNextRun(t *testing.T) {
	store := newTestStore(t)
	h := NewHandle(store)
	ctx := context.Background()

	job, err := h.Add(ctx, "ping", Schedule{Kind: KindInterval, EverySecs: 60}, []byte(`{"channel":"ws","message":"hi"}`), nil)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if job.NextRun == nil {
		t.Fatalf("Add() job.NextRun = nil, want a computed time")
	}
	if job.Status != models.JobStatusPending {
		t.Fatalf("Add() job.Status = %q, want pending", job.Status)
	}

	listed, err := h.List(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("List() = %+v, %v", listed, err)
	}

	if err := h.Remove(ctx, job.ID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	listed, err = h.List(ctx)
	if err != nil || len(listed) != 0 {
		t.Fatalf("List() after Remove() = %+v, %v", listed, err)
	}
}

func TestEngineFiresOnceJobAndMarksCompleted(t *testing.T) {
	store := newTestStore(t)
	h := NewHandle(store)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	job, err := h.Add(ctx, "fire-now", Schedule{Kind: KindOnce, At: past}, []byte(`{"channel":"ws","message":"hi"}`), nil)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	engine := NewEngine(store, zerolog.Nop(), 4)
	engine.tick(ctx)

	select {
	case fired := <-engine.Fired():
		if fired.ID != job.ID {
			t.Fatalf("fired job id = %q, want %q", fired.ID, job.ID)
		}
	default:
		t.Fatalf("expected job to be pushed to Fired() channel")
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.NextRun != nil || got.RunCount != 1 {
		t.Fatalf("GetJob() after fire = %+v, want completed/run_count=1/next_run=nil", got)
	}
}

func TestEngineReschedulesIntervalJob(t *testing.T) {
	store := newTestStore(t)
	h := NewHandle(store)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	job, err := h.Add(ctx, "tick", Schedule{Kind: KindInterval, EverySecs: 60}, []byte(`{"channel":"ws","message":"hi"}`), nil)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	job.NextRun = &past
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error: %v", err)
	}

	engine := NewEngine(store, zerolog.Nop(), 4)
	engine.tick(ctx)
	<-engine.Fired()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.Status != models.JobStatusPending || got.NextRun == nil || got.RunCount != 1 {
		t.Fatalf("GetJob() after interval fire = %+v, want pending with a new next_run", got)
	}
	if !got.NextRun.After(past) {
		t.Fatalf("GetJob().NextRun = %v, want after %v", got.NextRun, past)
	}
}

func TestEngineRecoverMarksStalePendingJobsMissed(t *testing.T) {
	store := newTestStore(t)
	h := NewHandle(store)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	job, err := h.Add(ctx, "stale", Schedule{Kind: KindOnce, At: past}, []byte(`{"channel":"ws","message":"hi"}`), nil)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	engine := NewEngine(store, zerolog.Nop(), 4)
	if err := engine.Recover(ctx); err != nil {
		t.Fatalf("Recover() error: %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.Status != models.JobStatusMissed || got.NextRun != nil {
		t.Fatalf("GetJob() after Recover() = %+v, want missed/next_run=nil", got)
	}

	select {
	case <-engine.Fired():
		t.Fatalf("Recover() must not push to the fired channel")
	default:
	}
}

func TestEngineMaxRunsCompletesAfterLimit(t *testing.T) {
	store := newTestStore(t)
	h := NewHandle(store)
	ctx := context.Background()

	max := 1
	past := time.Now().UTC().Add(-time.Second)
	job, err := h.Add(ctx, "one-shot-interval", Schedule{Kind: KindInterval, EverySecs: 1}, []byte(`{"channel":"ws","message":"hi"}`), &max)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	job.NextRun = &past
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error: %v", err)
	}

	engine := NewEngine(store, zerolog.Nop(), 4)
	engine.tick(ctx)
	<-engine.Fired()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.NextRun != nil {
		t.Fatalf("GetJob() after max_runs reached = %+v, want completed/next_run=nil", got)
	}
}
