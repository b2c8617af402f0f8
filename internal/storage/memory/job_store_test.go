package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

func TestJobStoreTransitions(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	j := job.Job{ID: uuid.New(), Kind: job.KindScrape, Status: job.StatusPending}

	if err := store.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, j); err == nil {
		t.Fatal("expected duplicate job error")
	}

	now := time.Now().UTC()
	updated, err := store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusPending}, job.StatusWaiting, job.Mutation{})
	if err != nil {
		t.Fatalf("TransitionJob to waiting error = %v", err)
	}
	if updated.Status != job.StatusWaiting {
		t.Fatalf("expected waiting, got %s", updated.Status)
	}

	updated, err = store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusPending, job.StatusWaiting}, job.StatusRunning,
		job.Mutation{Started: &now})
	if err != nil {
		t.Fatalf("TransitionJob to running error = %v", err)
	}
	if updated.Started == nil {
		t.Fatal("expected started timestamp")
	}

	// A transition whose from-set does not match fails and changes nothing.
	_, err = store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusPending}, job.StatusWaiting, job.Mutation{})
	if !errors.Is(err, job.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	success := true
	finished := now.Add(2 * time.Second)
	updated, err = store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusRunning}, job.StatusCompleted,
		job.Mutation{Finished: &finished, Success: &success})
	if err != nil {
		t.Fatalf("TransitionJob to completed error = %v", err)
	}
	if !updated.Success || updated.Finished == nil {
		t.Fatalf("expected success with finish time, got %+v", updated)
	}

	// Terminal states accept nothing further.
	_, err = store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusPending, job.StatusWaiting, job.StatusRunning},
		job.StatusCancelled, job.Mutation{})
	if !errors.Is(err, job.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal, got %v", err)
	}
}

func TestJobStoreStartedIsFirstWriteWins(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	j := job.Job{ID: uuid.New(), Status: job.StatusRunning}
	if err := store.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	first := time.Now().UTC()
	if _, err := store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusRunning}, job.StatusWaiting,
		job.Mutation{Started: &first}); err != nil {
		t.Fatalf("first transition error = %v", err)
	}

	later := first.Add(time.Minute)
	updated, err := store.TransitionJob(ctx, j.ID,
		[]job.Status{job.StatusWaiting}, job.StatusRunning,
		job.Mutation{Started: &later})
	if err != nil {
		t.Fatalf("second transition error = %v", err)
	}
	if !updated.Started.Equal(first) {
		t.Fatalf("expected original start time %v, got %v", first, updated.Started)
	}
}

func TestJobStoreUnknownAndExpired(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	_, err := store.GetJob(ctx, uuid.New())
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	old := job.Job{
		ID:       uuid.New(),
		Status:   job.StatusCompleted,
		ExpireAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := store.CreateJob(ctx, old); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	_, err = store.GetJob(ctx, old.ID)
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("expected expired job to read as not found, got %v", err)
	}
}

func TestJobStoreAddCreditsUsed(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	j := job.Job{ID: uuid.New(), Status: job.StatusRunning}
	if err := store.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := store.AddCreditsUsed(ctx, j.ID, 3); err != nil {
		t.Fatalf("AddCreditsUsed() error = %v", err)
	}
	if err := store.AddCreditsUsed(ctx, j.ID, 2); err != nil {
		t.Fatalf("AddCreditsUsed() error = %v", err)
	}
	got, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.CreditsUsed != 5 {
		t.Fatalf("expected 5 credits used, got %d", got.CreditsUsed)
	}
}
