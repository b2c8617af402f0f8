// Package memory provides in-memory storage backends for development and
// tests. They honor the same contracts as the postgres implementations,
// including conditional transitions and at-most-once debits.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// JobStore is a mutex-guarded job.Store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]job.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]job.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.jobs[j.ID] = j
	return nil
}

// GetJob fetches a job by ID. Expired records read as not found.
func (s *JobStore) GetJob(_ context.Context, id uuid.UUID) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok || expired(j) {
		return job.Job{}, fmt.Errorf("job %s: %w", id, job.ErrJobNotFound)
	}
	return j, nil
}

// TransitionJob atomically moves a job from any status in from to to,
// applying mut in the same critical section. The CAS semantics here are what
// make concurrent completion, failure and cancellation race safely.
func (s *JobStore) TransitionJob(
	_ context.Context,
	id uuid.UUID,
	from []job.Status,
	to job.Status,
	mut job.Mutation,
) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || expired(j) {
		return job.Job{}, fmt.Errorf("job %s: %w", id, job.ErrJobNotFound)
	}
	if !statusIn(j.Status, from) {
		return job.Job{}, fmt.Errorf("job %s is %s: %w", id, j.Status, job.ErrInvalidTransition)
	}

	j.Status = to
	if mut.Started != nil && j.Started == nil {
		j.Started = mut.Started
	}
	if mut.Finished != nil {
		j.Finished = mut.Finished
	}
	if mut.Success != nil {
		j.Success = *mut.Success
	}
	if mut.ErrorText != nil {
		j.ErrorText = *mut.ErrorText
	}
	j.Updated = time.Now().UTC()
	s.jobs[id] = j
	return j, nil
}

// AddCreditsUsed atomically increments a job's credits counter.
func (s *JobStore) AddCreditsUsed(_ context.Context, id uuid.UUID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, job.ErrJobNotFound)
	}
	j.CreditsUsed += delta
	j.Updated = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func statusIn(s job.Status, set []job.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func expired(j job.Job) bool {
	return !j.ExpireAt.IsZero() && time.Now().UTC().After(j.ExpireAt)
}
