// Package events carries terminal job notifications from the lifecycle
// manager to downstream consumers (billing, audit, metrics, publishing).
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Event records one job reaching a terminal state. Exactly one event is
// emitted per terminal transition; consumers that must act at most once (the
// biller) key their own dedup on JobID.
type Event struct {
	// JobID is the job that reached a terminal state.
	JobID uuid.UUID
	// RootID is the owning crawl root, or JobID itself for standalone jobs.
	RootID uuid.UUID
	// AccountID owns the credits consumed by this job.
	AccountID uuid.UUID
	// Kind and Engine mirror the job record for labeling.
	Kind   job.Kind
	Engine job.Engine
	// Status is the terminal state reached: completed, failed or cancelled.
	Status job.Status
	// Success is true only for completed jobs.
	Success bool
	// Credits is the amount to debit for this job. Zero for failures,
	// cancellations and crawl roots (roots accumulate from their children).
	Credits int64
	// ErrorText carries the short failure summary, if any.
	ErrorText string
	// Attempts counts how many runs the unit consumed, including the last.
	Attempts int
	// Duration is wall time from first run start to the terminal transition.
	Duration time.Duration
	// TS is the UTC timestamp of the terminal transition.
	TS time.Time
}

// Validate performs coarse validation before an event enters the hub.
func (e Event) Validate() error {
	if e.JobID == uuid.Nil {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", e.Status)
	}
	if e.Credits < 0 {
		return errors.New("credits must be >= 0")
	}
	if e.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Billable reports whether the event should produce a ledger debit: a
// successful unit job that consumed credits. Crawl roots never debit
// directly; their children already did.
func (e Event) Billable() bool {
	return e.Status == job.StatusCompleted && e.Success && e.Credits > 0 && e.Kind != job.KindCrawl
}
