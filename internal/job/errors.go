package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration taxonomy. Callers match with errors.Is.
var (
	// ErrInvalidConfig marks settings or submission options rejected at
	// validation time, before any work is admitted. Never retried.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnsupportedEngine is returned when a submission names an engine
	// outside the registered set.
	ErrUnsupportedEngine = errors.New("unsupported engine")
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change violates the
	// state machine. The job's state is left untouched.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQueueUnavailable is returned when enqueueing after a queue stopped.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrRobotsDisallowed marks a fetch the target's robots.txt forbids.
	// Never retried; the directive will not change between attempts.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
)

// Retryable reports whether an error may succeed on a later attempt.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or anything it wraps, is marked retryable.
// Unclassified errors are treated as terminal.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// FetchErrorKind classifies engine fetch failures.
type FetchErrorKind string

// Fetch failure classes surfaced by the engine capability contract.
const (
	FetchErrorNetwork FetchErrorKind = "network"
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorHTTP    FetchErrorKind = "http_status"
)

// FetchError is an engine capability failure.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorHTTP {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable is always true for fetch failures: networks heal and upstreams
// recover.
func (e *FetchError) Retryable() bool { return true }

// ExtractError reports that fetched content could not be transformed into a
// result payload.
type ExtractError struct {
	URL       string
	Permanent bool
	Err       error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Retryable is false when the failure is permanent: the same input yields the
// same outcome.
func (e *ExtractError) Retryable() bool { return !e.Permanent }
