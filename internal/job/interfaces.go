package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutation carries the fields written alongside a status transition. Nil
// fields are left untouched. Started is first-write-wins so retried units
// keep their original start time.
type Mutation struct {
	Started   *time.Time
	Finished  *time.Time
	Success   *bool
	ErrorText *string
}

// Store persists job records. Transition is the only write path for status:
// it atomically moves a job from any status in from to to, applying mut in
// the same write, and fails with ErrInvalidTransition when the current status
// is not in from. Expired jobs read as ErrJobNotFound.
type Store interface {
	CreateJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from []Status, to Status, mut Mutation) (Job, error)
	// AddCreditsUsed atomically increments a job's credits_used. Exactly-once
	// semantics ride on the caller (the ledger debits at most once per job).
	AddCreditsUsed(ctx context.Context, id uuid.UUID, delta int64) error
}

// ResultStore persists the ordered result rows owned by a job.
type ResultStore interface {
	AppendResult(ctx context.Context, r Result) error
	ListResults(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Result, error)
	CountResults(ctx context.Context, ownerID uuid.UUID) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher is the engine capability: given a URL and options, produce raw
// content or fail with a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns raw content into a result payload, or fails with a
// *ExtractError.
type Extractor interface {
	Extract(ctx context.Context, resp FetchResponse, opts ScrapeOptions) (Payload, error)
	// DiscoverLinks returns the outbound links of a fetched page, resolved
	// against its final URL. Used for crawl units only.
	DiscoverLinks(resp FetchResponse) ([]string, error)
}

// Policy encapsulates politeness: Acquire blocks until the caller may fetch
// the given URL, or returns the context error.
type Policy interface {
	Acquire(ctx context.Context, rawURL string) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
