// Package job defines core types shared across the orchestration subsystems.
package job

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the unit of billable work a job represents.
type Kind string

// Job kinds. KindCrawl is a crawl root; KindCrawlPage is one page unit
// submitted on behalf of a root.
const (
	KindScrape    Kind = "scrape"
	KindSearch    Kind = "search"
	KindCrawl     Kind = "crawl"
	KindCrawlPage Kind = "crawl_page"
)

// Status represents the lifecycle state of a job.
type Status string

// Job status values persisted in the job store. Pending and waiting are
// queue-resident states; running begins when a worker dequeues the unit;
// completed, failed and cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Engine identifies one of the registered fetch engines.
type Engine string

// The closed engine set. Identifiers are caller-visible and stable.
const (
	EngineCheerio    Engine = "cheerio"
	EnginePlaywright Engine = "playwright"
	EnginePuppeteer  Engine = "puppeteer"
)

// Engines returns the full registered engine set.
func Engines() []Engine {
	return []Engine{EngineCheerio, EnginePlaywright, EnginePuppeteer}
}

// ParseEngine resolves a caller-supplied engine identifier against the closed
// set. Unknown values fail with ErrUnsupportedEngine.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case EngineCheerio, EnginePlaywright, EnginePuppeteer:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEngine, s)
	}
}

// Headless reports whether the engine drives a real browser.
func (e Engine) Headless() bool {
	return e == EnginePlaywright || e == EnginePuppeteer
}

// Strategy bounds which discovered links a crawl may follow.
type Strategy string

// Crawl admission scopes. Traversal order is breadth-first regardless.
const (
	StrategyAll        Strategy = "all"
	StrategySameDomain Strategy = "same-domain"
	StrategySameHost   Strategy = "same-hostname"
)

// ScrapeOptions captures per-page fetch and extraction knobs.
type ScrapeOptions struct {
	Formats        []string          `json:"formats,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// SearchOptions captures search-provider knobs.
type SearchOptions struct {
	Limit int `json:"limit,omitempty"`
	Pages int `json:"pages,omitempty"`
}

// CrawlOptions captures the frontier constraints for a crawl root.
type CrawlOptions struct {
	MaxDepth     int           `json:"max_depth"`
	Limit        int           `json:"limit"`
	IncludePaths []string      `json:"include_paths,omitempty"`
	ExcludePaths []string      `json:"exclude_paths,omitempty"`
	Strategy     Strategy      `json:"strategy,omitempty"`
	Scrape       ScrapeOptions `json:"scrape,omitempty"`
}

// Parameters groups the per-kind option payloads persisted with a job.
type Parameters struct {
	Scrape ScrapeOptions `json:"scrape,omitempty"`
	Search SearchOptions `json:"search,omitempty"`
	Crawl  CrawlOptions  `json:"crawl,omitempty"`
}

// Job represents the metadata persisted for each submitted unit of work.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Kind        Kind       `json:"kind"`
	Engine      Engine     `json:"engine"`
	Status      Status     `json:"status"`
	URL         string     `json:"url,omitempty"`
	Query       string     `json:"query,omitempty"`
	Depth       int        `json:"depth,omitempty"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	AccountID   uuid.UUID  `json:"account_id"`
	Success     bool       `json:"success"`
	CreditsUsed int64      `json:"credits_used"`
	ErrorText   string     `json:"error_text,omitempty"`
	Parameters  Parameters `json:"parameters"`
	Submitted   time.Time  `json:"submitted_at"`
	Started     *time.Time `json:"started_at,omitempty"`
	Finished    *time.Time `json:"finished_at,omitempty"`
	Updated     time.Time  `json:"updated_at"`
	ExpireAt    time.Time  `json:"expire_at"`
}

// Unit wraps one engine invocation ready to run. Seq records submission order
// within the owning result set and Attempt counts prior failed tries.
type Unit struct {
	JobID     uuid.UUID
	Kind      Kind
	Engine    Engine
	URL       string
	Query     string
	Depth     int
	Seq       int64
	RootID    uuid.UUID
	AccountID uuid.UUID
	Scrape    ScrapeOptions
	Search    SearchOptions
	Attempt   int
	Submitted time.Time
}

// Owner returns the job whose result set this unit contributes to: the crawl
// root for crawl pages, the unit's own job otherwise.
func (u Unit) Owner() uuid.UUID {
	if u.Kind == KindCrawlPage {
		return u.RootID
	}
	return u.JobID
}

// Result is one ordered row of a job's result set. Rows are read back ordered
// by Seq, so repeated reads are stable while work is still in flight.
type Result struct {
	OwnerID     uuid.UUID         `json:"-"`
	JobID       uuid.UUID         `json:"job_id"`
	Seq         int64             `json:"seq"`
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Markdown    string            `json:"markdown,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	BlobURI     string            `json:"blob_uri,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// FetchRequest captures everything an engine needs to fetch a URL.
type FetchRequest struct {
	JobID   uuid.UUID
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the raw content returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Engine     Engine
}

// Payload is the extraction output for one fetched page.
type Payload struct {
	Title       string
	Description string
	Markdown    string
	HTML        string
	Text        string
	Metadata    map[string]string
}

// SearchItem is one parsed search-provider result.
type SearchItem struct {
	Rank        int
	URL         string
	Title       string
	Description string
}

// Retention maps job kinds to record TTLs. Crawl roots outlive unit jobs so
// aggregated result sets stay readable after their children expire.
type Retention struct {
	Unit time.Duration
	Root time.Duration
}

// For returns the TTL applied to records of the given kind.
func (r Retention) For(kind Kind) time.Duration {
	if kind == KindCrawl {
		return r.Root
	}
	return r.Unit
}
