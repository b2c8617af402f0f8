// Package worker executes dequeued units end to end: claim the job, drive
// the engine pipeline, and commit a terminal state or hand the unit to the
// failure handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/lifecycle"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
	"github.com/jackronrau/AnyCrawl-sub001/internal/telemetry"
)

// Searcher runs a search query against an external engine and returns the
// ranked items plus the number of result pages it fetched to produce them.
type Searcher interface {
	Search(ctx context.Context, query string, opts job.SearchOptions) ([]job.SearchItem, int, error)
}

// Detector decides whether a plain-HTTP response looks like it needs a
// JavaScript renderer to be useful.
type Detector interface {
	ShouldPromote(resp job.FetchResponse) bool
}

// Config controls Executor behavior.
type Config struct {
	BlobPrefix   string
	ContentType  string
	StoreRaw     bool
	CostPerUnit  int64
	FetchTimeout time.Duration
}

// Executor consumes queue units and runs the fetch-extract-persist pipeline.
// It implements queue.Executor.
type Executor struct {
	life      *lifecycle.Manager
	failure   *FailureHandler
	fetchers  map[job.Engine]job.Fetcher
	extractor job.Extractor
	searcher  Searcher
	policy    job.Policy
	detector  Detector
	blobs     job.BlobStore
	hasher    job.Hasher
	clock     job.Clock
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Executor.
func New(
	life *lifecycle.Manager,
	failure *FailureHandler,
	fetchers map[job.Engine]job.Fetcher,
	extractor job.Extractor,
	searcher Searcher,
	policy job.Policy,
	detector Detector,
	blobs job.BlobStore,
	hasher job.Hasher,
	clock job.Clock,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.CostPerUnit <= 0 {
		cfg.CostPerUnit = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		life:      life,
		failure:   failure,
		fetchers:  fetchers,
		extractor: extractor,
		searcher:  searcher,
		policy:    policy,
		detector:  detector,
		blobs:     blobs,
		hasher:    hasher,
		clock:     clock,
		tracer:    telemetry.Tracer("worker"),
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute claims the unit's job and runs it. Terminal bookkeeping uses the
// worker's base context so it still lands when a cancel aborts the run
// context mid-fetch.
func (e *Executor) Execute(ctx context.Context, unit job.Unit, retry queue.RetryQueue) {
	ctx, span := e.tracer.Start(ctx, "worker.execute",
		trace.WithAttributes(
			attribute.String("job.id", unit.JobID.String()),
			attribute.String("job.kind", string(unit.Kind)),
			attribute.String("job.engine", string(unit.Engine)),
			attribute.Int("job.attempt", unit.Attempt),
		),
	)
	defer span.End()

	_, runCtx, err := e.life.BeginRun(ctx, unit.JobID)
	if err != nil {
		// Cancelled or otherwise advanced while queued; drop the late unit.
		e.logger.Debug("unit dropped before run",
			zap.String("job_id", unit.JobID.String()),
			zap.Error(err),
		)
		return
	}

	var (
		results []job.Result
		links   []string
		credits int64
	)
	if unit.Kind == job.KindSearch {
		results, credits, err = e.runSearch(runCtx, unit)
	} else {
		results, links, credits, err = e.runPage(runCtx, unit)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.failure.Handle(ctx, unit, retry, err)
		return
	}

	if _, err := e.life.MarkCompleted(ctx, lifecycle.Completion{
		Unit:    unit,
		Credits: credits,
		Results: results,
		Links:   links,
	}); err != nil {
		// Lost the terminal CAS, almost always to a cancel. Results are
		// discarded with it.
		e.logger.Debug("completion discarded",
			zap.String("job_id", unit.JobID.String()),
			zap.Error(err),
		)
	}
}

// runPage executes the scrape pipeline for scrape and crawl_page units.
func (e *Executor) runPage(ctx context.Context, unit job.Unit) ([]job.Result, []string, int64, error) {
	if e.policy != nil {
		if err := e.policy.Acquire(ctx, unit.URL); err != nil {
			return nil, nil, 0, fmt.Errorf("policy acquire: %w", err)
		}
	}

	fetcher, ok := e.fetchers[unit.Engine]
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: no fetcher for engine %q", job.ErrUnsupportedEngine, unit.Engine)
	}

	resp, err := fetcher.Fetch(ctx, e.buildFetchRequest(unit))
	if err != nil {
		metrics.ObserveFetchError(string(unit.Engine), fetchErrorKind(err))
		return nil, nil, 0, err
	}
	metrics.ObserveFetch(string(unit.Engine), resp.Duration)

	payload, err := e.extractor.Extract(ctx, resp, unit.Scrape)
	if err != nil {
		return nil, nil, 0, err
	}

	var links []string
	if unit.Kind == job.KindCrawlPage {
		links, err = e.extractor.DiscoverLinks(resp)
		if err != nil {
			// The page itself succeeded; losing its outbound links only
			// narrows the frontier.
			e.logger.Warn("link discovery failed",
				zap.String("job_id", unit.JobID.String()),
				zap.String("url", resp.URL),
				zap.Error(err),
			)
			links = nil
		}
	}

	hash, err := e.hasher.Hash(resp.Body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("hash body: %w", err)
	}

	var blobURI string
	if e.cfg.StoreRaw && e.blobs != nil {
		uri, err := e.blobs.PutObject(ctx, e.buildBlobPath(unit.JobID.String(), hash), e.cfg.ContentType, resp.Body)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("put object: %w", err)
		}
		blobURI = uri
	}

	metadata := payload.Metadata
	if !unit.Engine.Headless() && e.detector != nil && e.detector.ShouldPromote(resp) {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["render_suggested"] = "true"
	}

	result := job.Result{
		OwnerID:     unit.Owner(),
		JobID:       unit.JobID,
		Seq:         unit.Seq,
		URL:         resp.URL,
		Title:       payload.Title,
		Description: payload.Description,
		Markdown:    payload.Markdown,
		HTML:        payload.HTML,
		Text:        payload.Text,
		StatusCode:  resp.StatusCode,
		ContentHash: hash,
		BlobURI:     blobURI,
		Metadata:    metadata,
		FetchedAt:   e.clock.Now(),
	}
	return []job.Result{result}, links, e.cfg.CostPerUnit, nil
}

// runSearch executes a search unit. Billing follows the pages actually
// fetched from the engine, not the row count.
func (e *Executor) runSearch(ctx context.Context, unit job.Unit) ([]job.Result, int64, error) {
	if e.searcher == nil {
		return nil, 0, fmt.Errorf("%w: search is not configured", job.ErrUnsupportedEngine)
	}

	items, pages, err := e.searcher.Search(ctx, unit.Query, unit.Search)
	if err != nil {
		return nil, 0, err
	}
	if pages < 1 {
		// A successful search bills at least one page.
		pages = 1
	}

	now := e.clock.Now()
	results := make([]job.Result, 0, len(items))
	for i, item := range items {
		results = append(results, job.Result{
			OwnerID:     unit.Owner(),
			JobID:       unit.JobID,
			Seq:         int64(i),
			URL:         item.URL,
			Title:       item.Title,
			Description: item.Description,
			Metadata:    map[string]string{"rank": strconv.Itoa(item.Rank)},
			FetchedAt:   now,
		})
	}
	return results, int64(pages) * e.cfg.CostPerUnit, nil
}

func (e *Executor) buildFetchRequest(unit job.Unit) job.FetchRequest {
	var headers http.Header
	if len(unit.Scrape.Headers) > 0 {
		headers = make(http.Header, len(unit.Scrape.Headers))
		for k, v := range unit.Scrape.Headers {
			headers.Set(k, v)
		}
	}
	timeout := e.cfg.FetchTimeout
	if unit.Scrape.TimeoutSeconds > 0 {
		timeout = time.Duration(unit.Scrape.TimeoutSeconds) * time.Second
	}
	return job.FetchRequest{
		JobID:   unit.JobID,
		URL:     unit.URL,
		Headers: headers,
		Timeout: timeout,
	}
}

func (e *Executor) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func fetchErrorKind(err error) string {
	var fe *job.FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "other"
}
