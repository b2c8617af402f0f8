// Package crawl expands crawl roots into bounded, deduplicated frontiers of
// page jobs and detects aggregate completion. Each root gets one
// Orchestrator; the Registry routes terminal notifications from the
// lifecycle to the owning orchestrator.
package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
)

// ChildSubmitter admits one frontier page into an engine queue. Implemented
// by the queue manager.
type ChildSubmitter interface {
	SubmitChild(ctx context.Context, sub queue.ChildSubmission) (job.Job, error)
}

// RootLifecycle is the slice of lifecycle behavior a crawl root needs.
type RootLifecycle interface {
	BeginRun(ctx context.Context, id uuid.UUID) (job.Job, context.Context, error)
	CompleteRoot(ctx context.Context, id uuid.UUID) (job.Job, error)
	FailRoot(ctx context.Context, id uuid.UUID, cause error) (job.Job, error)
}

// Orchestrator owns one crawl root's frontier: the visited set, the pending
// child counter, and admission of discovered links under depth, scope, path,
// and limit rules. All frontier state is mutated under one mutex and belongs
// to this instance alone; no other component touches it.
//
// Lock discipline: the mutex is never held across calls into the submitter
// or the lifecycle, because both can call back into this orchestrator on the
// same goroutine (a child whose enqueue fails goes terminal synchronously).
type Orchestrator struct {
	rootID    uuid.UUID
	accountID uuid.UUID
	engine    job.Engine
	scrape    job.ScrapeOptions

	maxDepth int
	limit    int
	strategy job.Strategy
	seedHost string
	seedURL  string
	include  []glob.Glob
	exclude  []glob.Glob

	submitter ChildSubmitter
	life      RootLifecycle
	logger    *zap.Logger

	mu      sync.Mutex
	visited map[string]struct{}
	pending int
	seq     int64
	total   int
	seeding bool
	closed  bool
}

func newOrchestrator(root job.Job, opts job.CrawlOptions, submitter ChildSubmitter, life RootLifecycle, logger *zap.Logger) (*Orchestrator, error) {
	seed, err := NormalizeURL(root.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: seed url: %v", job.ErrInvalidConfig, err)
	}
	include, err := compilePatterns(opts.IncludePaths)
	if err != nil {
		return nil, fmt.Errorf("%w: include paths: %v", job.ErrInvalidConfig, err)
	}
	exclude, err := compilePatterns(opts.ExcludePaths)
	if err != nil {
		return nil, fmt.Errorf("%w: exclude paths: %v", job.ErrInvalidConfig, err)
	}

	return &Orchestrator{
		rootID:    root.ID,
		accountID: root.AccountID,
		engine:    root.Engine,
		scrape:    opts.Scrape,
		maxDepth:  opts.MaxDepth,
		limit:     opts.Limit,
		strategy:  opts.Strategy,
		seedHost:  hostOf(seed),
		seedURL:   seed,
		include:   include,
		exclude:   exclude,
		submitter: submitter,
		life:      life,
		logger:    logger.With(zap.String("root_id", root.ID.String())),
		visited:   make(map[string]struct{}),
	}, nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Seed admits the root's own URL at depth 0 and submits it. A seed rejected
// by the admission filters leaves nothing pending, so the root completes
// right away with an empty result set. A seed whose job record could not be
// created at all fails the root.
func (o *Orchestrator) Seed(ctx context.Context) {
	o.mu.Lock()
	o.seeding = true
	subs := o.admitLocked([]string{o.seedURL}, 0)
	o.mu.Unlock()

	structural := o.submitBatch(ctx, subs)

	o.mu.Lock()
	o.seeding = false
	done := o.pending == 0 && !o.closed
	if done {
		o.closed = true
	}
	o.mu.Unlock()

	if structural != nil {
		if _, err := o.life.FailRoot(ctx, o.rootID, structural); err != nil {
			o.logger.Error("fail crawl root", zap.Error(err))
		}
		return
	}
	if done {
		if _, err := o.life.CompleteRoot(ctx, o.rootID); err != nil {
			o.logger.Error("complete empty crawl root", zap.Error(err))
		}
	}
}

// ChildTerminal records one child's terminal outcome. Links discovered by a
// completed child are admitted before the child's own pending slot is
// released, so the counter cannot reach zero while admissible work remains.
func (o *Orchestrator) ChildTerminal(ctx context.Context, child job.Job, links []string) {
	var subs []queue.ChildSubmission
	o.mu.Lock()
	if child.Status == job.StatusCompleted && len(links) > 0 {
		subs = o.admitLocked(links, child.Depth+1)
	}
	o.mu.Unlock()

	o.submitBatch(ctx, subs)
	o.finishChild(ctx)
}

// Snapshot reports frontier counters for logging and tests.
func (o *Orchestrator) Snapshot() (pending, visited, submitted int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending, len(o.visited), o.total
}

// close stops all further admissions. In-flight children finish naturally.
func (o *Orchestrator) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

// admitLocked applies the admission rules to each candidate and reserves
// frontier slots for the survivors. Caller holds o.mu.
func (o *Orchestrator) admitLocked(candidates []string, depth int) []queue.ChildSubmission {
	if o.closed || depth > o.maxDepth {
		return nil
	}

	var subs []queue.ChildSubmission
	for _, raw := range candidates {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if !o.inScope(normalized) || !o.pathAllowed(normalized) {
			continue
		}
		if _, seen := o.visited[normalized]; seen {
			continue
		}
		// The seed rides outside the limit budget; limit bounds the
		// link-discovered children.
		if depth > 0 && o.total >= o.limit {
			break
		}

		o.visited[normalized] = struct{}{}
		if depth > 0 {
			o.total++
		}
		o.pending++
		subs = append(subs, queue.ChildSubmission{
			RootID:    o.rootID,
			AccountID: o.accountID,
			Engine:    o.engine,
			URL:       normalized,
			Depth:     depth,
			Seq:       o.seq,
			Scrape:    o.scrape,
		})
		o.seq++
	}
	return subs
}

// submitBatch enqueues reserved submissions outside the lock. A submission
// that failed with a job record already created needs no bookkeeping here,
// because its terminal notification has run by the time SubmitChild returns.
// A submission that created nothing releases its reserved slot, and the
// first such error is reported so Seed can fail the root.
func (o *Orchestrator) submitBatch(ctx context.Context, subs []queue.ChildSubmission) error {
	var structural error
	for _, sub := range subs {
		created, err := o.submitter.SubmitChild(ctx, sub)
		if err == nil {
			continue
		}
		o.logger.Warn("crawl page submission failed",
			zap.String("url", sub.URL),
			zap.Int("depth", sub.Depth),
			zap.Error(err),
		)
		if created.ID == uuid.Nil {
			o.mu.Lock()
			o.pending--
			o.mu.Unlock()
			if structural == nil {
				structural = err
			}
		}
	}
	return structural
}

// finishChild releases one pending slot and completes the root when the
// frontier is exhausted.
func (o *Orchestrator) finishChild(ctx context.Context) {
	o.mu.Lock()
	o.pending--
	done := o.pending == 0 && !o.seeding && !o.closed
	if done {
		o.closed = true
	}
	o.mu.Unlock()

	if done {
		if _, err := o.life.CompleteRoot(ctx, o.rootID); err != nil {
			o.logger.Error("complete crawl root", zap.Error(err))
		}
	}
}

func (o *Orchestrator) inScope(normalized string) bool {
	switch o.strategy {
	case job.StrategyAll:
		return true
	case job.StrategySameDomain:
		return sameOrSubdomain(hostOf(normalized), o.seedHost)
	default:
		// Same-hostname is the safe default for unset strategies.
		return hostOf(normalized) == o.seedHost
	}
}

func (o *Orchestrator) pathAllowed(normalized string) bool {
	path := pathOf(normalized)
	for _, g := range o.exclude {
		if g.Match(path) {
			return false
		}
	}
	if len(o.include) == 0 {
		return true
	}
	for _, g := range o.include {
		if g.Match(path) {
			return true
		}
	}
	return false
}
