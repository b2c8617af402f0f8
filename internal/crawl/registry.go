package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
)

// Request describes a crawl submission after transport-level decoding.
type Request struct {
	Engine    job.Engine
	URL       string
	AccountID uuid.UUID
	Options   job.CrawlOptions
}

// Registry creates crawl roots and owns the live orchestrator per root. It
// implements the lifecycle's terminal notifier: crawl page outcomes are
// routed to the owning orchestrator, and a terminal root retires its
// orchestrator.
type Registry struct {
	store     job.Store
	life      RootLifecycle
	submitter ChildSubmitter
	ids       job.IDGenerator
	clock     job.Clock
	retention job.Retention
	defaults  Defaults
	logger    *zap.Logger

	mu    sync.Mutex
	roots map[uuid.UUID]*Orchestrator
}

// Defaults fill crawl options the caller left unset. MaxDepth has no entry
// here: zero is a meaningful value (seed only), so absence is resolved at
// the transport layer where it is visible.
type Defaults struct {
	Limit    int
	Strategy job.Strategy
}

// NewRegistry constructs a Registry.
func NewRegistry(store job.Store, life RootLifecycle, submitter ChildSubmitter, ids job.IDGenerator, clock job.Clock, retention job.Retention, defaults Defaults, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:     store,
		life:      life,
		submitter: submitter,
		ids:       ids,
		clock:     clock,
		retention: retention,
		defaults:  defaults,
		logger:    logger,
		roots:     make(map[uuid.UUID]*Orchestrator),
	}
}

// StartCrawl validates the request, persists the root job, and seeds its
// frontier. The returned root is already running; its children report in
// through JobTerminal.
func (r *Registry) StartCrawl(ctx context.Context, req Request) (job.Job, error) {
	opts, err := r.resolveOptions(req.Options)
	if err != nil {
		return job.Job{}, err
	}
	if _, err := job.ParseEngine(string(req.Engine)); err != nil {
		return job.Job{}, err
	}
	if _, err := NormalizeURL(req.URL); err != nil {
		return job.Job{}, fmt.Errorf("%w: crawl url: %v", job.ErrInvalidConfig, err)
	}

	id, err := r.ids.NewID()
	if err != nil {
		return job.Job{}, err
	}
	now := r.clock.Now()
	root := job.Job{
		ID:         id,
		Kind:       job.KindCrawl,
		Engine:     req.Engine,
		Status:     job.StatusPending,
		URL:        req.URL,
		AccountID:  req.AccountID,
		Parameters: job.Parameters{Crawl: opts},
		Submitted:  now,
		Updated:    now,
		ExpireAt:   now.Add(r.retention.For(job.KindCrawl)),
	}
	if err := r.store.CreateJob(ctx, root); err != nil {
		return job.Job{}, fmt.Errorf("create crawl root: %w", err)
	}

	orch, err := newOrchestrator(root, opts, r.submitter, r.life, r.logger)
	if err != nil {
		// Options were validated above, so this is a wiring failure; the
		// stored root must not stay pending forever.
		if _, failErr := r.life.FailRoot(ctx, id, err); failErr != nil {
			r.logger.Error("fail unseedable crawl root", zap.Error(failErr))
		}
		return job.Job{}, err
	}

	running, _, err := r.life.BeginRun(ctx, id)
	if err != nil {
		return job.Job{}, fmt.Errorf("start crawl root: %w", err)
	}

	r.mu.Lock()
	r.roots[id] = orch
	r.mu.Unlock()

	metrics.ObserveJobSubmitted(string(job.KindCrawl), string(req.Engine))
	orch.Seed(ctx)

	// Seeding may already have retired the root (empty frontier or a
	// structural seed failure), so report the fresh record.
	current, getErr := r.store.GetJob(ctx, id)
	if getErr != nil {
		return running, nil
	}
	return current, nil
}

// JobTerminal implements lifecycle.Notifier. Calls for one root's children
// are serialized by the owning orchestrator's mutex; the registry lock is
// released before any orchestrator work so notifications never deadlock
// against root retirement.
func (r *Registry) JobTerminal(ctx context.Context, j job.Job, links []string) {
	switch j.Kind {
	case job.KindCrawlPage:
		if j.ParentID == nil {
			return
		}
		r.mu.Lock()
		orch := r.roots[*j.ParentID]
		r.mu.Unlock()
		if orch == nil {
			// Root already terminal; late children keep their results but
			// spawn nothing further.
			return
		}
		orch.ChildTerminal(ctx, j, links)
	case job.KindCrawl:
		r.mu.Lock()
		orch := r.roots[j.ID]
		delete(r.roots, j.ID)
		r.mu.Unlock()
		if orch != nil {
			orch.close()
		}
	}
}

// Active reports how many crawl roots currently hold a live frontier.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roots)
}

func (r *Registry) resolveOptions(opts job.CrawlOptions) (job.CrawlOptions, error) {
	if opts.Limit == 0 {
		opts.Limit = r.defaults.Limit
	}
	if opts.Strategy == "" {
		opts.Strategy = r.defaults.Strategy
	}

	if opts.MaxDepth < 0 {
		return opts, fmt.Errorf("%w: max_depth must be >= 0", job.ErrInvalidConfig)
	}
	if opts.Limit < 1 {
		return opts, fmt.Errorf("%w: limit must be >= 1", job.ErrInvalidConfig)
	}
	switch opts.Strategy {
	case job.StrategyAll, job.StrategySameDomain, job.StrategySameHost:
	default:
		return opts, fmt.Errorf("%w: unknown crawl strategy %q", job.ErrInvalidConfig, opts.Strategy)
	}
	if _, err := compilePatterns(opts.IncludePaths); err != nil {
		return opts, fmt.Errorf("%w: include paths: %v", job.ErrInvalidConfig, err)
	}
	if _, err := compilePatterns(opts.ExcludePaths); err != nil {
		return opts, fmt.Errorf("%w: exclude paths: %v", job.ErrInvalidConfig, err)
	}
	return opts, nil
}
