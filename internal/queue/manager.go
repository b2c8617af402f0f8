package queue

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/lifecycle"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
)

// Submission is a validated request for a top-level scrape or search job.
type Submission struct {
	Kind      job.Kind
	Engine    job.Engine
	URL       string
	Query     string
	AccountID uuid.UUID
	Scrape    job.ScrapeOptions
	Search    job.SearchOptions
}

// ChildSubmission is one crawl frontier page, admitted by the orchestrator
// and executed as a regular unit on the root's engine.
type ChildSubmission struct {
	RootID    uuid.UUID
	AccountID uuid.UUID
	Engine    job.Engine
	URL       string
	Depth     int
	Seq       int64
	Scrape    job.ScrapeOptions
}

// Manager routes submissions to per-engine queues and owns the
// create/enqueue/transition sequence for every unit entering the system.
type Manager struct {
	store     job.Store
	results   job.ResultStore
	life      *lifecycle.Manager
	ids       job.IDGenerator
	clock     job.Clock
	retention job.Retention
	logger    *zap.Logger

	mu     sync.RWMutex
	queues map[job.Engine]*EngineQueue
}

// NewManager constructs an empty Manager; queues attach via Register.
func NewManager(store job.Store, results job.ResultStore, life *lifecycle.Manager, ids job.IDGenerator, clock job.Clock, retention job.Retention, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		results:   results,
		life:      life,
		ids:       ids,
		clock:     clock,
		retention: retention,
		logger:    logger,
		queues:    make(map[job.Engine]*EngineQueue),
	}
}

// Register attaches an engine queue. Registering the same engine twice is a
// wiring mistake and fails.
func (m *Manager) Register(q *EngineQueue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[q.Engine()]; ok {
		return fmt.Errorf("%w: engine %s registered twice", job.ErrInvalidConfig, q.Engine())
	}
	m.queues[q.Engine()] = q
	return nil
}

// Engines lists the registered engines in stable order.
func (m *Manager) Engines() []job.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]job.Engine, 0, len(m.queues))
	for e := range m.queues {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Start launches every registered queue with ctx as the execution base
// context.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queues {
		q.Start(ctx)
	}
}

// StopAll stops every queue and waits for in-flight units to finish.
func (m *Manager) StopAll() {
	m.mu.RLock()
	queues := make([]*EngineQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *EngineQueue) {
			defer wg.Done()
			q.Stop()
		}(q)
	}
	wg.Wait()
}

// Submit creates a scrape or search job, enqueues its unit, and reports the
// persisted record. The returned job is in waiting state unless a worker
// already claimed it.
func (m *Manager) Submit(ctx context.Context, sub Submission) (job.Job, error) {
	if err := m.validate(sub); err != nil {
		return job.Job{}, err
	}
	q, err := m.queueFor(sub.Engine)
	if err != nil {
		return job.Job{}, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return job.Job{}, err
	}
	now := m.clock.Now()
	j := job.Job{
		ID:        id,
		Kind:      sub.Kind,
		Engine:    sub.Engine,
		Status:    job.StatusPending,
		URL:       sub.URL,
		Query:     sub.Query,
		AccountID: sub.AccountID,
		Parameters: job.Parameters{
			Scrape: sub.Scrape,
			Search: sub.Search,
		},
		Submitted: now,
		Updated:   now,
		ExpireAt:  now.Add(m.retention.For(sub.Kind)),
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return job.Job{}, fmt.Errorf("create job: %w", err)
	}

	unit := job.Unit{
		JobID:     id,
		Kind:      sub.Kind,
		Engine:    sub.Engine,
		URL:       sub.URL,
		Query:     sub.Query,
		RootID:    id,
		AccountID: sub.AccountID,
		Scrape:    sub.Scrape,
		Search:    sub.Search,
		Attempt:   1,
		Submitted: now,
	}
	return m.dispatch(ctx, q, j, unit)
}

// SubmitChild creates and enqueues one crawl page on behalf of a root.
//
// The returned job's ID tells the orchestrator what happened on error: a
// non-nil ID means the record exists and has already failed terminally, so
// the usual terminal notification covers the frontier accounting; a nil ID
// means nothing was created and the caller must release its pending slot
// itself.
func (m *Manager) SubmitChild(ctx context.Context, sub ChildSubmission) (job.Job, error) {
	q, err := m.queueFor(sub.Engine)
	if err != nil {
		return job.Job{}, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return job.Job{}, err
	}
	now := m.clock.Now()
	rootID := sub.RootID
	j := job.Job{
		ID:        id,
		Kind:      job.KindCrawlPage,
		Engine:    sub.Engine,
		Status:    job.StatusPending,
		URL:       sub.URL,
		Depth:     sub.Depth,
		ParentID:  &rootID,
		AccountID: sub.AccountID,
		Parameters: job.Parameters{
			Scrape: sub.Scrape,
		},
		Submitted: now,
		Updated:   now,
		ExpireAt:  now.Add(m.retention.For(job.KindCrawlPage)),
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return job.Job{}, fmt.Errorf("create crawl page: %w", err)
	}

	unit := job.Unit{
		JobID:     id,
		Kind:      job.KindCrawlPage,
		Engine:    sub.Engine,
		URL:       sub.URL,
		Depth:     sub.Depth,
		Seq:       sub.Seq,
		RootID:    sub.RootID,
		AccountID: sub.AccountID,
		Scrape:    sub.Scrape,
		Attempt:   1,
		Submitted: now,
	}
	return m.dispatch(ctx, q, j, unit)
}

// dispatch enqueues the unit and settles the job's initial state. Enqueue
// failure fails the job terminally so no record is left stranded in pending.
func (m *Manager) dispatch(ctx context.Context, q *EngineQueue, j job.Job, unit job.Unit) (job.Job, error) {
	if err := q.Enqueue(ctx, unit); err != nil {
		failed, failErr := m.life.FailSubmission(ctx, j.ID, err)
		if failErr != nil {
			m.logger.Error("fail stranded submission",
				zap.String("job_id", j.ID.String()),
				zap.Error(failErr),
			)
			return j, err
		}
		return failed, err
	}

	waiting, err := m.life.MarkWaiting(ctx, j.ID)
	if err != nil {
		// A worker can legitimately claim the unit before this write lands;
		// any other failure is surfaced through the job record later.
		m.logger.Debug("job advanced before waiting mark",
			zap.String("job_id", j.ID.String()),
			zap.Error(err),
		)
		metrics.ObserveJobSubmitted(string(j.Kind), string(j.Engine))
		return j, nil
	}
	metrics.ObserveJobSubmitted(string(j.Kind), string(j.Engine))
	return waiting, nil
}

// Status returns the persisted record for a job.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (job.Job, error) {
	return m.store.GetJob(ctx, id)
}

// Await blocks until the job is terminal or timeout elapses.
func (m *Manager) Await(ctx context.Context, id uuid.UUID, timeout time.Duration) (job.Job, error) {
	return m.life.Await(ctx, id, timeout)
}

// Results returns one page of a job's result rows plus the full count.
func (m *Manager) Results(ctx context.Context, id uuid.UUID, limit, offset int) ([]job.Result, int, error) {
	if _, err := m.store.GetJob(ctx, id); err != nil {
		return nil, 0, err
	}
	rows, err := m.results.ListResults(ctx, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.results.CountResults(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Cancel asks the lifecycle to cancel a job and reports the transition.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (job.Status, job.Job, error) {
	return m.life.Cancel(ctx, id)
}

func (m *Manager) queueFor(engine job.Engine) (*EngineQueue, error) {
	m.mu.RLock()
	q, ok := m.queues[engine]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrUnsupportedEngine, engine)
	}
	return q, nil
}

func (m *Manager) validate(sub Submission) error {
	switch sub.Kind {
	case job.KindScrape:
		return validateTargetURL(sub.URL)
	case job.KindSearch:
		if strings.TrimSpace(sub.Query) == "" {
			return fmt.Errorf("%w: search requires a query", job.ErrInvalidConfig)
		}
		if sub.Search.Limit < 0 || sub.Search.Pages < 0 {
			return fmt.Errorf("%w: search limit and pages must be >= 0", job.ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %q is not submittable here", job.ErrInvalidConfig, sub.Kind)
	}
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: url is required", job.ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: parse url %q: %v", job.ErrInvalidConfig, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme %q is not http(s)", job.ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q has no host", job.ErrInvalidConfig, raw)
	}
	return nil
}
