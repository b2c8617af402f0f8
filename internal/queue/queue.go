// Package queue implements per-engine bounded work queues and the manager
// that routes submissions across them. Each engine owns an isolated queue
// and worker pool, so a saturated browser pool cannot starve plain-HTTP
// work.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
)

// RetryQueue is the slice of queue behavior the failure handler needs to
// hand a unit back for another attempt.
type RetryQueue interface {
	Enqueue(ctx context.Context, unit job.Unit) error
}

// Executor runs one dequeued unit to a terminal outcome. Retryable failures
// go back through retry; everything else ends in a terminal transition
// before Execute returns.
type Executor interface {
	Execute(ctx context.Context, unit job.Unit, retry RetryQueue)
}

// Config bounds one engine queue. Limits are hard: violating them fails
// construction rather than clamping silently.
type Config struct {
	Engine         job.Engine
	MinConcurrency int
	MaxConcurrency int
	QueueSize      int
	// IdleTimeout is how long a transient worker waits for work before it
	// exits. Zero selects the default.
	IdleTimeout time.Duration
}

const defaultIdleTimeout = 30 * time.Second

// EngineQueue is a bounded buffer with an elastic worker pool. Min workers
// run for the queue's whole life; when a backlog builds, transient workers
// spawn up to the max and exit after an idle period.
type EngineQueue struct {
	cfg    Config
	exec   Executor
	logger *zap.Logger

	units chan job.Unit

	mu      sync.Mutex
	started bool
	stopped bool
	workers int
	baseCtx context.Context

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngineQueue validates cfg and constructs a queue. Workers do not start
// until Start.
func NewEngineQueue(cfg Config, exec Executor, logger *zap.Logger) (*EngineQueue, error) {
	if cfg.Engine == "" {
		return nil, fmt.Errorf("%w: engine queue requires an engine", job.ErrInvalidConfig)
	}
	if cfg.MinConcurrency < 1 {
		return nil, fmt.Errorf("%w: %s min concurrency must be >= 1", job.ErrInvalidConfig, cfg.Engine)
	}
	if cfg.MaxConcurrency < cfg.MinConcurrency {
		return nil, fmt.Errorf("%w: %s max concurrency %d below min %d",
			job.ErrInvalidConfig, cfg.Engine, cfg.MaxConcurrency, cfg.MinConcurrency)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("%w: %s queue size must be >= 1", job.ErrInvalidConfig, cfg.Engine)
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: engine queue requires an executor", job.ErrInvalidConfig)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngineQueue{
		cfg:    cfg,
		exec:   exec,
		logger: logger.With(zap.String("engine", string(cfg.Engine))),
		units:  make(chan job.Unit, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}, nil
}

// Engine returns the engine this queue serves.
func (q *EngineQueue) Engine() job.Engine {
	return q.cfg.Engine
}

// Depth reports how many units are buffered.
func (q *EngineQueue) Depth() int {
	return len(q.units)
}

// Start launches the core workers. Executions receive ctx as their base
// context, so cancelling it aborts in-flight fetches on hard shutdown.
// Start is idempotent.
func (q *EngineQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.baseCtx = ctx
	for i := 0; i < q.cfg.MinConcurrency; i++ {
		q.workers++
		q.wg.Add(1)
		go q.workerLoop(true)
	}
	q.logger.Info("engine queue started",
		zap.Int("min_workers", q.cfg.MinConcurrency),
		zap.Int("max_workers", q.cfg.MaxConcurrency),
		zap.Int("queue_size", q.cfg.QueueSize),
	)
}

// Enqueue buffers a unit, blocking while the queue is full until ctx ends.
// A stopped queue fails immediately with ErrQueueUnavailable.
func (q *EngineQueue) Enqueue(ctx context.Context, unit job.Unit) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return fmt.Errorf("%s queue: %w", q.cfg.Engine, job.ErrQueueUnavailable)
	}

	select {
	case <-q.stopCh:
		return fmt.Errorf("%s queue: %w", q.cfg.Engine, job.ErrQueueUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s unit: %w", q.cfg.Engine, ctx.Err())
	case q.units <- unit:
		metrics.SetQueueDepth(string(q.cfg.Engine), len(q.units))
		q.maybeSpawn()
		return nil
	}
}

// Stop prevents further enqueues and dequeues and waits for executing units
// to finish. Units still buffered stay unprocessed; their jobs remain in
// waiting. Stop never kills in-flight work and is idempotent.
func (q *EngineQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("engine queue stopped", zap.Int("abandoned", len(q.units)))
}

// maybeSpawn adds a transient worker when there is a backlog and headroom
// under the max.
func (q *EngineQueue) maybeSpawn() {
	if len(q.units) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started || q.stopped || q.workers >= q.cfg.MaxConcurrency {
		return
	}
	q.workers++
	q.wg.Add(1)
	go q.workerLoop(false)
}

func (q *EngineQueue) workerLoop(core bool) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		q.workers--
		q.mu.Unlock()
	}()

	idle := time.NewTimer(q.cfg.IdleTimeout)
	defer idle.Stop()
	if core {
		idle.Stop()
	}

	for {
		// Stop wins over buffered work so shutdown drains in-flight units
		// only; anything still buffered stays waiting.
		select {
		case <-q.stopCh:
			return
		default:
		}

		if core {
			select {
			case unit := <-q.units:
				q.execute(unit)
			case <-q.stopCh:
				return
			}
			continue
		}

		select {
		case unit := <-q.units:
			q.execute(unit)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.cfg.IdleTimeout)
		case <-idle.C:
			return
		case <-q.stopCh:
			return
		}
	}
}

func (q *EngineQueue) execute(unit job.Unit) {
	engine := string(q.cfg.Engine)
	metrics.SetQueueDepth(engine, len(q.units))
	metrics.IncActiveWorkers(engine)
	defer metrics.DecActiveWorkers(engine)

	q.exec.Execute(q.baseCtx, unit, q)
}
