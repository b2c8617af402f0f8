package worker

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/lifecycle"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
)

// requeueTimeout bounds the re-enqueue of a retried unit so a saturated
// queue cannot pin the worker goroutine indefinitely.
const requeueTimeout = 5 * time.Second

// FailureHandler turns execution errors into retries or terminal failures.
// Retryable errors send the job back to its engine queue with jittered
// exponential backoff; everything else, and anything out of attempts, is
// marked failed.
type FailureHandler struct {
	life        *lifecycle.Manager
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	logger      *zap.Logger
}

// NewFailureHandler builds a handler. maxRetries counts the re-executions
// after the initial attempt, so a unit runs at most maxRetries+1 times.
func NewFailureHandler(
	life *lifecycle.Manager,
	maxRetries int,
	backoffBase time.Duration,
	backoffMax time.Duration,
	logger *zap.Logger,
) (*FailureHandler, error) {
	if life == nil {
		return nil, fmt.Errorf("%w: lifecycle manager is required", job.ErrInvalidConfig)
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", job.ErrInvalidConfig)
	}
	if backoffBase <= 0 {
		return nil, fmt.Errorf("%w: backoff base must be positive", job.ErrInvalidConfig)
	}
	if backoffMax < backoffBase {
		return nil, fmt.Errorf("%w: backoff max must not be below the base", job.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailureHandler{
		life:        life,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		logger:      logger,
	}, nil
}

// Handle routes a failed unit. The context should be the worker's base
// context rather than the per-run one, so that bookkeeping still lands when
// the run was cancelled.
func (h *FailureHandler) Handle(ctx context.Context, unit job.Unit, retry queue.RetryQueue, cause error) {
	if !job.IsRetryable(cause) || unit.Attempt > h.maxRetries {
		h.fail(ctx, unit, cause)
		return
	}

	if _, err := h.life.Requeue(ctx, unit); err != nil {
		// The job advanced while we were deciding, most likely a cancel.
		// Whoever moved it owns the terminal state now.
		h.logger.Debug("retry abandoned",
			zap.String("job_id", unit.JobID.String()),
			zap.Int("attempt", unit.Attempt),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveRetry(string(unit.Engine))

	delay := h.backoff(unit.Attempt)
	h.logger.Debug("retrying job",
		zap.String("job_id", unit.JobID.String()),
		zap.String("engine", string(unit.Engine)),
		zap.Int("attempt", unit.Attempt),
		zap.Duration("backoff", delay),
		zap.Error(cause),
	)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		// Shutdown. The job stays waiting and resumes on the next start.
		return
	}

	next := unit
	next.Attempt++
	enqCtx, cancel := context.WithTimeout(ctx, requeueTimeout)
	defer cancel()
	if err := retry.Enqueue(enqCtx, next); err != nil {
		h.logger.Warn("retry enqueue failed",
			zap.String("job_id", unit.JobID.String()),
			zap.Int("attempt", next.Attempt),
			zap.Error(err),
		)
		h.fail(ctx, unit, cause)
	}
}

// backoff computes the jittered delay before the given attempt is retried.
// The first retry waits around backoffBase, doubling up to backoffMax.
func (h *FailureHandler) backoff(attempt int) time.Duration {
	delay := float64(h.backoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(h.backoffMax) {
		delay = float64(h.backoffMax)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func (h *FailureHandler) fail(ctx context.Context, unit job.Unit, cause error) {
	if _, err := h.life.MarkFailed(ctx, unit, cause); err != nil {
		h.logger.Debug("failure mark skipped",
			zap.String("job_id", unit.JobID.String()),
			zap.Error(err),
		)
	}
}
