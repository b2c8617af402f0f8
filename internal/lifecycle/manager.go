// Package lifecycle owns the job state machine. Every status write in the
// system flows through a Manager method, which delegates the actual
// compare-and-swap to the job store so concurrent transitions race safely.
//
// The machine is monotonic: pending -> waiting -> running -> one of
// completed, failed or cancelled. The single sanctioned backward edge is
// running -> waiting, taken when the failure handler requeues a retryable
// unit. Terminal states accept no further transitions; results arriving for
// an already-terminal job are discarded at the transition CAS.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// ErrAwaitTimeout reports that Await returned before the job reached a
// terminal state. The job itself is unaffected and keeps running.
var ErrAwaitTimeout = errors.New("await completion timed out")

// Notifier observes committed terminal transitions for crawl roots and crawl
// pages. For pages, links carries the outbound URLs discovered by the
// completed unit; the callee must consume them before accounting for the
// page itself so a root cannot finish while admissible work remains.
type Notifier interface {
	JobTerminal(ctx context.Context, j job.Job, links []string)
}

// Completion carries everything a finished unit hands back.
type Completion struct {
	Unit    job.Unit
	Credits int64
	Results []job.Result
	// Links are the discovered outbound URLs; populated for crawl pages only.
	Links []string
}

// Manager coordinates transitions, terminal notifications, completion
// waiters, and per-run cancellation contexts.
type Manager struct {
	store   job.Store
	results job.ResultStore
	emitter events.Emitter
	clock   job.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	runs    map[uuid.UUID]context.CancelFunc
	waiters map[uuid.UUID][]chan job.Job

	notifierMu sync.RWMutex
	notifier   Notifier
}

// New constructs a Manager. The notifier is attached separately via
// SetNotifier because the crawl registry that implements it depends on the
// queue manager, which in turn depends on this Manager.
func New(store job.Store, results job.ResultStore, emitter events.Emitter, clock job.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		results: results,
		emitter: emitter,
		clock:   clock,
		logger:  logger,
		runs:    make(map[uuid.UUID]context.CancelFunc),
		waiters: make(map[uuid.UUID][]chan job.Job),
	}
}

// SetNotifier wires the crawl registry. Called once at composition, before
// any job is submitted.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifierMu.Lock()
	m.notifier = n
	m.notifierMu.Unlock()
}

// MarkWaiting moves a freshly created job into the queue-resident waiting
// state.
func (m *Manager) MarkWaiting(ctx context.Context, id uuid.UUID) (job.Job, error) {
	return m.store.TransitionJob(ctx, id, []job.Status{job.StatusPending}, job.StatusWaiting, job.Mutation{})
}

// BeginRun claims a dequeued job for execution. It returns a run context
// that Cancel aborts; callers use it for fetch work but not for the
// bookkeeping writes that must survive an advisory cancellation. Jobs
// cancelled while queued fail the CAS here, which is how late dequeues are
// dropped.
func (m *Manager) BeginRun(ctx context.Context, id uuid.UUID) (job.Job, context.Context, error) {
	now := m.clock.Now()
	j, err := m.store.TransitionJob(ctx, id,
		[]job.Status{job.StatusPending, job.StatusWaiting},
		job.StatusRunning,
		job.Mutation{Started: &now},
	)
	if err != nil {
		return job.Job{}, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if prev, ok := m.runs[id]; ok {
		prev()
	}
	m.runs[id] = cancel
	m.mu.Unlock()
	return j, runCtx, nil
}

// Requeue is the retry edge: a running unit goes back to waiting before the
// failure handler re-enqueues it. Fails with ErrInvalidTransition when the
// job was cancelled mid-run, which aborts the retry.
func (m *Manager) Requeue(ctx context.Context, unit job.Unit) (job.Job, error) {
	j, err := m.store.TransitionJob(ctx, unit.JobID,
		[]job.Status{job.StatusRunning},
		job.StatusWaiting,
		job.Mutation{},
	)
	if err != nil {
		return job.Job{}, err
	}
	m.clearRun(unit.JobID)
	return j, nil
}

// MarkCompleted commits a successful unit: transition first, then result
// rows, then the terminal event and crawl notification. If the CAS loses to
// a cancellation the results are discarded and ErrInvalidTransition comes
// back.
func (m *Manager) MarkCompleted(ctx context.Context, c Completion) (job.Job, error) {
	now := m.clock.Now()
	success := true
	j, err := m.store.TransitionJob(ctx, c.Unit.JobID,
		[]job.Status{job.StatusRunning},
		job.StatusCompleted,
		job.Mutation{Finished: &now, Success: &success},
	)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition) {
			m.logger.Debug("discarding results for job no longer running",
				zap.String("job_id", c.Unit.JobID.String()),
			)
		}
		return job.Job{}, err
	}

	for _, r := range c.Results {
		if storeErr := m.results.AppendResult(ctx, r); storeErr != nil {
			m.logger.Error("persist result row failed",
				zap.String("job_id", c.Unit.JobID.String()),
				zap.Int64("seq", r.Seq),
				zap.Error(storeErr),
			)
		}
	}

	m.finishTerminal(ctx, j, terminalInfo{
		credits:  c.Credits,
		attempts: c.Unit.Attempt,
		links:    c.Links,
	})
	return j, nil
}

// MarkFailed commits a terminal failure. The waiting state is accepted
// alongside running to cover retries whose physical re-enqueue failed after
// the backward transition already happened.
func (m *Manager) MarkFailed(ctx context.Context, unit job.Unit, cause error) (job.Job, error) {
	now := m.clock.Now()
	success := false
	text := truncateError(cause)
	j, err := m.store.TransitionJob(ctx, unit.JobID,
		[]job.Status{job.StatusRunning, job.StatusWaiting},
		job.StatusFailed,
		job.Mutation{Finished: &now, Success: &success, ErrorText: &text},
	)
	if err != nil {
		return job.Job{}, err
	}

	m.finishTerminal(ctx, j, terminalInfo{attempts: unit.Attempt})
	return j, nil
}

// FailSubmission fails a job that never reached execution, typically because
// the engine queue rejected its unit. Zero attempts distinguishes these from
// failures produced by the worker.
func (m *Manager) FailSubmission(ctx context.Context, id uuid.UUID, cause error) (job.Job, error) {
	now := m.clock.Now()
	success := false
	text := truncateError(cause)
	j, err := m.store.TransitionJob(ctx, id,
		[]job.Status{job.StatusPending, job.StatusWaiting},
		job.StatusFailed,
		job.Mutation{Finished: &now, Success: &success, ErrorText: &text},
	)
	if err != nil {
		return job.Job{}, err
	}

	m.finishTerminal(ctx, j, terminalInfo{})
	return j, nil
}

// Cancel requests termination of a job in any non-terminal state. Running
// jobs get their run context cancelled as an advisory signal; the unit's
// in-flight fetch may still finish, but its results lose the CAS and are
// discarded. Cancelling an already-terminal job is a no-op reporting the
// terminal state.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (job.Status, job.Job, error) {
	prev, err := m.store.GetJob(ctx, id)
	if err != nil {
		return "", job.Job{}, err
	}
	if prev.Status.Terminal() {
		return prev.Status, prev, nil
	}

	now := m.clock.Now()
	success := false
	j, err := m.store.TransitionJob(ctx, id,
		[]job.Status{job.StatusPending, job.StatusWaiting, job.StatusRunning},
		job.StatusCancelled,
		job.Mutation{Finished: &now, Success: &success},
	)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition) {
			// Lost the race to another terminal transition.
			current, getErr := m.store.GetJob(ctx, id)
			if getErr == nil && current.Status.Terminal() {
				return current.Status, current, nil
			}
		}
		return "", job.Job{}, err
	}

	m.finishTerminal(ctx, j, terminalInfo{})
	return prev.Status, j, nil
}

// CompleteRoot finishes a crawl root once its frontier drains.
func (m *Manager) CompleteRoot(ctx context.Context, id uuid.UUID) (job.Job, error) {
	now := m.clock.Now()
	success := true
	j, err := m.store.TransitionJob(ctx, id,
		[]job.Status{job.StatusRunning},
		job.StatusCompleted,
		job.Mutation{Finished: &now, Success: &success},
	)
	if err != nil {
		return job.Job{}, err
	}
	m.finishTerminal(ctx, j, terminalInfo{credits: j.CreditsUsed})
	return j, nil
}

// FailRoot finishes a crawl root whose seed could not be admitted or
// submitted.
func (m *Manager) FailRoot(ctx context.Context, id uuid.UUID, cause error) (job.Job, error) {
	now := m.clock.Now()
	success := false
	text := truncateError(cause)
	j, err := m.store.TransitionJob(ctx, id,
		[]job.Status{job.StatusPending, job.StatusRunning},
		job.StatusFailed,
		job.Mutation{Finished: &now, Success: &success, ErrorText: &text},
	)
	if err != nil {
		return job.Job{}, err
	}
	m.finishTerminal(ctx, j, terminalInfo{})
	return j, nil
}

// Await blocks until the job reaches a terminal state, the timeout elapses,
// or ctx is done. On timeout the latest snapshot is returned together with
// ErrAwaitTimeout; the job keeps running.
func (m *Manager) Await(ctx context.Context, id uuid.UUID, timeout time.Duration) (job.Job, error) {
	ch := make(chan job.Job, 1)
	m.addWaiter(id, ch)
	defer m.removeWaiter(id, ch)

	// Subscribe-then-check closes the gap where the job finishes between a
	// read and the subscription.
	j, err := m.store.GetJob(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case terminal := <-ch:
		return terminal, nil
	case <-timer.C:
		snapshot, getErr := m.store.GetJob(ctx, id)
		if getErr != nil {
			return job.Job{}, getErr
		}
		if snapshot.Status.Terminal() {
			return snapshot, nil
		}
		return snapshot, ErrAwaitTimeout
	case <-ctx.Done():
		return job.Job{}, ctx.Err()
	}
}

type terminalInfo struct {
	credits  int64
	attempts int
	links    []string
}

// finishTerminal runs the post-commit fan-out for a terminal job: release
// the run context, wake waiters, emit the terminal event, and notify the
// crawl registry for crawl kinds.
func (m *Manager) finishTerminal(ctx context.Context, j job.Job, info terminalInfo) {
	m.clearRun(j.ID)
	m.wakeWaiters(j)

	if m.emitter != nil {
		m.emitter.Emit(events.Event{
			JobID:     j.ID,
			RootID:    rootOf(j),
			AccountID: j.AccountID,
			Kind:      j.Kind,
			Engine:    j.Engine,
			Status:    j.Status,
			Success:   j.Success,
			Credits:   info.credits,
			ErrorText: j.ErrorText,
			Attempts:  info.attempts,
			Duration:  runDuration(j),
			TS:        m.clock.Now(),
		})
	}

	if j.Kind == job.KindCrawl || j.Kind == job.KindCrawlPage {
		m.notifierMu.RLock()
		n := m.notifier
		m.notifierMu.RUnlock()
		if n != nil {
			n.JobTerminal(ctx, j, info.links)
		}
	}
}

func (m *Manager) clearRun(id uuid.UUID) {
	m.mu.Lock()
	if cancel, ok := m.runs[id]; ok {
		cancel()
		delete(m.runs, id)
	}
	m.mu.Unlock()
}

func (m *Manager) addWaiter(id uuid.UUID, ch chan job.Job) {
	m.mu.Lock()
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()
}

func (m *Manager) removeWaiter(id uuid.UUID, ch chan job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans := m.waiters[id]
	for i, c := range chans {
		if c == ch {
			m.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(m.waiters[id]) == 0 {
		delete(m.waiters, id)
	}
}

func (m *Manager) wakeWaiters(j job.Job) {
	m.mu.Lock()
	chans := m.waiters[j.ID]
	delete(m.waiters, j.ID)
	m.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- j:
		default:
		}
	}
}

func rootOf(j job.Job) uuid.UUID {
	if j.Kind == job.KindCrawlPage && j.ParentID != nil {
		return *j.ParentID
	}
	return j.ID
}

func runDuration(j job.Job) time.Duration {
	if j.Started == nil || j.Finished == nil {
		return 0
	}
	d := j.Finished.Sub(*j.Started)
	if d < 0 {
		return 0
	}
	return d
}

const maxErrorTextLen = 512

// truncateError keeps stored failure summaries short; full detail stays in
// the logs.
func truncateError(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	if len(text) > maxErrorTextLen {
		return text[:maxErrorTextLen]
	}
	return text
}
