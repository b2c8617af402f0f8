package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/clock/system"
	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/storage/memory"
)

type capturingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *capturingEmitter) Emit(evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *capturingEmitter) all() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.Event(nil), e.events...)
}

type capturingNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
}

type notifierCall struct {
	j     job.Job
	links []string
}

func (n *capturingNotifier) JobTerminal(_ context.Context, j job.Job, links []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifierCall{j: j, links: links})
}

func (n *capturingNotifier) all() []notifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifierCall(nil), n.calls...)
}

type fixture struct {
	store    *memory.JobStore
	results  *memory.ResultStore
	emitter  *capturingEmitter
	notifier *capturingNotifier
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewJobStore(),
		results:  memory.NewResultStore(),
		emitter:  &capturingEmitter{},
		notifier: &capturingNotifier{},
	}
	f.manager = New(f.store, f.results, f.emitter, system.New(), zap.NewNop())
	f.manager.SetNotifier(f.notifier)
	return f
}

func (f *fixture) createJob(t *testing.T, kind job.Kind, status job.Status) job.Job {
	t.Helper()
	j := job.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Engine:    job.EngineCheerio,
		Status:    status,
		AccountID: uuid.New(),
		Submitted: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateJob(context.Background(), j))
	return j
}

func unitFor(j job.Job) job.Unit {
	return job.Unit{
		JobID:     j.ID,
		Kind:      j.Kind,
		Engine:    j.Engine,
		URL:       "https://example.com",
		RootID:    j.ID,
		AccountID: j.AccountID,
		Attempt:   1,
	}
}

func TestHappyPathTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusPending)

	waiting, err := f.manager.MarkWaiting(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusWaiting, waiting.Status)

	running, runCtx, err := f.manager.BeginRun(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, running.Status)
	require.NotNil(t, running.Started)
	require.NoError(t, runCtx.Err())

	completed, err := f.manager.MarkCompleted(ctx, Completion{
		Unit:    unitFor(j),
		Credits: 1,
		Results: []job.Result{{OwnerID: j.ID, JobID: j.ID, Seq: 0, URL: "https://example.com"}},
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, completed.Status)
	require.True(t, completed.Success)
	require.NotNil(t, completed.Finished)

	rows, err := f.results.ListResults(ctx, j.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	evts := f.emitter.all()
	require.Len(t, evts, 1)
	require.Equal(t, job.StatusCompleted, evts[0].Status)
	require.Equal(t, int64(1), evts[0].Credits)
	require.Equal(t, 1, evts[0].Attempts)

	// The run context is released after the terminal transition.
	require.Error(t, runCtx.Err())
}

func TestCompletedJobRefusesFurtherTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusRunning)

	_, err := f.manager.MarkCompleted(ctx, Completion{Unit: unitFor(j), Credits: 1})
	require.NoError(t, err)

	_, err = f.manager.MarkFailed(ctx, unitFor(j), errors.New("too late"))
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	_, err = f.manager.Requeue(ctx, unitFor(j))
	require.ErrorIs(t, err, job.ErrInvalidTransition)
}

func TestCancelDiscardsLateResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusWaiting)

	_, runCtx, err := f.manager.BeginRun(ctx, j.ID)
	require.NoError(t, err)

	prev, cancelled, err := f.manager.Cancel(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, prev)
	require.Equal(t, job.StatusCancelled, cancelled.Status)

	// The advisory signal fired.
	require.Error(t, runCtx.Err())

	// The in-flight worker finishes anyway; its result must be discarded.
	_, err = f.manager.MarkCompleted(ctx, Completion{
		Unit:    unitFor(j),
		Credits: 1,
		Results: []job.Result{{OwnerID: j.ID, JobID: j.ID, Seq: 0}},
	})
	require.ErrorIs(t, err, job.ErrInvalidTransition)

	rows, err := f.results.ListResults(ctx, j.ID, 10, 0)
	require.NoError(t, err)
	require.Empty(t, rows)

	// Only the cancellation event was emitted, with no credits.
	evts := f.emitter.all()
	require.Len(t, evts, 1)
	require.Equal(t, job.StatusCancelled, evts[0].Status)
	require.Zero(t, evts[0].Credits)
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusPending)

	prev, first, err := f.manager.Cancel(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPending, prev)
	require.Equal(t, job.StatusCancelled, first.Status)

	prev, second, err := f.manager.Cancel(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCancelled, prev)
	require.Equal(t, job.StatusCancelled, second.Status)

	// The repeat cancel emits nothing.
	require.Len(t, f.emitter.all(), 1)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, _, err := f.manager.Cancel(context.Background(), uuid.New())
	require.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestMarkFailedFromWaitingCoversDeadRequeue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusRunning)

	_, err := f.manager.Requeue(ctx, unitFor(j))
	require.NoError(t, err)

	// The physical re-enqueue failed; the failure handler falls through.
	failed, err := f.manager.MarkFailed(ctx, unitFor(j), errors.New("queue stopped"))
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, failed.Status)
	require.Contains(t, failed.ErrorText, "queue stopped")
}

func TestAwaitWakesOnTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusRunning)

	done := make(chan job.Job, 1)
	go func() {
		got, err := f.manager.Await(ctx, j.ID, 5*time.Second)
		if err == nil {
			done <- got
		}
	}()

	// Give the waiter time to subscribe, then complete the job.
	time.Sleep(20 * time.Millisecond)
	_, err := f.manager.MarkCompleted(ctx, Completion{Unit: unitFor(j), Credits: 1})
	require.NoError(t, err)

	select {
	case got := <-done:
		require.Equal(t, job.StatusCompleted, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not wake")
	}
}

func TestAwaitTimesOutWithoutCancelling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusRunning)

	got, err := f.manager.Await(ctx, j.ID, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrAwaitTimeout)
	require.Equal(t, job.StatusRunning, got.Status)

	// Timing out an Await never touches the job.
	current, err := f.store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, current.Status)
}

func TestAwaitReturnsImmediatelyWhenTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusRunning)
	_, err := f.manager.MarkCompleted(ctx, Completion{Unit: unitFor(j), Credits: 1})
	require.NoError(t, err)

	got, err := f.manager.Await(ctx, j.ID, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
}

func TestCrawlPageTerminalNotifiesWithLinks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	rootID := uuid.New()
	page := job.Job{
		ID:        uuid.New(),
		Kind:      job.KindCrawlPage,
		Engine:    job.EngineCheerio,
		Status:    job.StatusRunning,
		ParentID:  &rootID,
		AccountID: uuid.New(),
	}
	require.NoError(t, f.store.CreateJob(ctx, page))

	links := []string{"https://example.com/a", "https://example.com/b"}
	unit := job.Unit{JobID: page.ID, Kind: job.KindCrawlPage, RootID: rootID, Attempt: 1}
	_, err := f.manager.MarkCompleted(ctx, Completion{Unit: unit, Credits: 1, Links: links})
	require.NoError(t, err)

	calls := f.notifier.all()
	require.Len(t, calls, 1)
	require.Equal(t, page.ID, calls[0].j.ID)
	require.Equal(t, links, calls[0].links)

	evts := f.emitter.all()
	require.Len(t, evts, 1)
	require.Equal(t, rootID, evts[0].RootID)
}

func TestScrapeTerminalDoesNotNotify(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, job.KindScrape, job.StatusRunning)

	_, err := f.manager.MarkCompleted(ctx, Completion{Unit: unitFor(j), Credits: 1})
	require.NoError(t, err)
	require.Empty(t, f.notifier.all())
}

func TestRootHelpers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	root := f.createJob(t, job.KindCrawl, job.StatusRunning)
	completed, err := f.manager.CompleteRoot(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, completed.Status)
	require.Len(t, f.notifier.all(), 1)

	failedRoot := f.createJob(t, job.KindCrawl, job.StatusPending)
	failed, err := f.manager.FailRoot(ctx, failedRoot.ID, errors.New("seed rejected"))
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, failed.Status)
	require.Contains(t, failed.ErrorText, "seed rejected")
}
