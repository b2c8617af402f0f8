package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/config"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/lifecycle"
	memorypublisher "github.com/jackronrau/AnyCrawl-sub001/internal/publisher/memory"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
	"github.com/jackronrau/AnyCrawl-sub001/internal/storage/memory"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildStoresMemoryFallback(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Database.DSN = ""

	st, err := buildStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(st.close)

	require.NotNil(t, st.jobs)
	require.NotNil(t, st.results)
	require.NotNil(t, st.events)

	balance, err := st.ledger.Balance(context.Background(), cfg.AccountID())
	require.NoError(t, err)
	require.Equal(t, cfg.Billing.InitialBalance, balance)
}

func TestBuildBlobStoreBackends(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)

	cfg.Storage.Backend = "memory"
	blobs, closer, err := buildBlobStore(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, blobs)
	require.Nil(t, closer)

	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = t.TempDir()
	blobs, closer, err = buildBlobStore(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, blobs)
	require.Nil(t, closer)

	cfg.Storage.Backend = "tape"
	_, _, err = buildBlobStore(context.Background(), cfg)
	require.ErrorIs(t, err, job.ErrInvalidConfig)
}

func TestBuildPublisherUnconfigured(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.PubSub.ProjectID = ""
	cfg.PubSub.TopicName = ""

	pub, closer, err := buildPublisher(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, closer)

	mem, ok := pub.(*memorypublisher.Publisher)
	require.True(t, ok, "expected the in-memory publisher, got %T", pub)

	_, err = mem.Publish(context.Background(), "jobs", map[string]string{"ping": "pong"})
	require.NoError(t, err)
	require.Len(t, mem.Messages(), 1)
}

func TestBuildFetchersHeadlessDisabled(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Headless.Enabled = false

	fetchers, httpFetcher, closeAll, err := buildFetchers(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(closeAll)

	require.NotNil(t, httpFetcher)
	require.Len(t, fetchers, 1)
	require.Contains(t, fetchers, job.EngineCheerio)
	require.Same(t, httpFetcher, fetchers[job.EngineCheerio])
}

func TestBuildSearcherRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Search.Provider = "altavista"

	_, err := buildSearcher(cfg, nil, zap.NewNop())
	require.ErrorIs(t, err, job.ErrInvalidConfig)
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, job.Unit, queue.RetryQueue) {}

func newTestManager(t *testing.T) *queue.Manager {
	t.Helper()
	jobs := memory.NewJobStore()
	results := memory.NewResultStore()
	life := lifecycle.New(jobs, results, nil, nil, zap.NewNop())
	return queue.NewManager(jobs, results, life, nil, nil, job.Retention{}, zap.NewNop())
}

func TestRegisterQueuesSkipsHeadlessWhenDisabled(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Headless.Enabled = false

	mgr := newTestManager(t)
	require.NoError(t, registerQueues(cfg, mgr, noopExecutor{}, zap.NewNop()))

	engines := mgr.Engines()
	require.Equal(t, []job.Engine{job.EngineCheerio}, engines)
}

func TestRegisterQueuesNeedsOneServableEngine(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Headless.Enabled = false
	cfg.Engines = map[string]config.EngineConfig{
		"playwright": {MinConcurrency: 1, MaxConcurrency: 2, QueueSize: 16},
	}

	mgr := newTestManager(t)
	err := registerQueues(cfg, mgr, noopExecutor{}, zap.NewNop())
	require.ErrorIs(t, err, job.ErrInvalidConfig)
}

// TestAppLifecycle assembles the full in-memory composition once, serves,
// then shuts down on context cancellation. A single test owns New because
// the event collectors register against the process-global registry.
func TestAppLifecycle(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Server.Port = 0
	cfg.Events.LogEnabled = false

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	app.Close()
}

func TestCloseIgnoreNilSafe(t *testing.T) {
	t.Parallel()

	closeIgnore(nil)
	called := false
	closeIgnore(func() error {
		called = true
		return errors.New("ignored")
	})
	require.True(t, called)
}
