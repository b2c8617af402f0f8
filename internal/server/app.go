// Package server assembles the service from configuration and runs its
// lifecycle: stores, event hub, worker pools, HTTP transport, and a graceful
// teardown on SIGINT or SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/api"
	"github.com/jackronrau/AnyCrawl-sub001/internal/billing"
	"github.com/jackronrau/AnyCrawl-sub001/internal/clock/system"
	"github.com/jackronrau/AnyCrawl-sub001/internal/config"
	"github.com/jackronrau/AnyCrawl-sub001/internal/crawl"
	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
	"github.com/jackronrau/AnyCrawl-sub001/internal/events/sinks"
	"github.com/jackronrau/AnyCrawl-sub001/internal/extract"
	collyfetcher "github.com/jackronrau/AnyCrawl-sub001/internal/fetcher/colly"
	"github.com/jackronrau/AnyCrawl-sub001/internal/fetcher/headless"
	"github.com/jackronrau/AnyCrawl-sub001/internal/hash/sha256"
	"github.com/jackronrau/AnyCrawl-sub001/internal/headless/detector"
	uuidgen "github.com/jackronrau/AnyCrawl-sub001/internal/id/uuid"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/lifecycle"
	"github.com/jackronrau/AnyCrawl-sub001/internal/logging"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
	"github.com/jackronrau/AnyCrawl-sub001/internal/policy/ratelimit"
	"github.com/jackronrau/AnyCrawl-sub001/internal/policy/robots"
	"github.com/jackronrau/AnyCrawl-sub001/internal/policy/simple"
	memorypublisher "github.com/jackronrau/AnyCrawl-sub001/internal/publisher/memory"
	pubsubpublisher "github.com/jackronrau/AnyCrawl-sub001/internal/publisher/pubsub"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
	"github.com/jackronrau/AnyCrawl-sub001/internal/search"
	gcsstorage "github.com/jackronrau/AnyCrawl-sub001/internal/storage/gcs"
	localstorage "github.com/jackronrau/AnyCrawl-sub001/internal/storage/local"
	"github.com/jackronrau/AnyCrawl-sub001/internal/storage/memory"
	"github.com/jackronrau/AnyCrawl-sub001/internal/storage/postgres"
	"github.com/jackronrau/AnyCrawl-sub001/internal/telemetry"
	"github.com/jackronrau/AnyCrawl-sub001/internal/worker"
)

const (
	serviceName     = "anycrawl"
	shutdownTimeout = 10 * time.Second
)

// App is the assembled service. New owns construction, Run the serving
// loop, Close the teardown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	api     *api.Server
	manager *queue.Manager
	hub     *events.Hub

	closeFetchers  func()
	closePublisher func() error
	closeBlobs     func() error
	closeDB        func()
	tracerShutdown func(context.Context) error
}

// New builds every component from configuration. Components that hold
// external resources are released by Close, in reverse dependency order.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless_enabled", cfg.Headless.Enabled),
		zap.Int("engines_configured", len(cfg.Engines)),
	)

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, closeBlobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		st.close()
		return nil, err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		closeIgnore(closeBlobs)
		st.close()
		return nil, err
	}

	sinkList, err := buildSinks(cfg, st.events, publisher, st.ledger, logger)
	if err != nil {
		closeIgnore(closePublisher)
		closeIgnore(closeBlobs)
		st.close()
		return nil, err
	}
	hub := events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Events.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Events.SinkTimeoutMs) * time.Millisecond,
		Logger:         logger,
	}, sinkList...)

	clk := system.New()
	ids := uuidgen.New()
	life := lifecycle.New(st.jobs, st.results, hub, clk, logger)

	failure, err := worker.NewFailureHandler(
		life,
		cfg.Retry.MaxRetries,
		time.Duration(cfg.Retry.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Retry.BackoffMaxMs)*time.Millisecond,
		logger,
	)
	if err != nil {
		closeIgnore(closePublisher)
		closeIgnore(closeBlobs)
		st.close()
		return nil, err
	}

	fetchers, httpFetcher, closeFetchers, err := buildFetchers(cfg, logger)
	if err != nil {
		closeIgnore(closePublisher)
		closeIgnore(closeBlobs)
		st.close()
		return nil, err
	}

	searcher, err := buildSearcher(cfg, httpFetcher, logger)
	if err != nil {
		closeFetchers()
		closeIgnore(closePublisher)
		closeIgnore(closeBlobs)
		st.close()
		return nil, err
	}

	var pol job.Policy
	if cfg.RateLimit.Enabled {
		pol = ratelimit.New(ratelimit.Config{
			RPS:   cfg.RateLimit.DefaultRPS,
			Burst: cfg.RateLimit.DefaultBurst,
		})
	} else {
		pol = simple.New()
	}

	exec := worker.New(
		life,
		failure,
		fetchers,
		extract.New(),
		searcher,
		pol,
		detector.NewHeuristic(0),
		blobs,
		sha256.New(),
		clk,
		worker.Config{
			BlobPrefix:   cfg.Storage.Prefix,
			ContentType:  cfg.Storage.ContentType,
			StoreRaw:     cfg.Storage.StoreRaw,
			CostPerUnit:  cfg.Billing.CostPerUnit,
			FetchTimeout: time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		},
		logger,
	)

	mgr := queue.NewManager(st.jobs, st.results, life, ids, clk, cfg.JobRetention(), logger)
	if err := registerQueues(cfg, mgr, exec, logger); err != nil {
		closeFetchers()
		closeIgnore(closePublisher)
		closeIgnore(closeBlobs)
		st.close()
		return nil, err
	}

	registry := crawl.NewRegistry(st.jobs, life, mgr, ids, clk, cfg.JobRetention(), crawl.Defaults{
		Limit:    cfg.Crawl.LimitDefault,
		Strategy: job.Strategy(cfg.Crawl.StrategyDefault),
	}, logger)
	life.SetNotifier(registry)

	return &App{
		cfg:            cfg,
		logger:         logger,
		api:            api.NewServer(mgr, registry, st.ledger, cfg, logger),
		manager:        mgr,
		hub:            hub,
		closeFetchers:  closeFetchers,
		closePublisher: closePublisher,
		closeBlobs:     closeBlobs,
		closeDB:        st.close,
		tracerShutdown: tp.Shutdown,
	}, nil
}

// Run starts the worker pools and the HTTP server, then blocks until the
// context is cancelled, a termination signal arrives, or the server fails.
// On the way out it stops accepting requests first and then drains in-flight
// work, aborting whatever remains past the shutdown deadline.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Worker pools get their own base context so a signal stops intake
	// without yanking fetches mid-flight. It is cancelled only when the
	// drain overruns the shutdown deadline.
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()
	a.manager.Start(workCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		a.manager.StopAll()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.logger.Warn("drain deadline exceeded, aborting in-flight work")
		workCancel()
		<-drained
	}
	return nil
}

// Close flushes buffered terminal events and releases infrastructure. It is
// meant to run after Run returns; sinks still need the publisher and the
// database, so those close last.
func (a *App) Close() {
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.hub.Close(flushCtx); err != nil {
		a.logger.Warn("event hub closed with pending events", zap.Error(err))
	}
	if a.closeFetchers != nil {
		a.closeFetchers()
	}
	if a.closePublisher != nil {
		if err := a.closePublisher(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.closeBlobs != nil {
		if err := a.closeBlobs(); err != nil {
			a.logger.Warn("close blob storage", zap.Error(err))
		}
	}
	if a.closeDB != nil {
		a.closeDB()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(flushCtx); err != nil {
			a.logger.Warn("tracer shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// stores groups the persistence interfaces the service composes over. The
// backend is picked once at startup: a DSN selects Postgres, otherwise
// everything lives in process memory.
type stores struct {
	jobs    job.Store
	results job.ResultStore
	events  events.Store
	ledger  billing.Ledger
	close   func()
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database DSN configured, using in-memory stores")
		jobs := memory.NewJobStore()
		ledger := memory.NewLedger(jobs, cfg.Billing.RequireBalance)
		ledger.CreateAccount(cfg.AccountID(), cfg.Billing.InitialBalance)
		return stores{
			jobs:    jobs,
			results: memory.NewResultStore(),
			events:  memory.NewEventStore(),
			ledger:  ledger,
			close:   func() {},
		}, nil
	}

	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("connect postgres: %w", err)
	}
	ledger := postgres.NewLedger(pool, cfg.Billing.RequireBalance)
	if err := ledger.EnsureAccount(ctx, cfg.AccountID(), cfg.Billing.InitialBalance); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("ensure billing account: %w", err)
	}
	return stores{
		jobs:    postgres.NewJobStore(pool),
		results: postgres.NewResultStore(pool),
		events:  postgres.NewEventStore(pool),
		ledger:  ledger,
		close:   pool.Close,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (job.BlobStore, func() error, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return blobs, client.Close, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, nil, err
		}
		return blobs, nil, nil
	case "", "memory":
		return memory.NewBlobStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage backend %q", job.ErrInvalidConfig, cfg.Storage.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (job.Publisher, func() error, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Warn("pub/sub not configured, completion events stay in process")
		return memorypublisher.New(), nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := pub.VerifyTopic(ctx, cfg.PubSub.TopicName); err != nil {
		_ = pub.Close()
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

func buildSinks(cfg config.Config, eventStore events.Store, publisher job.Publisher, ledger billing.Ledger, logger *zap.Logger) ([]events.Sink, error) {
	sinkList := []events.Sink{sinks.NewStoreSink(eventStore, logger)}
	if cfg.Events.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(logger))
	}
	prom, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("register event collectors: %w", err)
	}
	sinkList = append(sinkList,
		prom,
		sinks.NewPublisherSink(publisher, cfg.PubSub.TopicName, logger),
		billing.NewBiller(ledger, logger),
	)
	return sinkList, nil
}

// buildFetchers returns the engine capability map plus the plain-HTTP
// fetcher on its own, which the searcher reuses for result pages.
func buildFetchers(cfg config.Config, logger *zap.Logger) (map[job.Engine]job.Fetcher, job.Fetcher, func(), error) {
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		Timeout:       time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
		RespectRobots: cfg.HTTP.RespectRobots,
	})
	fetchers := map[job.Engine]job.Fetcher{job.EngineCheerio: httpFetcher}

	if !cfg.Headless.Enabled {
		return fetchers, httpFetcher, func() {}, nil
	}

	var gate headless.Gate
	if cfg.Headless.RespectRobots {
		gate = robots.New(cfg.HTTP.UserAgent, logger)
	}
	hcfg := headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	}

	var closers []func()
	for name := range cfg.Engines {
		engine, err := job.ParseEngine(name)
		if err != nil || !engine.Headless() {
			continue
		}
		fetcher, err := headless.NewChromedp(engine, hcfg, gate)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, nil, fmt.Errorf("build %s fetcher: %w", name, err)
		}
		fetchers[engine] = fetcher
		closers = append(closers, fetcher.Close)
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return fetchers, httpFetcher, closeAll, nil
}

func buildSearcher(cfg config.Config, fetcher job.Fetcher, logger *zap.Logger) (*search.Searcher, error) {
	var provider search.Provider
	switch cfg.Search.Provider {
	case "", "google":
		provider = &search.Google{BaseURL: cfg.Search.BaseURL, PageSize: cfg.Search.PageSize}
	default:
		return nil, fmt.Errorf("%w: unknown search provider %q", job.ErrInvalidConfig, cfg.Search.Provider)
	}
	return search.New(provider, fetcher, cfg.Search.Parallelism, logger), nil
}

// registerQueues builds one bounded pool per configured engine. Headless
// engines are skipped when headless browsing is disabled; submissions for
// them are rejected as unavailable rather than queued to fail.
func registerQueues(cfg config.Config, mgr *queue.Manager, exec queue.Executor, logger *zap.Logger) error {
	names := make([]string, 0, len(cfg.Engines))
	for name := range cfg.Engines {
		names = append(names, name)
	}
	sort.Strings(names)

	registered := 0
	for _, name := range names {
		engine, err := job.ParseEngine(name)
		if err != nil {
			return err
		}
		if engine.Headless() && !cfg.Headless.Enabled {
			logger.Warn("engine configured but headless browsing is disabled, skipping",
				zap.String("engine", name))
			continue
		}
		ec := cfg.Engines[name]
		q, err := queue.NewEngineQueue(queue.Config{
			Engine:         engine,
			MinConcurrency: ec.MinConcurrency,
			MaxConcurrency: ec.MaxConcurrency,
			QueueSize:      ec.QueueSize,
		}, exec, logger)
		if err != nil {
			return fmt.Errorf("build %s queue: %w", name, err)
		}
		if err := mgr.Register(q); err != nil {
			return err
		}
		logger.Info("engine registered",
			zap.String("engine", name),
			zap.Int("min_concurrency", ec.MinConcurrency),
			zap.Int("max_concurrency", ec.MaxConcurrency),
			zap.Int("queue_size", ec.QueueSize),
		)
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("%w: no engines available to serve", job.ErrInvalidConfig)
	}
	return nil
}

func closeIgnore(fn func() error) {
	if fn != nil {
		_ = fn()
	}
}
