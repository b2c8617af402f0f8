package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/billing"
	"github.com/jackronrau/AnyCrawl-sub001/internal/config"
	"github.com/jackronrau/AnyCrawl-sub001/internal/crawl"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
)

// Server wires HTTP handlers to the job manager, crawl registry, and credit
// ledger.
type Server struct {
	router  chi.Router
	manager *queue.Manager
	crawls  *crawl.Registry
	ledger  billing.Ledger
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with the middleware chain and v1 routes.
// Probes and metrics stay outside the API-key guard.
func NewServer(manager *queue.Manager, crawls *crawl.Registry, ledger billing.Ledger, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		crawls:  crawls,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/scrape", s.submitScrape)
		r.Post("/search", s.submitSearch)
		r.Post("/crawl", s.submitCrawl)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/results", s.getJobResults)
			r.Delete("/", s.cancelJob)
		})
		r.Get("/account/credits", s.accountCredits)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once engine queues are registered; before that every
// submission would fail as unsupported.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if len(s.manager.Engines()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no engines registered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
