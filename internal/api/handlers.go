package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/billing"
	"github.com/jackronrau/AnyCrawl-sub001/internal/crawl"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
	"github.com/jackronrau/AnyCrawl-sub001/internal/lifecycle"
	"github.com/jackronrau/AnyCrawl-sub001/internal/queue"
)

const (
	defaultResultLimit = 100
	maxResultLimit     = 1000
)

type scrapeRequest struct {
	URL            string            `json:"url"`
	Engine         string            `json:"engine"`
	Formats        []string          `json:"formats"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

type searchRequest struct {
	Query  string `json:"query"`
	Engine string `json:"engine"`
	Limit  int    `json:"limit"`
	Pages  int    `json:"pages"`
}

type scrapeOptionsBody struct {
	Formats        []string          `json:"formats"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

func (b scrapeOptionsBody) options() job.ScrapeOptions {
	return job.ScrapeOptions{
		Formats:        b.Formats,
		Headers:        b.Headers,
		TimeoutSeconds: b.TimeoutSeconds,
	}
}

// crawlRequest carries max_depth as a pointer: absent falls back to the
// configured default, while an explicit 0 means seed page only.
type crawlRequest struct {
	URL          string            `json:"url"`
	Engine       string            `json:"engine"`
	MaxDepth     *int              `json:"max_depth"`
	Limit        int               `json:"limit"`
	Strategy     string            `json:"strategy"`
	IncludePaths []string          `json:"include_paths"`
	ExcludePaths []string          `json:"exclude_paths"`
	Scrape       scrapeOptionsBody `json:"scrape"`
}

// jobView is the caller-facing projection of a job record. Retry bookkeeping
// and frontier internals stay private.
type jobView struct {
	JobID       uuid.UUID  `json:"job_id"`
	Kind        job.Kind   `json:"kind"`
	Engine      job.Engine `json:"engine"`
	Status      job.Status `json:"status"`
	URL         string     `json:"url,omitempty"`
	Query       string     `json:"query,omitempty"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	Success     *bool      `json:"success,omitempty"`
	CreditsUsed int64      `json:"credits_used"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func viewOf(j job.Job) jobView {
	v := jobView{
		JobID:       j.ID,
		Kind:        j.Kind,
		Engine:      j.Engine,
		Status:      j.Status,
		URL:         j.URL,
		Query:       j.Query,
		ParentID:    j.ParentID,
		CreditsUsed: j.CreditsUsed,
		Error:       j.ErrorText,
		SubmittedAt: j.Submitted,
		StartedAt:   j.Started,
		FinishedAt:  j.Finished,
		ExpiresAt:   j.ExpireAt,
	}
	// Success is only meaningful once the job settled.
	if j.Status.Terminal() {
		success := j.Success
		v.Success = &success
	}
	return v
}

type syncResponse struct {
	Job     jobView      `json:"job"`
	Results []job.Result `json:"results"`
}

type crawlResponse struct {
	JobID  uuid.UUID  `json:"job_id"`
	Status job.Status `json:"status"`
}

type resultsResponse struct {
	JobID   uuid.UUID    `json:"job_id"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Results []job.Result `json:"results"`
}

type cancelResponse struct {
	JobID          uuid.UUID  `json:"job_id"`
	PreviousStatus job.Status `json:"previous_status"`
	NewStatus      job.Status `json:"new_status"`
}

type creditsResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	engine, err := engineOrDefault(req.Engine)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	created, err := s.manager.Submit(r.Context(), queue.Submission{
		Kind:      job.KindScrape,
		Engine:    engine,
		URL:       req.URL,
		AccountID: s.cfg.AccountID(),
		Scrape: job.ScrapeOptions{
			Formats:        req.Formats,
			Headers:        req.Headers,
			TimeoutSeconds: req.TimeoutSeconds,
		},
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondSync(w, r, created)
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	engine, err := engineOrDefault(req.Engine)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	created, err := s.manager.Submit(r.Context(), queue.Submission{
		Kind:      job.KindSearch,
		Engine:    engine,
		Query:     req.Query,
		AccountID: s.cfg.AccountID(),
		Search: job.SearchOptions{
			Limit: req.Limit,
			Pages: req.Pages,
		},
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondSync(w, r, created)
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	engine, err := engineOrDefault(req.Engine)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	maxDepth := s.cfg.Crawl.MaxDepthDefault
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	root, err := s.crawls.StartCrawl(r.Context(), crawl.Request{
		Engine:    engine,
		URL:       req.URL,
		AccountID: s.cfg.AccountID(),
		Options: job.CrawlOptions{
			MaxDepth:     maxDepth,
			Limit:        req.Limit,
			IncludePaths: req.IncludePaths,
			ExcludePaths: req.ExcludePaths,
			Strategy:     job.Strategy(req.Strategy),
			Scrape:       req.Scrape.options(),
		},
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, crawlResponse{JobID: root.ID, Status: root.Status})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	j, err := s.manager.Status(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(j))
}

func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultResultLimit)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxResultLimit {
		limit = maxResultLimit
	}

	rows, total, err := s.manager.Results(r.Context(), id, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if rows == nil {
		rows = []job.Result{}
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		JobID:   id,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Results: rows,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	previous, j, err := s.manager.Cancel(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		JobID:          id,
		PreviousStatus: previous,
		NewStatus:      j.Status,
	})
}

func (s *Server) accountCredits(w http.ResponseWriter, r *http.Request) {
	accountID := s.cfg.AccountID()
	balance, err := s.ledger.Balance(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditsResponse{AccountID: accountID, Balance: balance})
}

// respondSync holds the request open for the sync wait window. Timing out is
// not an error: the snapshot goes back with its non-terminal status and the
// job keeps running.
func (s *Server) respondSync(w http.ResponseWriter, r *http.Request, created job.Job) {
	j, err := s.manager.Await(r.Context(), created.ID, s.cfg.SyncWaitTimeout())
	if errors.Is(err, lifecycle.ErrAwaitTimeout) {
		writeJSON(w, http.StatusOK, syncResponse{Job: viewOf(j), Results: []job.Result{}})
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	rows, _, err := s.manager.Results(r.Context(), created.ID, 0, 0)
	if err != nil {
		s.logger.Warn("list results for sync response",
			zap.String("job_id", created.ID.String()),
			zap.Error(err),
		)
		rows = nil
	}
	if rows == nil {
		rows = []job.Result{}
	}
	writeJSON(w, http.StatusOK, syncResponse{Job: viewOf(j), Results: rows})
}

// writeDomainError maps domain sentinels onto HTTP statuses. Anything
// unclassified is a 500 with the detail kept server-side.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrInvalidConfig), errors.Is(err, job.ErrUnsupportedEngine):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, billing.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, job.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, job.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "job_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func engineOrDefault(raw string) (job.Engine, error) {
	if strings.TrimSpace(raw) == "" {
		return job.EngineCheerio, nil
	}
	return job.ParseEngine(raw)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON serializes payload; an encode failure means the client is gone
// and is dropped.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
