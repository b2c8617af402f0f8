package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

const (
	defaultLimit     = 10
	defaultPageLoad  = 15 * time.Second
	defaultParallel  = 2
	maxPagesPerQuery = 20
)

// Searcher fans a query out over result pages and assembles a single ranked
// list. Individual page failures are tolerated; the search fails only when
// no page could be fetched at all.
type Searcher struct {
	provider Provider
	fetcher  job.Fetcher
	parallel int
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a Searcher fetching through the given fetcher, typically the
// plain-HTTP engine.
func New(provider Provider, fetcher job.Fetcher, parallel int, logger *zap.Logger) *Searcher {
	if parallel < 1 {
		parallel = defaultParallel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		provider: provider,
		fetcher:  fetcher,
		parallel: parallel,
		timeout:  defaultPageLoad,
		logger:   logger,
	}
}

// Search fetches opts.Pages result pages concurrently and returns up to
// opts.Limit items plus the number of pages actually fetched, which is what
// the caller bills for.
func (s *Searcher) Search(ctx context.Context, query string, opts job.SearchOptions) ([]job.SearchItem, int, error) {
	pages := opts.Pages
	if pages < 1 {
		pages = 1
	}
	if pages > maxPagesPerQuery {
		pages = maxPagesPerQuery
	}
	limit := opts.Limit
	if limit < 1 {
		limit = defaultLimit
	}

	var (
		mu       sync.Mutex
		byPage   = make([][]job.SearchItem, pages)
		fetched  int
		firstErr error
	)

	eg := errgroup.Group{}
	eg.SetLimit(s.parallel)
	for i := 0; i < pages; i++ {
		idx := i
		eg.Go(func() error {
			page := idx + 1
			resp, err := s.fetcher.Fetch(ctx, job.FetchRequest{
				URL:     s.provider.BuildURL(query, page),
				Timeout: s.timeout,
			})
			if err == nil {
				var items []job.SearchItem
				items, err = s.provider.Parse(resp)
				if err == nil {
					mu.Lock()
					byPage[idx] = items
					fetched++
					mu.Unlock()
					return nil
				}
			}
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			s.logger.Warn("search page failed",
				zap.String("provider", s.provider.Name()),
				zap.Int("page", page),
				zap.Error(err),
			)
			return nil
		})
	}
	_ = eg.Wait()

	if fetched == 0 {
		if firstErr != nil {
			return nil, 0, firstErr
		}
		return nil, 0, fmt.Errorf("search %q fetched no pages", query)
	}

	var items []job.SearchItem
	for _, pageItems := range byPage {
		items = append(items, pageItems...)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return items, fetched, nil
}
