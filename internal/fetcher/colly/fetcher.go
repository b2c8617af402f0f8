// Package collyfetcher implements the cheerio engine: plain HTTP fetches
// through a colly collector, no JavaScript execution.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxBodySize   int
	RespectRobots bool
}

// Fetcher implements job.Fetcher using the colly collector. The base
// collector carries shared transport and limits; each fetch runs on a clone
// so per-request callbacks never leak between requests.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	transport := newHTTPTransport()
	if cfg.RespectRobots {
		c.WithTransport(&robustRobotsTransport{base: transport})
	} else {
		c.WithTransport(transport)
	}

	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, req job.FetchRequest) (job.FetchResponse, error) {
	collector := f.base.Clone()
	timeout := f.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   job.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = job.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Engine:     job.EngineCheerio,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = classify(req.URL, r, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return job.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return job.FetchResponse{}, fetchErr
		}
		if visitErr != nil {
			if errors.Is(visitErr, colly.ErrRobotsTxtBlocked) {
				return job.FetchResponse{}, fmt.Errorf("%w: %s", job.ErrRobotsDisallowed, req.URL)
			}
			return job.FetchResponse{}, classify(req.URL, nil, visitErr)
		}
		return result, nil
	}
}

// classify maps a colly failure onto the fetch error taxonomy. A response
// with a status code is an upstream HTTP error; everything else is a
// transport problem, split into timeout and network.
func classify(url string, r *colly.Response, err error) error {
	if r != nil && r.StatusCode > 0 {
		return &job.FetchError{URL: url, Kind: job.FetchErrorHTTP, StatusCode: r.StatusCode, Err: err}
	}
	kind := job.FetchErrorNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = job.FetchErrorTimeout
	}
	return &job.FetchError{URL: url, Kind: kind, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
