// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Gate pre-screens navigation targets against robots.txt. Browser
// navigations bypass the HTTP client, so enforcement happens here.
type Gate interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements job.Fetcher using chromedp and headless Chrome. The
// engine name selects the wait strategy: playwright waits for network idle,
// puppeteer returns once the DOM is ready.
type Fetcher struct {
	engine      job.Engine
	cfg         Config
	gate        Gate
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher serving the given engine. A nil
// gate disables robots enforcement.
func NewChromedp(engine job.Engine, cfg Config, gate Gate) (*Fetcher, error) {
	switch engine {
	case job.EnginePlaywright, job.EnginePuppeteer:
	default:
		return nil, fmt.Errorf("%w: headless fetcher cannot serve engine %q", job.ErrInvalidConfig, engine)
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("%w: headless max parallel must be >= 0", job.ErrInvalidConfig)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		engine:      engine,
		cfg:         cfg,
		gate:        gate,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request job.FetchRequest) (job.FetchResponse, error) {
	if f.gate != nil && !f.gate.Allowed(ctx, request.URL) {
		return job.FetchResponse{}, fmt.Errorf("%w: %s", job.ErrRobotsDisallowed, request.URL)
	}
	if err := f.acquire(ctx); err != nil {
		return job.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	// Browser contexts chain from the allocator, not the caller; propagate
	// the caller's cancellation by hand.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	timeout := f.navTimeout()
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, request)
	if err != nil {
		return job.FetchResponse{}, f.classify(ctx, request.URL, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	if status >= http.StatusBadRequest {
		return job.FetchResponse{}, &job.FetchError{
			URL:        responseURL,
			Kind:       job.FetchErrorHTTP,
			StatusCode: status,
			Err:        fmt.Errorf("document returned status %d", status),
		}
	}

	return job.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Engine:     f.engine,
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, request job.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)

	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
	}
	if f.engine == job.EnginePlaywright {
		idle := make(chan struct{})
		var once sync.Once
		chromedp.ListenTarget(ctx, func(ev any) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				once.Do(func() { close(idle) })
			}
		})
		actions = append(actions,
			page.SetLifecycleEventsEnabled(true),
			chromedp.Navigate(request.URL),
			waitForSignal(idle),
		)
	} else {
		actions = append(actions,
			chromedp.Navigate(request.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(500*time.Millisecond),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) classify(callerCtx context.Context, url string, err error) error {
	if errors.Is(err, context.Canceled) && callerCtx.Err() != nil {
		return fmt.Errorf("fetch canceled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &job.FetchError{URL: url, Kind: job.FetchErrorTimeout, Err: err}
	}
	return &job.FetchError{URL: url, Kind: job.FetchErrorNetwork, Err: err}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func waitForSignal(ch <-chan struct{}) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
