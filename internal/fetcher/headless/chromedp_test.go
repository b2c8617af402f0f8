package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

type stubGate struct {
	allow bool
	urls  []string
}

func (g *stubGate) Allowed(_ context.Context, rawURL string) bool {
	g.urls = append(g.urls, rawURL)
	return g.allow
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(job.EnginePlaywright, Config{MaxParallel: -1}, nil); !errors.Is(err, job.ErrInvalidConfig) {
		t.Fatalf("expected config error for negative max parallel, got %v", err)
	}
	if _, err := NewChromedp(job.EngineCheerio, Config{}, nil); !errors.Is(err, job.ErrInvalidConfig) {
		t.Fatalf("expected config error for non-browser engine, got %v", err)
	}

	fetcher, err := NewChromedp(job.EnginePuppeteer, Config{MaxParallel: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestFetchDeniedByRobots(t *testing.T) {
	t.Parallel()

	gate := &stubGate{allow: false}
	fetcher, err := NewChromedp(job.EnginePlaywright, Config{}, gate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()

	_, err = fetcher.Fetch(context.Background(), job.FetchRequest{URL: "https://example.com/private"})
	if !errors.Is(err, job.ErrRobotsDisallowed) {
		t.Fatalf("expected robots denial, got %v", err)
	}
	if job.IsRetryable(err) {
		t.Fatal("robots denials must not be retried")
	}
	if len(gate.urls) != 1 || gate.urls[0] != "https://example.com/private" {
		t.Fatalf("gate saw %v", gate.urls)
	}
}

func TestClassifyDistinguishesTimeouts(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	var fe *job.FetchError

	err := fetcher.classify(context.Background(), "https://a", context.DeadlineExceeded)
	if !errors.As(err, &fe) || fe.Kind != job.FetchErrorTimeout {
		t.Fatalf("expected timeout classification, got %v", err)
	}

	err = fetcher.classify(context.Background(), "https://b", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	if !errors.As(err, &fe) || fe.Kind != job.FetchErrorNetwork {
		t.Fatalf("expected network classification, got %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err = fetcher.classify(canceled, "https://c", context.Canceled)
	if errors.As(err, &fe) {
		t.Fatalf("caller cancellation must not classify as a fetch failure: %v", err)
	}
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Second
	if got := fetcher.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	if len(src["X-Test"]) != 2 {
		t.Fatalf("source header mutated: %+v", src)
	}

	netHeaders := toNetworkHeaders(src)
	switch v := netHeaders["X-Test"].(type) {
	case []string:
		if len(v) != 2 {
			t.Fatalf("expected two entries, got %v", v)
		}
	default:
		t.Fatalf("expected []string, got %T", v)
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || headers.Get("X-Request-ID") != "abc" || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d headers=%v url=%s", status, headers, url)
	}

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	fetcher := NewNoop()
	if _, err := fetcher.Fetch(context.Background(), job.FetchRequest{}); err == nil {
		t.Fatal("expected error from noop fetcher")
	}
}
