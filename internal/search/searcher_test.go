package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

func serpPage(entries ...[2]string) string {
	var b []byte
	b = append(b, []byte("<html><body><div id='search'>")...)
	for _, e := range entries {
		b = append(b, []byte(fmt.Sprintf(
			`<div class="g"><a href="%s"><h3>%s</h3></a><div class="VwiC3b">About %s</div></div>`,
			e[0], e[1], e[1],
		))...)
	}
	b = append(b, []byte("</div></body></html>")...)
	return string(b)
}

type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls []string
}

func (f *pageFetcher) Fetch(_ context.Context, req job.FetchRequest) (job.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.fail[req.URL]; ok {
		return job.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return job.FetchResponse{}, &job.FetchError{URL: req.URL, Kind: job.FetchErrorHTTP, StatusCode: 404, Err: errors.New("no fixture")}
	}
	return job.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func TestGoogleBuildURL(t *testing.T) {
	t.Parallel()

	g := NewGoogle()
	first := g.BuildURL("go generics", 1)
	require.Contains(t, first, "q=go+generics")
	require.NotContains(t, first, "start=")

	third := g.BuildURL("go generics", 3)
	require.Contains(t, third, "start=20")
}

func TestGoogleParseUnwrapsRedirects(t *testing.T) {
	t.Parallel()

	page := `<html><body>
      <div class="g"><a href="/url?q=https%3A%2F%2Fgo.dev%2Fblog&sa=U"><h3>Go Blog</h3></a></div>
      <div class="g"><a href="javascript:void(0)"><h3>Skipped</h3></a></div>
      <div class="g"><a href="https://pkg.go.dev"></a></div>
    </body></html>`
	items, err := NewGoogle().Parse(job.FetchResponse{URL: "https://www.google.com/search?q=go", Body: []byte(page)})
	require.NoError(t, err)

	// The javascript link and the title-less block are dropped.
	require.Len(t, items, 1)
	require.Equal(t, "https://go.dev/blog", items[0].URL)
	require.Equal(t, "Go Blog", items[0].Title)
}

func TestSearcherAssemblesRankedPages(t *testing.T) {
	t.Parallel()

	g := NewGoogle()
	fetcher := &pageFetcher{pages: map[string]string{
		g.BuildURL("golang", 1): serpPage(
			[2]string{"https://go.dev", "The Go Programming Language"},
			[2]string{"https://go.dev/doc", "Documentation"},
		),
		g.BuildURL("golang", 2): serpPage(
			[2]string{"https://go.dev/blog", "The Go Blog"},
		),
	}}

	items, fetched, err := New(g, fetcher, 2, zap.NewNop()).Search(context.Background(), "golang", job.SearchOptions{Pages: 2})
	require.NoError(t, err)
	require.Equal(t, 2, fetched)
	require.Len(t, items, 3)

	// Page order is preserved regardless of fetch completion order.
	require.Equal(t, "https://go.dev", items[0].URL)
	require.Equal(t, 1, items[0].Rank)
	require.Equal(t, "https://go.dev/blog", items[2].URL)
	require.Equal(t, 3, items[2].Rank)
	require.Equal(t, "About The Go Programming Language", items[0].Description)
}

func TestSearcherLimitTrimsResults(t *testing.T) {
	t.Parallel()

	g := NewGoogle()
	fetcher := &pageFetcher{pages: map[string]string{
		g.BuildURL("golang", 1): serpPage(
			[2]string{"https://go.dev/1", "One"},
			[2]string{"https://go.dev/2", "Two"},
			[2]string{"https://go.dev/3", "Three"},
		),
	}}

	items, fetched, err := New(g, fetcher, 2, zap.NewNop()).Search(context.Background(), "golang", job.SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 1, fetched)
	require.Len(t, items, 2)
	require.Equal(t, 2, items[1].Rank)
}

func TestSearcherToleratesPartialPageFailure(t *testing.T) {
	t.Parallel()

	g := NewGoogle()
	fetcher := &pageFetcher{
		pages: map[string]string{
			g.BuildURL("golang", 1): serpPage([2]string{"https://go.dev", "Go"}),
		},
		fail: map[string]error{
			g.BuildURL("golang", 2): &job.FetchError{Kind: job.FetchErrorTimeout, Err: errors.New("slow upstream")},
		},
	}

	items, fetched, err := New(g, fetcher, 2, zap.NewNop()).Search(context.Background(), "golang", job.SearchOptions{Pages: 2})
	require.NoError(t, err)
	// Only the successful page is billed.
	require.Equal(t, 1, fetched)
	require.Len(t, items, 1)
}

func TestSearcherFailsWhenNoPageSucceeds(t *testing.T) {
	t.Parallel()

	g := NewGoogle()
	cause := &job.FetchError{Kind: job.FetchErrorNetwork, Err: errors.New("connection refused")}
	fetcher := &pageFetcher{fail: map[string]error{
		g.BuildURL("golang", 1): cause,
		g.BuildURL("golang", 2): cause,
	}}

	_, fetched, err := New(g, fetcher, 2, zap.NewNop()).Search(context.Background(), "golang", job.SearchOptions{Pages: 2})
	require.Error(t, err)
	require.Zero(t, fetched)
	// The fetch classification survives so the failure handler can retry.
	require.True(t, job.IsRetryable(err))
}
