package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Release Notes</title>
  <meta name="description" content="What changed this cycle.">
  <link rel="canonical" href="https://example.com/notes">
  <style>h1 { color: red; }</style>
</head>
<body>
  <h1>Release Notes</h1>
  <p>Bug fixes and <a href="/changelog">a changelog</a>.</p>
  <script>console.log("tracking");</script>
</body>
</html>`

func response(url string, body string) job.FetchResponse {
	return job.FetchResponse{URL: url, StatusCode: 200, Body: []byte(body)}
}

func TestExtractDefaultsToMarkdown(t *testing.T) {
	t.Parallel()

	payload, err := New().Extract(context.Background(), response("https://example.com/notes", articleHTML), job.ScrapeOptions{})
	require.NoError(t, err)

	require.Equal(t, "Release Notes", payload.Title)
	require.Equal(t, "What changed this cycle.", payload.Description)
	require.Equal(t, "https://example.com/notes", payload.Metadata["canonical"])
	require.Contains(t, payload.Markdown, "# Release Notes")
	require.Contains(t, payload.Markdown, "changelog")
	require.Empty(t, payload.HTML)
	require.Empty(t, payload.Text)
}

func TestExtractSelectedFormats(t *testing.T) {
	t.Parallel()

	opts := job.ScrapeOptions{Formats: []string{"markdown", "HTML", "text"}}
	payload, err := New().Extract(context.Background(), response("https://example.com/notes", articleHTML), opts)
	require.NoError(t, err)

	require.NotEmpty(t, payload.Markdown)
	require.Equal(t, articleHTML, payload.HTML)
	require.Contains(t, payload.Text, "Bug fixes and a changelog.")
	// Script and style bodies never leak into the text format.
	require.NotContains(t, payload.Text, "tracking")
	require.NotContains(t, payload.Text, "color: red")
}

func TestExtractOpenGraphFallbacks(t *testing.T) {
	t.Parallel()

	page := `<html><head>
      <meta property="og:title" content="OG Title">
      <meta property="og:description" content="OG description.">
    </head><body><p>hi</p></body></html>`
	payload, err := New().Extract(context.Background(), response("https://example.com", page), job.ScrapeOptions{})
	require.NoError(t, err)

	require.Equal(t, "OG Title", payload.Title)
	require.Equal(t, "OG description.", payload.Description)
}

func TestDiscoverLinks(t *testing.T) {
	t.Parallel()

	page := `<html><body>
      <a href="/a">relative</a>
      <a href="https://other.example.org/b">absolute</a>
      <a href="/a">duplicate</a>
      <a href="c#section">fragment stripped</a>
      <a href="javascript:void(0)">script</a>
      <a href="mailto:team@example.com">mail</a>
      <a href="#top">anchor</a>
      <a href="ftp://example.com/file">ftp</a>
    </body></html>`
	links, err := New().DiscoverLinks(response("https://example.com/dir/page", page))
	require.NoError(t, err)

	require.Equal(t, []string{
		"https://example.com/a",
		"https://other.example.org/b",
		"https://example.com/dir/c",
	}, links)
}

func TestDiscoverLinksWithoutUsableBase(t *testing.T) {
	t.Parallel()

	page := `<html><body>
      <a href="/relative">lost</a>
      <a href="https://example.com/kept">kept</a>
    </body></html>`
	links, err := New().DiscoverLinks(job.FetchResponse{URL: "::not-a-url", Body: []byte(page)})
	require.NoError(t, err)

	require.Equal(t, []string{"https://example.com/kept"}, links)
}
