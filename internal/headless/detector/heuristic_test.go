package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := job.FetchResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	for _, body := range []string{
		`<div id="__next"></div>`,
		`<div id="root"></div>`,
		`<app-root ng-version="17.0.2"></app-root>`,
	} {
		resp := job.FetchResponse{StatusCode: 200, Body: []byte(body)}
		require.True(t, h.ShouldPromote(resp), "body %q", body)
	}
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := job.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_PlainArticle(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := job.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><article>plenty of static prose here</article></body></html>`),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := job.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}
