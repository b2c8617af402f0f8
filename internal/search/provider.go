// Package search runs search-engine queries by fetching result pages and
// parsing them into ranked items.
package search

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// resultsPerPage is the page size requested from providers.
const resultsPerPage = 10

// defaultGoogleBase is where result pages are fetched from unless a proxy
// endpoint is configured.
const defaultGoogleBase = "https://www.google.com/search"

// Provider knows one engine's URL scheme and result markup.
type Provider interface {
	Name() string
	// BuildURL returns the fetch URL for the 1-based result page.
	BuildURL(query string, page int) string
	// Parse extracts the result items from a fetched page, in page order.
	Parse(resp job.FetchResponse) ([]job.SearchItem, error)
}

// Google parses google.com result pages.
type Google struct {
	// BaseURL replaces the google.com endpoint, typically with a SERP
	// proxy. Empty keeps the default.
	BaseURL string
	// PageSize is the per-page result count requested. Zero keeps the
	// default of 10.
	PageSize int
}

// NewGoogle builds the Google provider with defaults.
func NewGoogle() *Google {
	return &Google{}
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// BuildURL implements Provider.
func (g *Google) BuildURL(query string, page int) string {
	if page < 1 {
		page = 1
	}
	size := g.PageSize
	if size < 1 {
		size = resultsPerPage
	}
	base := g.BaseURL
	if base == "" {
		base = defaultGoogleBase
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(size))
	params.Set("hl", "en")
	if page > 1 {
		params.Set("start", strconv.Itoa((page-1)*size))
	}
	return base + "?" + params.Encode()
}

// Parse implements Provider. Ranks are left zero; the searcher assigns them
// after pages are assembled in order.
func (g *Google) Parse(resp job.FetchResponse) ([]job.SearchItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &job.ExtractError{URL: resp.URL, Permanent: true, Err: fmt.Errorf("parse result page: %w", err)}
	}

	var items []job.SearchItem
	doc.Find("div.g").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		link := cleanResultLink(href)
		if link == "" {
			return
		}
		title := strings.TrimSpace(s.Find("h3").First().Text())
		if title == "" {
			return
		}
		items = append(items, job.SearchItem{
			URL:         link,
			Title:       title,
			Description: strings.TrimSpace(s.Find("div.VwiC3b").First().Text()),
		})
	})
	return items, nil
}

// cleanResultLink unwraps /url?q= redirect links and drops anything that is
// not plain http(s).
func cleanResultLink(href string) string {
	if strings.HasPrefix(href, "/url?") {
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		href = u.Query().Get("q")
	}
	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return href
}
