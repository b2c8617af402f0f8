// Package extract turns fetched HTML into result payloads: title and meta
// fields, the formats the caller asked for, and outbound links for crawl
// expansion.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Format names accepted in ScrapeOptions.Formats. An empty list means
// markdown only.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatText     = "text"
)

// Extractor implements job.Extractor with goquery parsing and
// html-to-markdown conversion.
type Extractor struct{}

// New builds an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses the response body and fills the payload fields selected by
// opts.Formats. Title, description and canonical metadata are always
// populated when present.
func (e *Extractor) Extract(_ context.Context, resp job.FetchResponse, opts job.ScrapeOptions) (job.Payload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return job.Payload{}, &job.ExtractError{URL: resp.URL, Permanent: true, Err: fmt.Errorf("parse html: %w", err)}
	}

	payload := job.Payload{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: metaContent(doc, "meta[name='description']", "meta[property='og:description']"),
	}
	if payload.Title == "" {
		payload.Title = metaContent(doc, "meta[property='og:title']")
	}
	if canonical, ok := doc.Find("link[rel='canonical']").Attr("href"); ok && canonical != "" {
		payload.Metadata = map[string]string{"canonical": strings.TrimSpace(canonical)}
	}

	for _, format := range normalizeFormats(opts.Formats) {
		switch format {
		case FormatMarkdown:
			md, err := e.markdown(resp)
			if err != nil {
				return job.Payload{}, err
			}
			payload.Markdown = md
		case FormatHTML:
			payload.HTML = string(resp.Body)
		case FormatText:
			payload.Text = plainText(doc)
		}
	}
	return payload, nil
}

// DiscoverLinks returns the outbound anchor targets of the page, resolved
// against the final response URL, http(s) only, in first-seen order.
func (e *Extractor) DiscoverLinks(resp job.FetchResponse) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &job.ExtractError{URL: resp.URL, Permanent: true, Err: fmt.Errorf("parse html: %w", err)}
	}

	base, err := url.Parse(resp.URL)
	if err != nil {
		base = nil
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || shouldSkipLink(href) {
			return
		}
		resolved := resolveLink(href, base)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links, nil
}

func (e *Extractor) markdown(resp job.FetchResponse) (string, error) {
	var opts []converter.ConvertOptionFunc
	if u, err := url.Parse(resp.URL); err == nil && u.Host != "" {
		opts = append(opts, converter.WithDomain(u.Scheme+"://"+u.Host))
	}
	md, err := htmltomarkdown.ConvertString(string(resp.Body), opts...)
	if err != nil {
		return "", &job.ExtractError{URL: resp.URL, Permanent: true, Err: fmt.Errorf("convert markdown: %w", err)}
	}
	return strings.TrimSpace(md), nil
}

func normalizeFormats(formats []string) []string {
	if len(formats) == 0 {
		return []string{FormatMarkdown}
	}
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		out = append(out, strings.ToLower(strings.TrimSpace(f)))
	}
	return out
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if trimmed := strings.TrimSpace(content); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// plainText flattens the body text, collapsing runs of whitespace. Script
// and style contents are stripped first since goquery's Text() would keep
// them.
func plainText(doc *goquery.Document) string {
	clone := doc.Selection.Clone()
	clone.Find("script, style, noscript").Remove()
	body := clone.Find("body")
	text := body.Text()
	if body.Length() == 0 {
		text = clone.Text()
	}
	return strings.Join(strings.Fields(text), " ")
}

func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "sms:", "ftp:", "data:"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}

func resolveLink(href string, base *url.URL) string {
	if base == nil {
		u, err := url.Parse(href)
		if err != nil || !u.IsAbs() {
			return ""
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return ""
		}
		return u.String()
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
