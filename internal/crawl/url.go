package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so frontier dedup treats equivalent
// addresses as one. It lowercases the scheme and host, removes default
// ports, strips the fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	// Encode() sorts keys, so query order never defeats dedup.
	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// hostOf returns the lowercased host (no port) of a normalized URL.
func hostOf(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// pathOf returns the path component used for include/exclude matching. An
// empty path matches as "/".
func pathOf(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// sameOrSubdomain reports whether hostname belongs to the same registrable
// site as target, treating www as transparent and accepting subdomains.
func sameOrSubdomain(hostname, target string) bool {
	hostname = strings.ToLower(hostname)
	target = strings.ToLower(target)

	bareHost := strings.TrimPrefix(hostname, "www.")
	bareTarget := strings.TrimPrefix(target, "www.")

	if hostname == target || bareHost == bareTarget {
		return true
	}
	if strings.HasSuffix(hostname, "."+target) {
		return true
	}
	return strings.HasSuffix(hostname, "."+bareTarget)
}
