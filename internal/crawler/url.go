package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the same page maps to one record key.
// It strips the fragment, lowercases the scheme and hostname (path case is
// preserved), trims all trailing slashes except on the bare root, and keeps
// the query string. The function is idempotent.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Trim every trailing slash, not just one, so "/a//" and "/a/" key the
	// same record and a second pass is a no-op.
	u.Path = strings.TrimRight(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// GetURLDepth returns the number of additional path segments of rawURL
// relative to baseURL. URLs on a different hostname yield 0 rather than an
// error so cross-host comparisons never crash callers.
func GetURLDepth(rawURL, baseURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return 0
	}
	if !strings.EqualFold(u.Hostname(), base.Hostname()) {
		return 0
	}

	depth := len(pathSegments(u.Path)) - len(pathSegments(base.Path))
	if depth < 0 {
		return 0
	}
	return depth
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
