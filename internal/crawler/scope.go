package crawler

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/publicsuffix"
)

// MatchesPatterns reports whether the URL matches any of the glob patterns.
// An empty pattern list matches nothing; callers decide what that means for
// includes versus excludes. Patterns that fail to compile match nothing.
func MatchesPatterns(rawURL string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		if g.Match(rawURL) {
			return true
		}
	}
	return false
}

// ShouldCrawl decides whether a candidate URL is eligible under the job's
// scope and include/exclude patterns. Only http(s) URLs are crawlable.
func ShouldCrawl(candidate, baseURL string, cfg ScrapeConfig) bool {
	cu, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	bu, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	if cu.Scheme != "http" && cu.Scheme != "https" {
		return false
	}

	if !inScope(cu, bu, cfg.Scope) {
		return false
	}
	if len(cfg.IncludePatterns) > 0 && !MatchesPatterns(candidate, cfg.IncludePatterns) {
		return false
	}
	if MatchesPatterns(candidate, cfg.ExcludePatterns) {
		return false
	}
	return true
}

func inScope(candidate, base *url.URL, scope Scope) bool {
	switch scope {
	case ScopeHostname:
		return strings.EqualFold(candidate.Hostname(), base.Hostname())
	case ScopeDomain:
		return sameRegistrableDomain(candidate.Hostname(), base.Hostname())
	case ScopeSubpages:
		if !strings.EqualFold(candidate.Hostname(), base.Hostname()) {
			return false
		}
		return pathWithin(candidate.Path, base.Path)
	default:
		return false
	}
}

// sameRegistrableDomain compares eTLD+1 so subdomains stay in scope.
func sameRegistrableDomain(a, b string) bool {
	da, errA := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(a))
	db, errB := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(b))
	if errA != nil || errB != nil {
		// Hosts without a public suffix (IPs, localhost) fall back to an
		// exact comparison.
		return strings.EqualFold(a, b)
	}
	return da == db
}

// pathWithin reports whether candidate is the base path or nested under it.
func pathWithin(candidate, base string) bool {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return true
	}
	candidate = strings.TrimSuffix(candidate, "/")
	if candidate == base {
		return true
	}
	return strings.HasPrefix(candidate, base+"/")
}

// FilterDiscoveredURLs normalizes one page's outbound links, drops URLs
// already in visited, applies ShouldCrawl, and dedups the result itself.
// The visited set is a same-batch optimization only; the page store record is
// the source of truth for cross-message deduplication.
func FilterDiscoveredURLs(urls []string, baseURL string, cfg ScrapeConfig, visited map[string]struct{}) []string {
	var out []string
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		if _, ok := visited[normalized]; ok {
			continue
		}
		if !ShouldCrawl(normalized, baseURL, cfg) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}
