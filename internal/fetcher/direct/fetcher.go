// Package direct implements crawler.Fetcher with a plain HTTP GET via colly.
package direct

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher issues single-page GETs. Redirects are followed and the effective
// post-redirect URL is reported on the result. HTTP error statuses are
// reported on the result with a nil error; the error return is reserved for
// transport-level failures so callers can classify retries.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes one HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	collector := f.base.Clone()
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)

	if len(request.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(request.Cookies))
		for name, value := range request.Cookies {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value})
		}
		if err := collector.SetCookies(request.URL, cookies); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("set cookies: %w", err)
		}
	}

	var (
		result   crawler.FetchResult
		fetchErr error
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for name, value := range request.Headers {
			r.Headers.Set(name, value)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = resultFromResponse(r)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// Got an HTTP response; report the status and let the caller
			// decide whether it is retryable.
			result = resultFromResponse(r)
			return
		}
		fetchErr = err
	})

	if err := collector.Visit(request.URL); err != nil {
		return crawler.FetchResult{}, fmt.Errorf("visit %s: %w", request.URL, err)
	}
	collector.Wait()

	if ctx.Err() != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	}
	if fetchErr != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	return result, nil
}

func resultFromResponse(r *colly.Response) crawler.FetchResult {
	contentType := r.Headers.Get("Content-Type")
	effectiveURL := r.Request.URL.String()
	return crawler.FetchResult{
		URL:         effectiveURL,
		StatusCode:  r.StatusCode,
		Content:     r.Body,
		ContentType: contentType,
		IsHTML:      strings.Contains(strings.ToLower(contentType), "text/html"),
	}
}
