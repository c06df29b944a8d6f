package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
	"github.com/parchment-ai/webharvest/internal/metrics"
)

// Config controls Strategy behavior.
type Config struct {
	// Timeout applies per fetch attempt.
	Timeout time.Duration
	// MaxAttempts bounds the direct-path retry loop.
	MaxAttempts int
}

// Strategy combines the direct HTTP path with the headless-render fallback.
// The direct path retries transient failures with exponential backoff; the
// renderer is consulted only when the direct result looks like a SPA shell.
type Strategy struct {
	direct   crawler.Fetcher
	renderer crawler.Renderer
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// New constructs a Strategy. renderer may be nil, which disables the fallback.
func New(direct crawler.Fetcher, renderer crawler.Renderer, cfg Config, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Strategy{
		direct:   direct,
		renderer: renderer,
		cfg:      cfg,
		sleep:    sleepWithContext,
		logger:   logger,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FetchAuto fetches a URL, always waiting delay first for politeness. With
// forceRender the direct path is skipped entirely. Otherwise a successful
// direct fetch of SPA-looking HTML triggers the render fallback; the rendered
// result replaces the direct one only when the fallback itself succeeds, so
// content that was already fetched is never dropped.
func (s *Strategy) FetchAuto(
	ctx context.Context,
	url string,
	cookies, headers map[string]string,
	forceRender bool,
	delay time.Duration,
) (crawler.FetchResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveFetchDuration(time.Since(start)) }()

	if err := s.sleep(ctx, delay); err != nil {
		return crawler.FetchResult{}, err
	}

	if forceRender {
		return s.render(ctx, url, cookies)
	}

	res, err := s.fetchDirect(ctx, url, cookies, headers)
	if err != nil {
		return res, err
	}

	if res.IsHTML && s.renderer != nil && IsSPA(res.Content) {
		rendered, rerr := s.renderer.Render(ctx, res.URL, cookies)
		if rerr != nil {
			s.logger.Warn("render fallback failed, keeping direct result",
				zap.String("url", res.URL),
				zap.Error(rerr),
			)
			res.Warning = fmt.Sprintf("render fallback failed: %v", rerr)
			return res, nil
		}
		metrics.RecordSPAPromotion()
		rendered.Rendered = true
		rendered.IsHTML = true
		if rendered.URL == "" {
			rendered.URL = res.URL
		}
		if rendered.StatusCode == 0 {
			rendered.StatusCode = res.StatusCode
		}
		return rendered, nil
	}
	return res, nil
}

func (s *Strategy) render(ctx context.Context, url string, cookies map[string]string) (crawler.FetchResult, error) {
	if s.renderer == nil {
		return crawler.FetchResult{}, errors.New("render requested but no renderer configured")
	}
	res, err := s.renderer.Render(ctx, url, cookies)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("render %s: %w", url, err)
	}
	res.Rendered = true
	res.IsHTML = true
	if res.URL == "" {
		res.URL = url
	}
	return res, nil
}

// fetchDirect runs the retry loop over the direct HTTP path. Transport errors
// and retryable statuses (429, 5xx) are retried with exponential backoff;
// other HTTP errors return immediately. After the attempt budget the last
// error is returned.
func (s *Strategy) fetchDirect(ctx context.Context, url string, cookies, headers map[string]string) (crawler.FetchResult, error) {
	req := crawler.FetchRequest{
		URL:     url,
		Cookies: cookies,
		Headers: headers,
		Timeout: s.cfg.Timeout,
	}

	var (
		last    crawler.FetchResult
		lastErr error
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		res, err := s.direct.Fetch(ctx, req)
		status := 0
		switch {
		case err == nil && res.StatusCode < 400:
			metrics.RecordFetchAttempt("success")
			return res, nil
		case err == nil:
			status = res.StatusCode
			if !RetryableStatus(status) {
				metrics.RecordFetchAttempt("permanent_error")
				return res, fmt.Errorf("fetch %s: status %d", url, status)
			}
			last = res
			lastErr = fmt.Errorf("fetch %s: status %d", url, status)
		default:
			if ctx.Err() != nil {
				return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", url, ctx.Err())
			}
			last = res
			lastErr = fmt.Errorf("fetch %s: %w", url, err)
		}
		metrics.RecordFetchAttempt("retry")

		if attempt < s.cfg.MaxAttempts {
			s.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
			)
			if serr := s.sleep(ctx, BackoffDelay(attempt, status)); serr != nil {
				return last, serr
			}
		}
	}
	metrics.RecordFetchAttempt("exhausted")
	return last, fmt.Errorf("retries exhausted: %w", lastErr)
}
