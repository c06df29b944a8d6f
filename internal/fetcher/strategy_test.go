package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
	"github.com/parchment-ai/webharvest/internal/metrics"
)

type fakeFetcher struct {
	results  []crawler.FetchResult
	errs     []error
	requests []crawler.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

type fakeRenderer struct {
	result crawler.FetchResult
	err    error
	calls  int
	urls   []string
}

func (r *fakeRenderer) Render(_ context.Context, url string, _ map[string]string) (crawler.FetchResult, error) {
	r.calls++
	r.urls = append(r.urls, url)
	return r.result, r.err
}

// recordSleeps swaps the strategy's sleeper for one that records durations.
func recordSleeps(s *Strategy) *[]time.Duration {
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func htmlResult(url, body string) crawler.FetchResult {
	return crawler.FetchResult{
		URL:         url,
		StatusCode:  200,
		Content:     []byte(body),
		ContentType: "text/html; charset=utf-8",
		IsHTML:      true,
	}
}

func TestFetchAuto_DirectSuccess(t *testing.T) {
	t.Parallel()

	body := "<html><body><p>" + strings.Repeat("real content ", 100) + "</p></body></html>"
	direct := &fakeFetcher{results: []crawler.FetchResult{htmlResult("https://example.com/docs", body)}}
	renderer := &fakeRenderer{}
	s := New(direct, renderer, Config{}, zap.NewNop())
	slept := recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://example.com/docs", nil, nil, false, 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Zero(t, renderer.calls)
	// Politeness delay always charged before the request.
	require.Equal(t, []time.Duration{500 * time.Millisecond}, *slept)
}

func TestFetchAuto_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	ok := htmlResult("https://example.com/", "<html><body>ok</body></html>")
	direct := &fakeFetcher{
		results: []crawler.FetchResult{
			{URL: "https://example.com/", StatusCode: 503},
			{URL: "https://example.com/", StatusCode: 503},
			ok,
		},
	}
	s := New(direct, nil, Config{}, zap.NewNop())
	slept := recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://example.com/", nil, nil, false, 0)
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Len(t, direct.requests, 3)
	// Backoff schedule: 2^1, 2^2 seconds (the zero politeness delay is skipped
	// inside the recorded sleeper as well, so it shows up as 0).
	require.Equal(t, []time.Duration{0, 2 * time.Second, 4 * time.Second}, *slept)
}

func TestFetchAuto_RateLimitDoublesBackoff(t *testing.T) {
	t.Parallel()

	direct := &fakeFetcher{
		results: []crawler.FetchResult{
			{URL: "https://example.com/", StatusCode: 429},
			{URL: "https://example.com/", StatusCode: 429},
			{URL: "https://example.com/", StatusCode: 429},
		},
	}
	s := New(direct, nil, Config{}, zap.NewNop())
	slept := recordSleeps(s)

	_, err := s.FetchAuto(context.Background(), "https://example.com/", nil, nil, false, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "retries exhausted")
	require.Len(t, direct.requests, 3)
	require.Equal(t, []time.Duration{0, 4 * time.Second, 8 * time.Second}, *slept)
}

func TestFetchAuto_PermanentErrorNoRetry(t *testing.T) {
	t.Parallel()

	direct := &fakeFetcher{
		results: []crawler.FetchResult{{URL: "https://example.com/gone", StatusCode: 404}},
	}
	s := New(direct, nil, Config{}, zap.NewNop())
	recordSleeps(s)

	_, err := s.FetchAuto(context.Background(), "https://example.com/gone", nil, nil, false, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
	require.Len(t, direct.requests, 1)
}

func TestFetchAuto_TransportErrorRetried(t *testing.T) {
	t.Parallel()

	ok := htmlResult("https://example.com/", "<html><body>ok</body></html>")
	direct := &fakeFetcher{
		results: []crawler.FetchResult{{}, ok},
		errs:    []error{errors.New("connection reset"), nil},
	}
	s := New(direct, nil, Config{}, zap.NewNop())
	recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://example.com/", nil, nil, false, 0)
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Len(t, direct.requests, 2)
}

func TestFetchAuto_SPAPromotedToRenderer(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="__next">Loading</div></body></html>`
	direct := &fakeFetcher{results: []crawler.FetchResult{htmlResult("https://app.example.com/", shell)}}
	renderer := &fakeRenderer{
		result: crawler.FetchResult{
			URL:        "https://app.example.com/",
			StatusCode: 200,
			Content:    []byte("<html><body>full rendered content</body></html>"),
		},
	}
	s := New(direct, renderer, Config{}, zap.NewNop())
	recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://app.example.com/", nil, nil, false, 0)
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)
	require.True(t, res.Rendered)
	require.Contains(t, string(res.Content), "full rendered content")
}

func TestFetchAuto_RenderFallbackFailureKeepsDirectResult(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="__next">Hi</div></body></html>`
	direct := &fakeFetcher{results: []crawler.FetchResult{htmlResult("https://app.example.com/", shell)}}
	renderer := &fakeRenderer{err: errors.New("browser crashed")}
	s := New(direct, renderer, Config{}, zap.NewNop())
	recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://app.example.com/", nil, nil, false, 0)
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)
	require.False(t, res.Rendered)
	require.Equal(t, []byte(shell), res.Content)
	require.Contains(t, res.Warning, "render fallback failed")
}

func TestFetchAuto_PromotionUsesEffectiveURL(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="__next">Hi</div></body></html>`
	// Direct fetch redirected: effective URL differs from the request URL.
	direct := &fakeFetcher{results: []crawler.FetchResult{htmlResult("https://example.com/final", shell)}}
	renderer := &fakeRenderer{result: crawler.FetchResult{StatusCode: 200, Content: []byte("<html>r</html>")}}
	s := New(direct, renderer, Config{}, zap.NewNop())
	recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://example.com/start", nil, nil, false, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/final"}, renderer.urls)
	// A renderer that reports no URL inherits the direct effective URL.
	require.Equal(t, "https://example.com/final", res.URL)
}

// fetchDurationCount reads the sample count of the fetch latency histogram
// from the default registry.
func fetchDurationCount(t *testing.T) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "webharvest_fetch_duration_seconds" {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatal("fetch duration histogram not registered")
	return 0
}

func TestFetchAuto_ObservesDuration(t *testing.T) {
	metrics.Init()
	before := fetchDurationCount(t)

	direct := &fakeFetcher{results: []crawler.FetchResult{htmlResult("https://example.com/", "<html><body>ok</body></html>")}}
	s := New(direct, nil, Config{}, zap.NewNop())
	recordSleeps(s)

	_, err := s.FetchAuto(context.Background(), "https://example.com/", nil, nil, false, 0)
	require.NoError(t, err)
	require.Greater(t, fetchDurationCount(t), before)
}

func TestFetchAuto_ForceRenderSkipsDirect(t *testing.T) {
	t.Parallel()

	direct := &fakeFetcher{results: []crawler.FetchResult{{}}}
	renderer := &fakeRenderer{
		result: crawler.FetchResult{StatusCode: 200, Content: []byte("<html>rendered</html>")},
	}
	s := New(direct, renderer, Config{}, zap.NewNop())
	recordSleeps(s)

	res, err := s.FetchAuto(context.Background(), "https://example.com/", nil, nil, true, 0)
	require.NoError(t, err)
	require.Empty(t, direct.requests)
	require.Equal(t, 1, renderer.calls)
	require.True(t, res.Rendered)
	require.Equal(t, "https://example.com/", res.URL)
}
