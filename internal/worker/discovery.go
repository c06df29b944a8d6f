package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
	"github.com/parchment-ai/webharvest/internal/metrics"
)

// DiscoveryWorker consumes the discovery queue. For each URL it claims the
// page record, fetches the content, hands the page to the processing queue,
// and enqueues in-scope child links back onto the discovery queue.
type DiscoveryWorker struct {
	discoveryQueue  crawler.Queue
	processingQueue crawler.Queue
	jobStore        crawler.JobStore
	pageStore       crawler.PageStore
	fetcher         FetchStrategy
	links           crawler.LinkExtractor
	clock           crawler.Clock
	logger          *zap.Logger
}

// NewDiscoveryWorker constructs a DiscoveryWorker.
func NewDiscoveryWorker(
	discoveryQueue crawler.Queue,
	processingQueue crawler.Queue,
	jobStore crawler.JobStore,
	pageStore crawler.PageStore,
	fetcher FetchStrategy,
	links crawler.LinkExtractor,
	clock crawler.Clock,
	logger *zap.Logger,
) *DiscoveryWorker {
	return &DiscoveryWorker{
		discoveryQueue:  discoveryQueue,
		processingQueue: processingQueue,
		jobStore:        jobStore,
		pageStore:       pageStore,
		fetcher:         fetcher,
		links:           links,
		clock:           clock,
		logger:          logger,
	}
}

// Run blocks, consuming discovery messages until the context finishes. An
// infrastructure error nacks the message for redelivery; everything else,
// including page-level failures, consumes it.
func (w *DiscoveryWorker) Run(ctx context.Context) {
	for {
		d, err := w.discoveryQueue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("discovery receive failed", zap.Error(err))
			continue
		}
		if err := w.Handle(ctx, d.Message()); err != nil {
			w.logger.Error("discovery handling failed, requeueing",
				zap.String("job_id", d.Message().JobID),
				zap.String("url", d.Message().URL),
				zap.Error(err))
			d.Nack()
			continue
		}
		d.Ack()
	}
}

// Handle processes one discovery message. A nil return means the message is
// consumed; a non-nil return means transient infrastructure trouble and the
// caller should nack.
func (w *DiscoveryWorker) Handle(ctx context.Context, msg crawler.QueueMessage) error {
	job, ok, err := jobForMessage(ctx, w.jobStore, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		metrics.RecordDiscovery("discarded")
		return nil
	}
	cfg := job.Config.WithDefaults()

	if job.Status == crawler.JobStatusPending {
		if err := w.jobStore.UpdateJobStatus(ctx, msg.JobID, crawler.JobStatusDiscovering); err != nil {
			return fmt.Errorf("mark job discovering: %w", err)
		}
	}

	// The page budget is checked before the record is created so the number
	// of page records can never exceed max_pages, no matter how many queued
	// messages outlive the budget.
	if job.TotalURLs >= cfg.MaxPages {
		metrics.RecordDiscovery("budget_exhausted")
		return nil
	}

	url, err := crawler.NormalizeURL(msg.URL)
	if err != nil {
		w.logger.Warn("dropping unparseable discovery url",
			zap.String("job_id", msg.JobID),
			zap.String("url", msg.URL),
			zap.Error(err))
		metrics.RecordDiscovery("discarded")
		return nil
	}

	created, err := w.pageStore.CreatePageIfAbsent(ctx, crawler.ScrapePage{
		JobID:        msg.JobID,
		URL:          url,
		Status:       crawler.PageStatusPending,
		Depth:        msg.Depth,
		DiscoveredAt: w.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("claim page: %w", err)
	}
	if !created {
		// Another worker already discovered this URL, possibly a redelivery.
		metrics.RecordDiscovery("duplicate")
		return nil
	}

	res, fetchErr := w.fetcher.FetchAuto(ctx, url, cfg.Cookies, cfg.Headers, cfg.ForceRender, cfg.RequestDelay())

	// A cancel can land while the fetch is in flight. The fetch is allowed to
	// finish, but nothing after it may enqueue or persist.
	job, ok, err = jobForMessage(ctx, w.jobStore, msg.JobID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if !ok {
		metrics.RecordDiscovery("discarded")
		return nil
	}

	if fetchErr != nil {
		return w.failPage(ctx, msg.JobID, url, fmt.Sprintf("fetch failed: %v", fetchErr))
	}
	if res.Warning != "" {
		w.logger.Warn("fetch completed with warning",
			zap.String("job_id", msg.JobID),
			zap.String("url", url),
			zap.String("warning", res.Warning))
	}

	if err := w.processingQueue.Send(ctx, crawler.QueueMessage{JobID: msg.JobID, URL: url, Depth: msg.Depth}); err != nil {
		return fmt.Errorf("enqueue for processing: %w", err)
	}
	if err := w.jobStore.AddTotalURLs(ctx, msg.JobID, 1); err != nil {
		return fmt.Errorf("count discovered url: %w", err)
	}
	metrics.RecordDiscovery("enqueued")

	if msg.Depth < cfg.MaxDepth && res.IsHTML {
		if err := w.expand(ctx, job, cfg, url, msg.Depth, res); err != nil {
			return err
		}
	}
	return nil
}

// expand filters the page's outbound links and enqueues the survivors at the
// next depth, truncated to the remaining page budget.
func (w *DiscoveryWorker) expand(ctx context.Context, job crawler.ScrapeJob, cfg crawler.ScrapeConfig, pageURL string, depth int, res crawler.FetchResult) error {
	found, err := w.links.Links(res.Content, res.URL)
	if err != nil {
		w.logger.Warn("link extraction failed",
			zap.String("job_id", job.JobID),
			zap.String("url", pageURL),
			zap.Error(err))
		return nil
	}

	visited := map[string]struct{}{pageURL: {}}
	children := crawler.FilterDiscoveredURLs(found, job.BaseURL, cfg, visited)
	if len(children) == 0 {
		return nil
	}

	// Re-read the counter so concurrent workers converge on the budget; the
	// page store claim still catches any remaining overlap.
	fresh, err := w.jobStore.GetJob(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("refresh job: %w", err)
	}
	remaining := cfg.MaxPages - fresh.TotalURLs
	if remaining <= 0 {
		return nil
	}
	if len(children) > remaining {
		children = children[:remaining]
	}

	for _, child := range children {
		msg := crawler.QueueMessage{JobID: job.JobID, URL: child, Depth: depth + 1}
		if err := w.discoveryQueue.Send(ctx, msg); err != nil {
			return fmt.Errorf("enqueue child url: %w", err)
		}
	}
	w.logger.Debug("expanded page links",
		zap.String("job_id", job.JobID),
		zap.String("url", pageURL),
		zap.Int("children", len(children)))
	return nil
}

// failPage records a page-level failure and consumes the message. Store
// errors during the bookkeeping are infrastructure trouble and bubble up.
func (w *DiscoveryWorker) failPage(ctx context.Context, jobID, url, errText string) error {
	if err := w.pageStore.FailPage(ctx, jobID, url, errText); err != nil {
		return fmt.Errorf("fail page: %w", err)
	}
	if err := w.jobStore.RecordPageFailure(ctx, jobID, url, errText); err != nil {
		return fmt.Errorf("record page failure: %w", err)
	}
	w.logger.Warn("page discovery failed",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.String("error", errText))
	metrics.RecordDiscovery("failed")
	return nil
}
