// Package finalizer assigns terminal states to crawl jobs. No single worker
// knows when a crawl is done, so a sweeper periodically checks every active
// job against its counters and the queue depths.
package finalizer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
	"github.com/parchment-ai/webharvest/internal/metrics"
)

const defaultInterval = 5 * time.Second

// JobCompletedEvent is published when a job reaches a terminal state.
type JobCompletedEvent struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	TotalURLs      int    `json:"total_urls"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
}

// Config controls the sweep loop.
type Config struct {
	Interval time.Duration
	// JobsTopic names the channel completion events are announced on.
	JobsTopic string
}

// Finalizer sweeps active jobs and completes the finished ones.
type Finalizer struct {
	jobStore   crawler.JobStore
	discovery  crawler.QueueStats
	processing crawler.QueueStats
	publisher  crawler.Publisher
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Finalizer.
func New(jobStore crawler.JobStore, discovery, processing crawler.QueueStats, publisher crawler.Publisher, cfg Config, logger *zap.Logger) *Finalizer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.JobsTopic == "" {
		cfg.JobsTopic = "job-completed"
	}
	return &Finalizer{
		jobStore:   jobStore,
		discovery:  discovery,
		processing: processing,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run sweeps on a ticker until the context finishes.
func (f *Finalizer) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Sweep(ctx); err != nil {
				f.logger.Error("finalizer sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep completes every active job whose work is drained. Pending jobs are
// left alone; their seed message has not been picked up yet.
func (f *Finalizer) Sweep(ctx context.Context) error {
	discoveryDepth, err := f.discovery.Depth(ctx)
	if err != nil {
		return fmt.Errorf("discovery queue depth: %w", err)
	}
	processingDepth, err := f.processing.Depth(ctx)
	if err != nil {
		return fmt.Errorf("processing queue depth: %w", err)
	}
	metrics.SetQueueDepth("discovery", discoveryDepth)
	metrics.SetQueueDepth("processing", processingDepth)
	if discoveryDepth > 0 || processingDepth > 0 {
		return nil
	}

	jobs, err := f.jobStore.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Status == crawler.JobStatusPending {
			continue
		}
		if job.ProcessedCount+job.FailedCount < job.TotalURLs {
			continue
		}
		if err := f.complete(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (f *Finalizer) complete(ctx context.Context, job crawler.ScrapeJob) error {
	status := crawler.JobStatusCompleted
	if job.FailedCount > 0 {
		status = crawler.JobStatusCompletedWithErrors
	}
	if err := f.jobStore.UpdateJobStatus(ctx, job.JobID, status); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	f.logger.Info("job completed",
		zap.String("job_id", job.JobID),
		zap.String("status", string(status)),
		zap.Int("total_urls", job.TotalURLs),
		zap.Int("processed", job.ProcessedCount),
		zap.Int("failed", job.FailedCount))

	event := JobCompletedEvent{
		JobID:          job.JobID,
		Status:         string(status),
		TotalURLs:      job.TotalURLs,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
	}
	if _, err := f.publisher.Publish(ctx, f.cfg.JobsTopic, event); err != nil {
		// Completion is already durable; the event is advisory.
		f.logger.Warn("job completion event publish failed",
			zap.String("job_id", job.JobID),
			zap.Error(err))
	}
	return nil
}
