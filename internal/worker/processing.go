package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
	"github.com/parchment-ai/webharvest/internal/metrics"
)

// Dedup is the content-change gate used by the processing worker.
type Dedup interface {
	IsContentChanged(ctx context.Context, jobID, url, markdown string) (bool, string, error)
	StoreHash(ctx context.Context, jobID, url, markdown string) error
}

// ProcessingConfig controls document persistence.
type ProcessingConfig struct {
	// BlobPrefix is the root path for stored documents.
	BlobPrefix string
	// ContentTopic names the channel accepted documents are announced on.
	ContentTopic string
}

// ProcessingWorker consumes the processing queue. It re-fetches each page,
// extracts markdown, gates it on content change, and persists the document
// plus its provenance sidecar.
type ProcessingWorker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	pageStore crawler.PageStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	fetcher   FetchStrategy
	extractor crawler.ContentExtractor
	dedup     Dedup
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       ProcessingConfig
	logger    *zap.Logger
}

// NewProcessingWorker constructs a ProcessingWorker.
func NewProcessingWorker(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	pageStore crawler.PageStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	fetcher FetchStrategy,
	extractor crawler.ContentExtractor,
	dedup Dedup,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg ProcessingConfig,
	logger *zap.Logger,
) *ProcessingWorker {
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "jobs"
	}
	if cfg.ContentTopic == "" {
		cfg.ContentTopic = "content-accepted"
	}
	return &ProcessingWorker{
		queue:     queue,
		jobStore:  jobStore,
		pageStore: pageStore,
		blobStore: blobStore,
		publisher: publisher,
		fetcher:   fetcher,
		extractor: extractor,
		dedup:     dedup,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming processing messages until the context finishes.
func (w *ProcessingWorker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("processing receive failed", zap.Error(err))
			continue
		}
		if err := w.Handle(ctx, d.Message()); err != nil {
			w.logger.Error("processing handling failed, requeueing",
				zap.String("job_id", d.Message().JobID),
				zap.String("url", d.Message().URL),
				zap.Error(err))
			d.Nack()
			continue
		}
		d.Ack()
	}
}

// Handle processes one page. A nil return consumes the message; a non-nil
// return signals transient infrastructure trouble and requeues it.
func (w *ProcessingWorker) Handle(ctx context.Context, msg crawler.QueueMessage) error {
	job, ok, err := jobForMessage(ctx, w.jobStore, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		metrics.RecordProcessing("discarded")
		return nil
	}
	cfg := job.Config.WithDefaults()

	if job.Status == crawler.JobStatusDiscovering {
		if err := w.jobStore.UpdateJobStatus(ctx, msg.JobID, crawler.JobStatusProcessing); err != nil {
			return fmt.Errorf("mark job processing: %w", err)
		}
	}

	url, err := crawler.NormalizeURL(msg.URL)
	if err != nil {
		w.logger.Warn("dropping unparseable processing url",
			zap.String("job_id", msg.JobID),
			zap.String("url", msg.URL),
			zap.Error(err))
		metrics.RecordProcessing("discarded")
		return nil
	}

	// Queues do not guarantee ordering, so this message can arrive before the
	// discovery worker's record is visible. Creating the record here keeps
	// the pipeline moving either way.
	if _, err := w.pageStore.CreatePageIfAbsent(ctx, crawler.ScrapePage{
		JobID:        msg.JobID,
		URL:          url,
		Status:       crawler.PageStatusPending,
		Depth:        msg.Depth,
		DiscoveredAt: w.clock.Now(),
	}); err != nil {
		return fmt.Errorf("ensure page record: %w", err)
	}

	page, err := w.pageStore.GetPage(ctx, msg.JobID, url)
	if err != nil {
		return fmt.Errorf("load page: %w", err)
	}
	if page.Status.Terminal() {
		// Redelivery of an already finished page.
		metrics.RecordProcessing("duplicate")
		return nil
	}
	if err := w.pageStore.MarkPageProcessing(ctx, msg.JobID, url); err != nil {
		return fmt.Errorf("mark page processing: %w", err)
	}

	res, fetchErr := w.fetcher.FetchAuto(ctx, url, cfg.Cookies, cfg.Headers, cfg.ForceRender, cfg.RequestDelay())

	// A cancel can land while the fetch is in flight. The fetch is allowed to
	// finish, but nothing after it may persist.
	if _, ok, err = jobForMessage(ctx, w.jobStore, msg.JobID); err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if !ok {
		metrics.RecordProcessing("discarded")
		return nil
	}

	if fetchErr != nil {
		return w.failPage(ctx, msg.JobID, url, fmt.Sprintf("fetch failed: %v", fetchErr))
	}
	if !res.IsHTML {
		return w.failPage(ctx, msg.JobID, url, fmt.Sprintf("unsupported content type %q", res.ContentType))
	}

	markdown, title, wordCount, err := w.extractor.Extract(res.Content, res.URL)
	if err != nil {
		return w.failPage(ctx, msg.JobID, url, fmt.Sprintf("content extraction failed: %v", err))
	}

	changed, hash, err := w.dedup.IsContentChanged(ctx, msg.JobID, url, markdown)
	if err != nil {
		return fmt.Errorf("content change check: %w", err)
	}
	if !changed {
		if err := w.pageStore.SkipPage(ctx, msg.JobID, url, w.clock.Now()); err != nil {
			return fmt.Errorf("skip page: %w", err)
		}
		if err := w.jobStore.IncrementProcessed(ctx, msg.JobID); err != nil {
			return fmt.Errorf("count processed page: %w", err)
		}
		metrics.RecordProcessing("skipped")
		return nil
	}

	docID, err := w.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate document id: %w", err)
	}
	meta := crawler.DocumentMeta{
		SourceURL:  url,
		JobID:      msg.JobID,
		DocumentID: docID,
		Title:      title,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal document meta: %w", err)
	}

	contentPath := fmt.Sprintf("%s/%s/%s.md", w.cfg.BlobPrefix, msg.JobID, docID)
	contentURI, err := w.blobStore.PutObject(ctx, contentPath, "text/markdown; charset=utf-8", []byte(markdown))
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	metaPath := fmt.Sprintf("%s/%s/%s.json", w.cfg.BlobPrefix, msg.JobID, docID)
	metaURI, err := w.blobStore.PutObject(ctx, metaPath, "application/json", metaJSON)
	if err != nil {
		return fmt.Errorf("store document meta: %w", err)
	}

	// The hash is recorded only after the content write succeeded, so a
	// redelivery after a storage failure re-stores instead of skipping.
	if err := w.dedup.StoreHash(ctx, msg.JobID, url, markdown); err != nil {
		return fmt.Errorf("store content hash: %w", err)
	}
	if err := w.pageStore.CompletePage(ctx, msg.JobID, url, docID, hash, title, w.clock.Now()); err != nil {
		return fmt.Errorf("complete page: %w", err)
	}
	if title != "" {
		if err := w.jobStore.SetJobTitle(ctx, msg.JobID, title); err != nil {
			return fmt.Errorf("set job title: %w", err)
		}
	}
	if err := w.jobStore.IncrementProcessed(ctx, msg.JobID); err != nil {
		return fmt.Errorf("count processed page: %w", err)
	}

	event := ContentAcceptedEvent{
		JobID:      msg.JobID,
		DocumentID: docID,
		URL:        url,
		Title:      title,
		ContentURI: contentURI,
		MetaURI:    metaURI,
		WordCount:  wordCount,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.ContentTopic, event); err != nil {
		// The document is durable and the page is complete; a redelivery
		// would see an unchanged hash and skip, so this is not worth a nack.
		w.logger.Warn("content event publish failed",
			zap.String("job_id", msg.JobID),
			zap.String("document_id", docID),
			zap.Error(err))
	}
	metrics.RecordProcessing("completed")
	return nil
}

func (w *ProcessingWorker) failPage(ctx context.Context, jobID, url, errText string) error {
	if err := w.pageStore.FailPage(ctx, jobID, url, errText); err != nil {
		return fmt.Errorf("fail page: %w", err)
	}
	if err := w.jobStore.RecordPageFailure(ctx, jobID, url, errText); err != nil {
		return fmt.Errorf("record page failure: %w", err)
	}
	w.logger.Warn("page processing failed",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.String("error", errText))
	metrics.RecordProcessing("failed")
	return nil
}
