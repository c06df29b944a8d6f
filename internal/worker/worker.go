// Package worker implements the crawl pipeline execution loops. Two worker
// kinds consume the two queues: discovery workers expand the frontier and
// processing workers turn fetched pages into stored documents. Both are
// written to be idempotent against redelivery, because the queues deliver at
// least once with no ordering guarantee.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// FetchStrategy is the fetch pipeline the workers drive; tests substitute a
// fake.
type FetchStrategy interface {
	FetchAuto(ctx context.Context, url string, cookies, headers map[string]string, forceRender bool, delay time.Duration) (crawler.FetchResult, error)
}

// ContentAcceptedEvent is published after a changed page's document has been
// durably stored.
type ContentAcceptedEvent struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	ContentURI string `json:"content_uri"`
	MetaURI    string `json:"meta_uri"`
	WordCount  int    `json:"word_count"`
}

// jobForMessage loads the job a message belongs to. The bool reports whether
// the message should be handled at all; messages for unknown or finished jobs
// are consumed without side effects.
func jobForMessage(ctx context.Context, store crawler.JobStore, jobID string) (crawler.ScrapeJob, bool, error) {
	job, err := store.GetJob(ctx, jobID)
	if errors.Is(err, crawler.ErrJobNotFound) {
		return crawler.ScrapeJob{}, false, nil
	}
	if err != nil {
		return crawler.ScrapeJob{}, false, err
	}
	if job.Status.Terminal() {
		return crawler.ScrapeJob{}, false, nil
	}
	return job, true, nil
}
