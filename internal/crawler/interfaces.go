package crawler

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	// ErrJobNotFound is returned when a job record does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrPageNotFound is returned when a page record does not exist.
	ErrPageNotFound = errors.New("page not found")
)

// JobStore persists job records. Counter mutations are atomic adds against the
// stored record, never read-modify-write, because many workers race on them.
type JobStore interface {
	CreateJob(ctx context.Context, job ScrapeJob) error
	GetJob(ctx context.Context, jobID string) (ScrapeJob, error)
	// UpdateJobStatus is a no-op when the job is already in a terminal state.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	// SetJobTitle records the title from the first successfully processed page;
	// later calls do not overwrite it.
	SetJobTitle(ctx context.Context, jobID, title string) error
	AddTotalURLs(ctx context.Context, jobID string, delta int) error
	IncrementProcessed(ctx context.Context, jobID string) error
	// RecordPageFailure increments failed_count and appends to the bounded
	// failed_urls sample.
	RecordPageFailure(ctx context.Context, jobID, url, errText string) error
	ListActiveJobs(ctx context.Context) ([]ScrapeJob, error)
}

// PageStore persists per-URL records. CreatePageIfAbsent is the de-facto claim
// that keeps concurrent discovery of the same URL from fetching twice, so it
// must be atomic. Writes to a terminal page are silent no-ops.
type PageStore interface {
	CreatePageIfAbsent(ctx context.Context, page ScrapePage) (created bool, err error)
	GetPage(ctx context.Context, jobID, url string) (ScrapePage, error)
	MarkPageProcessing(ctx context.Context, jobID, url string) error
	CompletePage(ctx context.Context, jobID, url, documentID, contentHash, title string, processedAt time.Time) error
	SkipPage(ctx context.Context, jobID, url string, processedAt time.Time) error
	FailPage(ctx context.Context, jobID, url, errText string) error
	CountPages(ctx context.Context, jobID string) (int, error)
}

// HashStore persists the last accepted content hash per (scope, url). The
// scope is a job ID, or empty for a global namespace.
type HashStore interface {
	// GetHash returns "" when no prior hash exists.
	GetHash(ctx context.Context, scope, url string) (string, error)
	PutHash(ctx context.Context, scope, url, hash string) error
}

// BlobStore writes content artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Delivery is one received queue message awaiting acknowledgement.
type Delivery interface {
	Message() QueueMessage
	// Ack marks the message consumed.
	Ack()
	// Nack returns the message for redelivery.
	Nack()
}

// Queue provides at-least-once message delivery. Consumers must be idempotent
// against redelivery and must not assume ordering.
type Queue interface {
	Send(ctx context.Context, msg QueueMessage) error
	Receive(ctx context.Context) (Delivery, error)
}

// QueueStats is optionally implemented by queues that can report depth,
// counting both buffered and in-flight messages.
type QueueStats interface {
	Depth(ctx context.Context) (int, error)
}

// Publisher pushes events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher performs a single direct HTTP fetch.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Renderer fetches a URL through a headless browser.
type Renderer interface {
	Render(ctx context.Context, url string, cookies map[string]string) (FetchResult, error)
}

// ContentExtractor converts raw HTML into markdown plus a title.
type ContentExtractor interface {
	Extract(html []byte, sourceURL string) (markdown, title string, wordCount int, err error)
}

// LinkExtractor returns absolute outbound links found in an HTML document.
type LinkExtractor interface {
	Links(html []byte, baseURL string) ([]string, error)
}

// Hasher computes digests for content-change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and document IDs.
type IDGenerator interface {
	NewID() (string, error)
}
