// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending             JobStatus = "pending"
	JobStatusDiscovering         JobStatus = "discovering"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
	JobStatusCancelled           JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are valid from the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// PageStatus represents the lifecycle state of a single discovered URL.
type PageStatus string

// Page status values persisted in the page store.
const (
	PageStatusPending    PageStatus = "pending"
	PageStatusProcessing PageStatus = "processing"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusFailed     PageStatus = "failed"
	PageStatusSkipped    PageStatus = "skipped"
)

// Terminal reports whether the page record accepts no further writes.
func (s PageStatus) Terminal() bool {
	switch s {
	case PageStatusCompleted, PageStatusFailed, PageStatusSkipped:
		return true
	default:
		return false
	}
}

// Scope restricts which discovered URLs are eligible to crawl.
type Scope string

// Crawl scope values.
const (
	ScopeSubpages Scope = "subpages"
	ScopeHostname Scope = "hostname"
	ScopeDomain   Scope = "domain"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSubpages, ScopeHostname, ScopeDomain:
		return true
	default:
		return false
	}
}

// ScrapeConfig is the per-job crawl policy, immutable for the job's lifetime.
type ScrapeConfig struct {
	MaxPages        int               `json:"max_pages" mapstructure:"max_pages"`
	MaxDepth        int               `json:"max_depth" mapstructure:"max_depth"`
	Scope           Scope             `json:"scope" mapstructure:"scope"`
	RequestDelayMs  int               `json:"request_delay_ms" mapstructure:"request_delay_ms"`
	IncludePatterns []string          `json:"include_patterns,omitempty" mapstructure:"include_patterns"`
	ExcludePatterns []string          `json:"exclude_patterns,omitempty" mapstructure:"exclude_patterns"`
	Cookies         map[string]string `json:"cookies,omitempty" mapstructure:"cookies"`
	Headers         map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	ForceRender     bool              `json:"force_render,omitempty" mapstructure:"force_render"`
}

// Default crawl policy knobs.
const (
	DefaultMaxPages       = 1000
	DefaultMaxDepth       = 3
	DefaultRequestDelayMs = 500
)

// WithDefaults fills unset fields with the documented defaults.
func (c ScrapeConfig) WithDefaults() ScrapeConfig {
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if !c.Scope.Valid() {
		c.Scope = ScopeHostname
	}
	if c.RequestDelayMs <= 0 {
		c.RequestDelayMs = DefaultRequestDelayMs
	}
	return c
}

// RequestDelay returns the politeness delay as a duration.
func (c ScrapeConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// FailedURL is one entry in a job's bounded failure sample.
type FailedURL struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ScrapeJob is the metadata persisted for one crawl invocation.
type ScrapeJob struct {
	JobID          string       `json:"job_id"`
	BaseURL        string       `json:"base_url"`
	Status         JobStatus    `json:"status"`
	Config         ScrapeConfig `json:"config"`
	Title          string       `json:"title,omitempty"`
	TotalURLs      int          `json:"total_urls"`
	ProcessedCount int          `json:"processed_count"`
	FailedCount    int          `json:"failed_count"`
	FailedURLs     []FailedURL  `json:"failed_urls,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ScrapePage is persisted once per unique (job_id, normalized URL).
type ScrapePage struct {
	JobID        string     `json:"job_id"`
	URL          string     `json:"url"`
	Status       PageStatus `json:"status"`
	Depth        int        `json:"depth"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ContentHash  string     `json:"content_hash,omitempty"`
	DocumentID   string     `json:"document_id,omitempty"`
	Title        string     `json:"title,omitempty"`
	Error        string     `json:"error,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// QueueMessage is the wire shape shared by the discovery and processing queues.
type QueueMessage struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// FetchResult is the outcome of fetching one URL, direct or rendered.
type FetchResult struct {
	// URL is the effective URL after redirects, not the request URL.
	URL         string
	StatusCode  int
	Content     []byte
	ContentType string
	IsHTML      bool
	Rendered    bool
	// Warning carries non-fatal conditions such as a failed render fallback.
	Warning string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Cookies map[string]string
	Headers map[string]string
	Timeout time.Duration
}

// DocumentMeta is the sidecar provenance record stored next to accepted content.
type DocumentMeta struct {
	SourceURL  string `json:"source_url"`
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
}
