package memory

import (
	"context"
	"sync"
	"time"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

type pageKey struct {
	jobID string
	url   string
}

// PageStore is an in-memory crawler.PageStore. CreatePageIfAbsent is atomic
// under the lock, making it a true claim for the discovery frontier.
type PageStore struct {
	mu    sync.RWMutex
	pages map[pageKey]crawler.ScrapePage
}

// NewPageStore constructs a PageStore.
func NewPageStore() *PageStore {
	return &PageStore{pages: make(map[pageKey]crawler.ScrapePage)}
}

// CreatePageIfAbsent inserts the record unless (job_id, url) already exists.
func (s *PageStore) CreatePageIfAbsent(_ context.Context, page crawler.ScrapePage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{jobID: page.JobID, url: page.URL}
	if _, exists := s.pages[key]; exists {
		return false, nil
	}
	s.pages[key] = page
	return true, nil
}

// GetPage fetches a page record.
func (s *PageStore) GetPage(_ context.Context, jobID, url string) (crawler.ScrapePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[pageKey{jobID: jobID, url: url}]
	if !ok {
		return crawler.ScrapePage{}, crawler.ErrPageNotFound
	}
	return page, nil
}

// MarkPageProcessing moves a non-terminal page to processing.
func (s *PageStore) MarkPageProcessing(_ context.Context, jobID, url string) error {
	return s.mutate(jobID, url, func(page *crawler.ScrapePage) {
		page.Status = crawler.PageStatusProcessing
	})
}

// CompletePage finalizes a page with its persisted document identity.
func (s *PageStore) CompletePage(_ context.Context, jobID, url, documentID, contentHash, title string, processedAt time.Time) error {
	return s.mutate(jobID, url, func(page *crawler.ScrapePage) {
		page.Status = crawler.PageStatusCompleted
		page.DocumentID = documentID
		page.ContentHash = contentHash
		page.Title = title
		page.ProcessedAt = &processedAt
	})
}

// SkipPage finalizes a page whose content was unchanged.
func (s *PageStore) SkipPage(_ context.Context, jobID, url string, processedAt time.Time) error {
	return s.mutate(jobID, url, func(page *crawler.ScrapePage) {
		page.Status = crawler.PageStatusSkipped
		page.ProcessedAt = &processedAt
	})
}

// FailPage finalizes a page with its error text.
func (s *PageStore) FailPage(_ context.Context, jobID, url, errText string) error {
	return s.mutate(jobID, url, func(page *crawler.ScrapePage) {
		page.Status = crawler.PageStatusFailed
		page.Error = errText
	})
}

// CountPages returns the number of records for a job.
func (s *PageStore) CountPages(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.pages {
		if key.jobID == jobID {
			n++
		}
	}
	return n, nil
}

// ListPages returns all records for a job, useful in tests.
func (s *PageStore) ListPages(_ context.Context, jobID string) ([]crawler.ScrapePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.ScrapePage
	for key, page := range s.pages {
		if key.jobID == jobID {
			out = append(out, page)
		}
	}
	return out, nil
}

// mutate applies fn unless the page is terminal; late writes to a finished
// page are treated as no-ops, keeping redelivered messages harmless.
func (s *PageStore) mutate(jobID, url string, fn func(*crawler.ScrapePage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{jobID: jobID, url: url}
	page, ok := s.pages[key]
	if !ok {
		return crawler.ErrPageNotFound
	}
	if page.Status.Terminal() {
		return nil
	}
	fn(&page)
	s.pages[key] = page
	return nil
}
