package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// PageStore persists per-URL records in the scrape_pages table. The composite
// primary key (job_id, url) plus ON CONFLICT DO NOTHING turns record creation
// into the claim that keeps duplicate discoveries out of the pipeline.
type PageStore struct {
	db DB
}

// NewPageStore constructs a PageStore on the given pool.
func NewPageStore(db DB) *PageStore {
	return &PageStore{db: db}
}

const terminalPageGuard = `status NOT IN ('completed', 'failed', 'skipped')`

// CreatePageIfAbsent inserts the record and reports whether this caller won
// the claim.
func (s *PageStore) CreatePageIfAbsent(ctx context.Context, page crawler.ScrapePage) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO scrape_pages (job_id, url, status, depth, discovered_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id, url) DO NOTHING`,
		page.JobID, page.URL, string(page.Status), page.Depth, page.DiscoveredAt)
	if err != nil {
		return false, fmt.Errorf("insert page: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPage fetches a page record.
func (s *PageStore) GetPage(ctx context.Context, jobID, url string) (crawler.ScrapePage, error) {
	row := s.db.QueryRow(ctx,
		`SELECT job_id, url, status, depth, discovered_at,
			COALESCE(content_hash, ''), COALESCE(document_id, ''),
			COALESCE(title, ''), COALESCE(error, ''), processed_at
		 FROM scrape_pages WHERE job_id = $1 AND url = $2`,
		jobID, url)

	var (
		page        crawler.ScrapePage
		status      string
		processedAt *time.Time
	)
	err := row.Scan(&page.JobID, &page.URL, &status, &page.Depth, &page.DiscoveredAt,
		&page.ContentHash, &page.DocumentID, &page.Title, &page.Error, &processedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ScrapePage{}, crawler.ErrPageNotFound
	}
	if err != nil {
		return crawler.ScrapePage{}, fmt.Errorf("scan page: %w", err)
	}
	page.Status = crawler.PageStatus(status)
	page.ProcessedAt = processedAt
	return page, nil
}

// MarkPageProcessing moves a non-terminal page to processing. Writes against
// a finished page match zero rows and are silently dropped, so redelivered
// messages cannot rewind a record.
func (s *PageStore) MarkPageProcessing(ctx context.Context, jobID, url string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_pages SET status = 'processing'
		 WHERE job_id = $1 AND url = $2 AND `+terminalPageGuard,
		jobID, url)
	if err != nil {
		return fmt.Errorf("mark page processing: %w", err)
	}
	return nil
}

// CompletePage finalizes a page with its persisted document identity.
func (s *PageStore) CompletePage(ctx context.Context, jobID, url, documentID, contentHash, title string, processedAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_pages SET status = 'completed', document_id = $3,
			content_hash = $4, title = $5, processed_at = $6
		 WHERE job_id = $1 AND url = $2 AND `+terminalPageGuard,
		jobID, url, documentID, contentHash, title, processedAt)
	if err != nil {
		return fmt.Errorf("complete page: %w", err)
	}
	return nil
}

// SkipPage finalizes a page whose content was unchanged.
func (s *PageStore) SkipPage(ctx context.Context, jobID, url string, processedAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_pages SET status = 'skipped', processed_at = $3
		 WHERE job_id = $1 AND url = $2 AND `+terminalPageGuard,
		jobID, url, processedAt)
	if err != nil {
		return fmt.Errorf("skip page: %w", err)
	}
	return nil
}

// FailPage finalizes a page with its error text.
func (s *PageStore) FailPage(ctx context.Context, jobID, url, errText string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_pages SET status = 'failed', error = $3
		 WHERE job_id = $1 AND url = $2 AND `+terminalPageGuard,
		jobID, url, errText)
	if err != nil {
		return fmt.Errorf("fail page: %w", err)
	}
	return nil
}

// CountPages returns the number of records for a job.
func (s *PageStore) CountPages(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM scrape_pages WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
