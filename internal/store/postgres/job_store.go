package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// FailedURLCap bounds the failed_urls sample kept on a job row.
const FailedURLCap = 50

// JobStore persists job records in the scrape_jobs table. Counter updates are
// single UPDATE statements, so concurrent workers never lose increments.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore on the given pool.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `job_id, base_url, status, config, title, total_urls, processed_count, failed_count, failed_urls, created_at, updated_at`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.ScrapeJob) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	failed := job.FailedURLs
	if failed == nil {
		failed = []crawler.FailedURL{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed urls: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO scrape_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.JobID, job.BaseURL, string(job.Status), cfg, job.Title,
		job.TotalURLs, job.ProcessedCount, job.FailedCount, failedJSON,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job row.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.ScrapeJob, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

// UpdateJobStatus transitions a job unless it already reached a terminal
// state; the WHERE clause makes the terminal guard atomic.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status crawler.JobStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET status = $2, updated_at = now()
		 WHERE job_id = $1 AND status NOT IN ('completed', 'completed_with_errors', 'failed', 'cancelled')`,
		jobID, string(status))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// SetJobTitle records the title once; later writers lose.
func (s *JobStore) SetJobTitle(ctx context.Context, jobID, title string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET title = $2, updated_at = now()
		 WHERE job_id = $1 AND title = ''`,
		jobID, title)
	if err != nil {
		return fmt.Errorf("set job title: %w", err)
	}
	return nil
}

// AddTotalURLs atomically adds n to the discovery counter.
func (s *JobStore) AddTotalURLs(ctx context.Context, jobID string, n int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET total_urls = total_urls + $2, updated_at = now() WHERE job_id = $1`,
		jobID, n)
	if err != nil {
		return fmt.Errorf("add total urls: %w", err)
	}
	return nil
}

// IncrementProcessed atomically bumps the processed counter.
func (s *JobStore) IncrementProcessed(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET processed_count = processed_count + 1, updated_at = now() WHERE job_id = $1`,
		jobID)
	if err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	return nil
}

// RecordPageFailure bumps the failure counter and appends to the bounded
// failed_urls sample, dropping the oldest entry at the cap.
func (s *JobStore) RecordPageFailure(ctx context.Context, jobID, url, errText string) error {
	entry, err := json.Marshal([]crawler.FailedURL{{URL: url, Error: errText}})
	if err != nil {
		return fmt.Errorf("marshal failed url: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE scrape_jobs SET
			failed_count = failed_count + 1,
			failed_urls = (CASE WHEN jsonb_array_length(failed_urls) >= $3
				THEN failed_urls - 0 ELSE failed_urls END) || $2::jsonb,
			updated_at = now()
		 WHERE job_id = $1`,
		jobID, entry, FailedURLCap)
	if err != nil {
		return fmt.Errorf("record page failure: %w", err)
	}
	return nil
}

// ListActiveJobs returns jobs that have not reached a terminal state.
func (s *JobStore) ListActiveJobs(ctx context.Context) ([]crawler.ScrapeJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs
		 WHERE status IN ('pending', 'discovering', 'processing')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []crawler.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawler.ScrapeJob, error) {
	var (
		job        crawler.ScrapeJob
		status     string
		cfgJSON    []byte
		failedJSON []byte
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&job.JobID, &job.BaseURL, &status, &cfgJSON, &job.Title,
		&job.TotalURLs, &job.ProcessedCount, &job.FailedCount, &failedJSON,
		&createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ScrapeJob{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	if err := json.Unmarshal(cfgJSON, &job.Config); err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("unmarshal job config: %w", err)
	}
	if len(failedJSON) > 0 {
		if err := json.Unmarshal(failedJSON, &job.FailedURLs); err != nil {
			return crawler.ScrapeJob{}, fmt.Errorf("unmarshal failed urls: %w", err)
		}
	}
	return job, nil
}
