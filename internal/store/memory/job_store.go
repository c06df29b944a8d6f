// Package memory provides store implementations for development and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// FailedURLCap bounds the failed_urls sample kept on a job record; the oldest
// entries are dropped once the cap is reached.
const FailedURLCap = 50

// JobStore is an in-memory crawler.JobStore. All counter mutations happen
// under one lock, which gives the same atomic-add semantics the SQL store
// gets from relative UPDATEs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.ScrapeJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.ScrapeJob)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("job %s already exists", job.JobID)
	}
	s.jobs[job.JobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ScrapeJob{}, crawler.ErrJobNotFound
	}
	return job, nil
}

// UpdateJobStatus moves a job to status unless it is already terminal.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status crawler.JobStatus) error {
	return s.mutate(jobID, func(job *crawler.ScrapeJob) {
		if job.Status.Terminal() {
			return
		}
		job.Status = status
	})
}

// SetJobTitle records the title unless one is already set.
func (s *JobStore) SetJobTitle(_ context.Context, jobID, title string) error {
	return s.mutate(jobID, func(job *crawler.ScrapeJob) {
		if job.Title == "" {
			job.Title = title
		}
	})
}

// AddTotalURLs atomically adds delta to total_urls.
func (s *JobStore) AddTotalURLs(_ context.Context, jobID string, delta int) error {
	return s.mutate(jobID, func(job *crawler.ScrapeJob) {
		job.TotalURLs += delta
	})
}

// IncrementProcessed atomically increments processed_count.
func (s *JobStore) IncrementProcessed(_ context.Context, jobID string) error {
	return s.mutate(jobID, func(job *crawler.ScrapeJob) {
		job.ProcessedCount++
	})
}

// RecordPageFailure increments failed_count and appends to the bounded
// failure sample.
func (s *JobStore) RecordPageFailure(_ context.Context, jobID, url, errText string) error {
	return s.mutate(jobID, func(job *crawler.ScrapeJob) {
		job.FailedCount++
		job.FailedURLs = append(job.FailedURLs, crawler.FailedURL{URL: url, Error: errText})
		if len(job.FailedURLs) > FailedURLCap {
			job.FailedURLs = job.FailedURLs[len(job.FailedURLs)-FailedURLCap:]
		}
	})
}

// ListActiveJobs returns jobs not yet in a terminal state.
func (s *JobStore) ListActiveJobs(_ context.Context) ([]crawler.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.ScrapeJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *JobStore) mutate(jobID string, fn func(*crawler.ScrapeJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	fn(&job)
	job.UpdatedAt = laterOf(job.UpdatedAt, time.Now().UTC())
	s.jobs[jobID] = job
	return nil
}

// laterOf keeps updated_at monotonically non-decreasing even if the wall
// clock steps backwards.
func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
