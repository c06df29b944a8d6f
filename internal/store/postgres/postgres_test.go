package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestJobStore_CreateJob(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewJobStore(mock)

	now := time.Now().UTC()
	job := crawler.ScrapeJob{
		JobID:     "job-1",
		BaseURL:   "https://example.com/",
		Status:    crawler.JobStatusPending,
		Config:    crawler.ScrapeConfig{}.WithDefaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	cfgJSON, err := json.Marshal(job.Config)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(job.JobID, job.BaseURL, "pending", cfgJSON, "",
			0, 0, 0, []byte("[]"), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_GetJob(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewJobStore(mock)

	cfg := crawler.ScrapeConfig{}.WithDefaults()
	cfgJSON, err := json.Marshal(cfg)
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"job_id", "base_url", "status", "config", "title",
			"total_urls", "processed_count", "failed_count", "failed_urls",
			"created_at", "updated_at",
		}).AddRow("job-1", "https://example.com/", "processing", cfgJSON, "Example",
			10, 4, 1, []byte(`[{"url":"https://example.com/bad","error":"fetch failed"}]`),
			now, now))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, job.Status)
	require.Equal(t, 10, job.TotalURLs)
	require.Equal(t, cfg.MaxPages, job.Config.MaxPages)
	require.Len(t, job.FailedURLs, 1)
	require.Equal(t, "https://example.com/bad", job.FailedURLs[0].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_GetJob_NotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewJobStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE job_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_UpdateJobStatus_TerminalGuard(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewJobStore(mock)

	// Zero rows matched means the job was terminal; the call still succeeds.
	mock.ExpectExec("UPDATE scrape_jobs SET status").
		WithArgs("job-1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.UpdateJobStatus(context.Background(), "job-1", crawler.JobStatusProcessing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_Counters(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewJobStore(mock)
	ctx := context.Background()

	mock.ExpectExec("UPDATE scrape_jobs SET total_urls = total_urls").
		WithArgs("job-1", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_jobs SET processed_count = processed_count").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.AddTotalURLs(ctx, "job-1", 5))
	require.NoError(t, s.IncrementProcessed(ctx, "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_RecordPageFailure(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewJobStore(mock)

	entry, err := json.Marshal([]crawler.FailedURL{{URL: "https://example.com/bad", Error: "boom"}})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs("job-1", entry, FailedURLCap).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.RecordPageFailure(context.Background(), "job-1", "https://example.com/bad", "boom"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStore_CreatePageIfAbsent(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewPageStore(mock)
	ctx := context.Background()

	now := time.Now().UTC()
	page := crawler.ScrapePage{
		JobID:        "job-1",
		URL:          "https://example.com/a",
		Status:       crawler.PageStatusPending,
		Depth:        1,
		DiscoveredAt: now,
	}

	mock.ExpectExec("INSERT INTO scrape_pages").
		WithArgs("job-1", "https://example.com/a", "pending", 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scrape_pages").
		WithArgs("job-1", "https://example.com/a", "pending", 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.CreatePageIfAbsent(ctx, page)
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.CreatePageIfAbsent(ctx, page)
	require.NoError(t, err)
	require.False(t, created, "conflicting insert must not claim the page")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStore_GetPage(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewPageStore(mock)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM scrape_pages WHERE job_id").
		WithArgs("job-1", "https://example.com/a").
		WillReturnRows(pgxmock.NewRows([]string{
			"job_id", "url", "status", "depth", "discovered_at",
			"content_hash", "document_id", "title", "error", "processed_at",
		}).AddRow("job-1", "https://example.com/a", "completed", 1, now,
			"abc123", "doc-1", "Example", "", &now))

	page, err := s.GetPage(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, crawler.PageStatusCompleted, page.Status)
	require.Equal(t, "doc-1", page.DocumentID)
	require.NotNil(t, page.ProcessedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStore_CompletePage(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewPageStore(mock)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE scrape_pages SET status = 'completed'").
		WithArgs("job-1", "https://example.com/a", "doc-1", "abc123", "Example", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompletePage(context.Background(), "job-1", "https://example.com/a", "doc-1", "abc123", "Example", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashStore_GetHash_Absent(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewHashStore(mock)

	mock.ExpectQuery("SELECT hash FROM content_hashes").
		WithArgs("job-1", "https://example.com/a").
		WillReturnError(pgx.ErrNoRows)

	hash, err := s.GetHash(context.Background(), "job-1", "https://example.com/a")
	require.NoError(t, err)
	require.Empty(t, hash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashStore_PutHash(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewHashStore(mock)

	mock.ExpectExec("INSERT INTO content_hashes").
		WithArgs("job-1", "https://example.com/a", "abc123").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutHash(context.Background(), "job-1", "https://example.com/a", "abc123"))
	require.NoError(t, mock.ExpectationsWereMet())
}
