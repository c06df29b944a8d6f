package finalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/parchment-ai/webharvest/internal/crawler"
	pubmemory "github.com/parchment-ai/webharvest/internal/publisher/memory"
	qmemory "github.com/parchment-ai/webharvest/internal/queue/memory"
	storememory "github.com/parchment-ai/webharvest/internal/store/memory"
)

type env struct {
	jobs       *storememory.JobStore
	discovery  *qmemory.Queue
	processing *qmemory.Queue
	events     *pubmemory.Publisher
	finalizer  *Finalizer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		jobs:       storememory.NewJobStore(),
		discovery:  qmemory.New(8),
		processing: qmemory.New(8),
		events:     pubmemory.New(),
	}
	e.finalizer = New(e.jobs, e.discovery, e.processing, e.events, Config{}, zaptest.NewLogger(t))
	return e
}

func seedJob(t *testing.T, e *env, id string, status crawler.JobStatus, total, processed, failed int) {
	t.Helper()
	now := time.Now().UTC()
	job := crawler.ScrapeJob{
		JobID:          id,
		BaseURL:        "https://example.com/",
		Status:         crawler.JobStatusPending,
		Config:         crawler.ScrapeConfig{}.WithDefaults(),
		TotalURLs:      total,
		ProcessedCount: processed,
		FailedCount:    failed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, e.jobs.CreateJob(context.Background(), job))
	if status != crawler.JobStatusPending {
		require.NoError(t, e.jobs.UpdateJobStatus(context.Background(), id, status))
	}
}

func TestSweep_CompletesDrainedJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	seedJob(t, e, "job-1", crawler.JobStatusProcessing, 3, 3, 0)

	require.NoError(t, e.finalizer.Sweep(ctx))

	job, err := e.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)

	msgs := e.events.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(JobCompletedEvent)
	require.True(t, ok)
	require.Equal(t, "completed", event.Status)
}

func TestSweep_FailuresYieldCompletedWithErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	seedJob(t, e, "job-1", crawler.JobStatusProcessing, 3, 2, 1)

	require.NoError(t, e.finalizer.Sweep(ctx))

	job, err := e.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompletedWithErrors, job.Status)
}

func TestSweep_LeavesUnfinishedWork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	seedJob(t, e, "counting", crawler.JobStatusProcessing, 5, 3, 0)
	seedJob(t, e, "pending", crawler.JobStatusPending, 0, 0, 0)

	require.NoError(t, e.finalizer.Sweep(ctx))

	for _, id := range []string{"counting", "pending"} {
		job, err := e.jobs.GetJob(ctx, id)
		require.NoError(t, err)
		require.False(t, job.Status.Terminal(), "job %s must stay active", id)
	}
}

func TestSweep_WaitsForQueuesToDrain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	seedJob(t, e, "job-1", crawler.JobStatusProcessing, 1, 1, 0)
	require.NoError(t, e.processing.Send(ctx, crawler.QueueMessage{JobID: "job-1", URL: "https://example.com/a", Depth: 1}))

	require.NoError(t, e.finalizer.Sweep(ctx))

	job, err := e.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, job.Status, "in-flight work blocks completion")
}

func TestSweep_SeedFailureCompletesWithErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	// The only URL failed during discovery; nothing was ever counted.
	seedJob(t, e, "job-1", crawler.JobStatusDiscovering, 0, 0, 1)

	require.NoError(t, e.finalizer.Sweep(ctx))

	job, err := e.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompletedWithErrors, job.Status)
}
