package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

func TestQueue_SendReceiveAck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(8)

	msg := crawler.QueueMessage{JobID: "job-1", URL: "https://example.com/", Depth: 0}
	require.NoError(t, q.Send(ctx, msg))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, msg, d.Message())

	// In flight still counts toward depth until acked.
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	d.Ack()
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, depth)
}

func TestQueue_NackRedelivers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(8)

	msg := crawler.QueueMessage{JobID: "job-1", URL: "https://example.com/a", Depth: 1}
	require.NoError(t, q.Send(ctx, msg))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	d.Nack()

	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, msg, redelivered.Message())
	redelivered.Ack()
}

func TestQueue_AckIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(8)
	require.NoError(t, q.Send(ctx, crawler.QueueMessage{JobID: "job-1", URL: "https://example.com/"}))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	d.Ack()
	d.Ack()
	d.Nack()

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, depth, "double ack or late nack must not corrupt depth")
}

func TestQueue_ReceiveHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	q := New(8)
	_, err := q.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
