package pubsub

import (
	"context"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) *gcppubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := gcppubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublisher_PublishRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "content-accepted")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "content-sub", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	p, err := New(client)
	require.NoError(t, err)
	defer p.Close()

	id, err := p.Publish(ctx, "content-accepted", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	recvCtx, cancel := context.WithCancel(ctx)
	got := make(chan []byte, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, m *gcppubsub.Message) {
			got <- m.Data
			m.Ack()
			cancel()
		})
	}()
	require.JSONEq(t, `{"job_id":"job-1"}`, string(<-got))
}

func TestPublisher_ReusesTopicHandles(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.CreateTopic(ctx, "job-completed")
	require.NoError(t, err)

	p, err := New(client)
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 5; i++ {
		_, err := p.Publish(ctx, "job-completed", map[string]int{"n": i})
		require.NoError(t, err)
	}

	p.mu.Lock()
	handles := len(p.topics)
	p.mu.Unlock()
	require.Equal(t, 1, handles, "one handle per topic name, reused across publishes")
}

func TestPublisher_RequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}
