// Package pubsub implements the queue contract on Google Cloud Pub/Sub.
// Pub/Sub delivers at least once with no ordering guarantee, which matches
// the contract the workers are written against.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// Queue sends to a topic and receives from its subscription. The streaming
// pull is started lazily on the first Receive and feeds a channel so the
// worker loop keeps its simple pull shape.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	once       sync.Once
	deliveries chan crawler.Delivery
	inflight   atomic.Int64
	recvErr    error
	recvDone   chan struct{}
}

// New verifies the topic and subscription exist and returns a Queue.
func New(ctx context.Context, client *pubsub.Client, topicID, subscriptionID string, logger *zap.Logger) (*Queue, error) {
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}

	sub := client.Subscription(subscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", subscriptionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub subscription %q does not exist", subscriptionID)
	}

	return &Queue{
		client:     client,
		topic:      topic,
		sub:        sub,
		logger:     logger,
		deliveries: make(chan crawler.Delivery),
		recvDone:   make(chan struct{}),
	}, nil
}

// Send publishes the message and waits for the server acknowledgement.
func (q *Queue) Send(ctx context.Context, msg crawler.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue message: %w", err)
	}
	return nil
}

// Receive returns the next delivery from the subscription.
func (q *Queue) Receive(ctx context.Context) (crawler.Delivery, error) {
	q.once.Do(func() { go q.pull(ctx) })

	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, fmt.Errorf("subscription receive stopped: %w", q.recvErr)
		}
		q.inflight.Add(1)
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports this instance's view of outstanding work: streamed messages
// waiting locally plus deliveries handed to workers and not yet settled. The
// broker-side backlog is not visible through the client, so a zero here is a
// necessary rather than sufficient drain signal across instances.
func (q *Queue) Depth(_ context.Context) (int, error) {
	return len(q.deliveries) + int(q.inflight.Load()), nil
}

// pull runs the streaming receive loop until the context ends. Messages that
// fail to decode are acked and dropped; redelivering them would never help.
func (q *Queue) pull(ctx context.Context) {
	err := q.sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
		var msg crawler.QueueMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			q.logger.Warn("dropping undecodable queue message",
				zap.String("subscription", q.sub.ID()),
				zap.Error(err))
			m.Ack()
			return
		}
		select {
		case q.deliveries <- &delivery{queue: q, msg: msg, raw: m}:
		case <-ctx.Done():
			m.Nack()
		}
	})
	q.recvErr = err
	close(q.deliveries)
	close(q.recvDone)
}

// Close stops the topic publisher.
func (q *Queue) Close() {
	q.topic.Stop()
}

type delivery struct {
	queue *Queue
	msg   crawler.QueueMessage
	raw   *pubsub.Message
	done  atomic.Bool
}

func (d *delivery) Message() crawler.QueueMessage { return d.msg }

func (d *delivery) Ack() {
	if d.done.CompareAndSwap(false, true) {
		d.queue.inflight.Add(-1)
		d.raw.Ack()
	}
}

func (d *delivery) Nack() {
	if d.done.CompareAndSwap(false, true) {
		d.queue.inflight.Add(-1)
		d.raw.Nack()
	}
}
