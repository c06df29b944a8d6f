// Package memory implements the queue contract on a buffered channel. It
// keeps the at-least-once shape of the hosted broker: a received message is
// in flight until the consumer acks it, and a nack puts it back on the
// channel for redelivery.
package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

const defaultBuffer = 1024

// Queue is an in-process crawler.Queue.
type Queue struct {
	ch       chan crawler.QueueMessage
	inflight atomic.Int64
}

// New constructs a Queue with the given buffer size; size <= 0 uses the
// default.
func New(size int) *Queue {
	if size <= 0 {
		size = defaultBuffer
	}
	return &Queue{ch: make(chan crawler.QueueMessage, size)}
}

// Send enqueues a message, blocking only when the buffer is full.
func (q *Queue) Send(ctx context.Context, msg crawler.QueueMessage) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send: %w", ctx.Err())
	}
}

// Receive blocks until a message is available or the context ends.
func (q *Queue) Receive(ctx context.Context) (crawler.Delivery, error) {
	select {
	case msg := <-q.ch:
		q.inflight.Add(1)
		return &delivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth counts buffered plus in-flight messages.
func (q *Queue) Depth(_ context.Context) (int, error) {
	return len(q.ch) + int(q.inflight.Load()), nil
}

type delivery struct {
	queue *Queue
	msg   crawler.QueueMessage
	done  atomic.Bool
}

func (d *delivery) Message() crawler.QueueMessage { return d.msg }

// Ack drops the message.
func (d *delivery) Ack() {
	if d.done.CompareAndSwap(false, true) {
		d.queue.inflight.Add(-1)
	}
}

// Nack re-enqueues the message for another attempt. The re-send is
// best-effort: a full buffer drops the message rather than deadlocking the
// consumer loop.
func (d *delivery) Nack() {
	if !d.done.CompareAndSwap(false, true) {
		return
	}
	d.queue.inflight.Add(-1)
	select {
	case d.queue.ch <- d.msg:
	default:
	}
}
