// Package queue provides the bounded in-memory queues feeding background work:
// Drive upload jobs and camera frames.
package queue

import (
	"context"
	"sync"

	"github.com/zydorg/kemunify/pkg/metrics"
)

const defaultQueueCapacity = 64

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item. It returns ErrFull when the queue is full (unless
	// it drops the oldest item instead), ErrClosed after Close, or ctx.Err().
	Enqueue(ctx context.Context, item T) error

	// Dequeue returns the channel items are delivered on. It is closed by Close.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	name       string
	items      chan T
	capacity   int
	dropOldest bool
	onDrop     func(T)

	mu     sync.Mutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue[T any](opts ...Option[T]) *InMemoryQueue[T] {
	q := &InMemoryQueue[T]{
		name:     "queue",
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan T, q.capacity)

	metrics.UpdateQueueCapacity(q.name, q.capacity)
	metrics.UpdateQueueSize(q.name, 0)
	return q
}

// Enqueue adds an item to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordErrorByComponent(q.name, "closed")
		return ErrClosed
	}

	for {
		select {
		case q.items <- item:
			metrics.RecordQueueEnqueue(q.name)
			metrics.UpdateQueueSize(q.name, len(q.items))
			return nil
		default:
		}

		if !q.dropOldest {
			metrics.RecordQueueDropped(q.name)
			return ErrFull
		}

		// Make room; a consumer may have raced us to it, in which case the
		// next send succeeds without dropping anything.
		select {
		case old := <-q.items:
			metrics.RecordQueueDropped(q.name)
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
		}
	}
}

// Dequeue returns the delivery channel. Items are handed out directly so a
// dropped item never lingers in an intermediate buffer.
func (q *InMemoryQueue[T]) Dequeue(_ context.Context) <-chan T {
	return q.items
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	n := len(q.items)
	metrics.UpdateQueueSize(q.name, n)
	return n
}

// Capacity returns the configured capacity.
func (q *InMemoryQueue[T]) Capacity() int { return q.capacity }

// Close stops accepting items and closes the delivery channel once drained.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
