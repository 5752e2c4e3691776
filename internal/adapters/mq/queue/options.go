package queue

// Option applies a configuration option to the InMemoryQueue.
type Option[T any] func(*InMemoryQueue[T])

// WithName labels the queue in metrics.
func WithName[T any](name string) Option[T] {
	return func(q *InMemoryQueue[T]) {
		if name != "" {
			q.name = name
		}
	}
}

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity[T any](capacity int) Option[T] {
	return func(q *InMemoryQueue[T]) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithDropOldest makes a full queue evict its oldest item instead of
// rejecting the new one. onDrop, if set, sees every evicted item.
func WithDropOldest[T any](onDrop func(T)) Option[T] {
	return func(q *InMemoryQueue[T]) {
		q.dropOldest = true
		q.onDrop = onDrop
	}
}
