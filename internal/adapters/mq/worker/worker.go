// Package worker runs queued jobs (Drive uploads, camera frames) on a fixed
// set of goroutines.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	defaultWorkerCount  = 1
	poolShutdownTimeout = 30 * time.Second
)

// Handler processes one queued item.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error { return f(ctx, item) }

// Source defines how workers receive items.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Worker processes items from a Source until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the source closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after the item in hand, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker[T any] struct {
	pool    string
	name    string
	source  Source[T]
	handler Handler[T]
	logger  logger.Logger

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewInMemoryWorker creates a single worker.
func NewInMemoryWorker[T any](pool, name string, source Source[T], handler Handler[T], log logger.Logger) *InMemoryWorker[T] {
	return &InMemoryWorker[T]{
		pool:     pool,
		name:     name,
		source:   source,
		handler:  handler,
		logger:   log.Named(name),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			w.process(ctx, item)
		}
	}
}

func (w *InMemoryWorker[T]) process(ctx context.Context, item T) {
	start := time.Now()
	err := w.handler.Handle(ctx, item)
	metrics.RecordWorkerJob(w.pool, float64(time.Since(start).Milliseconds()), err != nil)
	if err != nil {
		w.logger.Error(ctx, "job failed", logger.Error(err))
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool manages multiple workers reading the same source.
type Pool[T any] struct {
	name    string
	size    int
	source  Source[T]
	handler Handler[T]
	logger  logger.Logger
	workers []*InMemoryWorker[T]

	startOnce sync.Once
}

// NewPool creates a worker pool; call Start to run it.
func NewPool[T any](source Source[T], handler Handler[T], opts ...Option[T]) *Pool[T] {
	p := &Pool[T]{
		name:    "pool",
		size:    defaultWorkerCount,
		source:  source,
		handler: handler,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get()
	}
	p.logger = p.logger.Named(p.name)

	p.workers = make([]*InMemoryWorker[T], p.size)
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(p.name, "worker-"+strconv.Itoa(i), source, handler, p.logger)
	}
	return p
}

// Start launches every worker.
func (p *Pool[T]) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for _, w := range p.workers {
			go w.Run(ctx)
		}
		metrics.UpdateWorkerCount(p.name, len(p.workers))
	})
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return len(p.workers) }

// Shutdown closes the source when it can be closed and lets the workers
// drain it; otherwise, or once ctx or the pool timeout expires, it stops them.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	closer, drains := p.source.(interface{ Close() error })
	if drains {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if drains {
			select {
			case <-w.done:
				continue
			case <-shutdownCtx.Done():
			}
		}
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerCount(p.name, 0)
	return firstErr
}
