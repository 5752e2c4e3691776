package worker

import (
	"github.com/zydorg/kemunify/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option[T any] func(*Pool[T])

// WithName sets the pool name for metrics and logging.
func WithName[T any](name string) Option[T] {
	return func(p *Pool[T]) {
		if name != "" {
			p.name = name
		}
	}
}

// WithSize sets the number of workers.
func WithSize[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger[T any](l logger.Logger) Option[T] {
	return func(p *Pool[T]) {
		if l != nil {
			p.logger = l
		}
	}
}
