package repository

import (
	"time"

	"github.com/zydorg/kemunify/pkg/logger"
)

// Option applies a configuration option to the SQLiteStore.
type Option func(*SQLiteStore)

// WithMetricsUpdateInterval sets the interval for background size metrics.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *SQLiteStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithDestructiveMigration recreates the database file when migrating it fails.
func WithDestructiveMigration(enabled bool) Option {
	return func(s *SQLiteStore) {
		s.destructiveMigration = enabled
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}
