package service

import (
	"time"

	"github.com/zydorg/kemunify/internal/adapters/drive"
	"github.com/zydorg/kemunify/internal/adapters/export"
	"github.com/zydorg/kemunify/internal/adapters/identity"
	"github.com/zydorg/kemunify/internal/adapters/session"
	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithExporter sets where recaps are written.
func WithExporter(e *export.Exporter) Option {
	return func(s *Service) { s.exporter = e }
}

// WithUploader enables Drive uploads.
func WithUploader(u *drive.Uploader) Option {
	return func(s *Service) { s.uploader = u }
}

// WithVerifier enables sign-in.
func WithVerifier(v *identity.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithIssuer enables API tokens.
func WithIssuer(i *identity.Issuer) Option {
	return func(s *Service) { s.issuer = i }
}

// WithSessions sets the session store.
func WithSessions(st session.Store) Option {
	return func(s *Service) { s.sessions = st }
}

// WithDetector enables object detection.
func WithDetector(d detection.Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithFrameListener receives every camera frame result, nil on failure.
func WithFrameListener(l Listener) Option {
	return func(s *Service) { s.frameListener = l }
}

// WithUploadQueueSize bounds pending uploads.
func WithUploadQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.uploadQueueSize = size
		}
	}
}

// WithUploadWorkers sets the number of upload workers.
func WithUploadWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.uploadWorkers = count
		}
	}
}

// WithDedupeSize bounds the pending upload set.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithSeedWasteTypes sets the waste types an empty ledger starts with.
func WithSeedWasteTypes(names []string) Option {
	return func(s *Service) { s.seed = names }
}

// WithDateLayout sets the customer registration date layout.
func WithDateLayout(layout string) Option {
	return func(s *Service) {
		if layout != "" {
			s.dateLayout = layout
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
