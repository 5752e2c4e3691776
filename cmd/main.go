package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/zydorg/kemunify/internal/adapters/drive"
	"github.com/zydorg/kemunify/internal/adapters/export"
	"github.com/zydorg/kemunify/internal/adapters/http/api"
	"github.com/zydorg/kemunify/internal/adapters/http/site"
	"github.com/zydorg/kemunify/internal/adapters/http/swagger"
	"github.com/zydorg/kemunify/internal/adapters/identity"
	"github.com/zydorg/kemunify/internal/adapters/repository"
	"github.com/zydorg/kemunify/internal/adapters/session"
	app "github.com/zydorg/kemunify/internal/app"
	"github.com/zydorg/kemunify/internal/config"
	"github.com/zydorg/kemunify/internal/domain/dedupe"
	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// We collect our own system metrics instead of the default Go ones.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.InitWith(os.Stdout, cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build application", logger.Error(err))
		return
	}
	if err := a.svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		a.close(ctx)
		return
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.routes(ctx),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	a.close(shutdownCtx)

	log.Info(shutdownCtx, "server stopped")
}

// application owns the long-lived resources behind the HTTP server.
type application struct {
	log      logger.Logger
	store    *repository.SQLiteStore
	sessions *session.PebbleStore
	svc      *app.Service
}

// newApplication opens the ledger and session stores and wires every optional
// adapter that cfg enables. The service is returned unstarted.
func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	store, err := repository.Open(ctx, cfg.DBPath,
		repository.WithDestructiveMigration(cfg.DestructiveMigration),
		repository.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	sessions, err := session.Open(cfg.SessionDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open sessions: %w", err)
	}

	a := &application{log: log, store: store, sessions: sessions}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithExporter(export.New(cfg.ExportDir, export.WithLogger(log))),
		app.WithSessions(sessions),
		app.WithVerifier(identity.NewVerifier(cfg.GoogleClientID,
			identity.WithNonceDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
			identity.WithLogger(log),
		)),
		app.WithSeedWasteTypes(cfg.SeedWasteTypes),
		app.WithDateLayout(cfg.CustomerDateLayout),
		app.WithUploadQueueSize(cfg.UploadQueueSize),
		app.WithUploadWorkers(cfg.UploadWorkers),
		app.WithDedupeSize(cfg.DedupeSize),
	}

	if cfg.JWTSecret != "" {
		issuer, err := identity.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("token issuer: %w", err)
		}
		opts = append(opts, app.WithIssuer(issuer))
	}

	if cfg.DriveEnabled {
		creds, err := os.ReadFile(cfg.DriveCredentialsFile)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("read drive credentials: %w", err)
		}
		factory, err := drive.NewServiceFactory(creds)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("drive: %w", err)
		}
		opts = append(opts, app.WithUploader(drive.NewUploader(factory,
			drive.WithFolderName(cfg.DriveFolderName),
			drive.WithLogger(log),
		)))
	}

	if cfg.DetectionEndpoint != "" {
		delegate, err := detection.ParseDelegate(cfg.DetectionDelegate)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		opts = append(opts, app.WithDetector(detection.NewHTTPDetector(cfg.DetectionEndpoint,
			detection.WithOptions(detection.Options{
				MaxResults:     cfg.DetectionMaxResults,
				ScoreThreshold: cfg.DetectionScoreThreshold,
				NumThreads:     cfg.DetectionNumThreads,
				Delegate:       delegate,
			}),
			detection.WithTimeout(cfg.DetectionTimeout),
			detection.WithLogger(log),
		)))
	}

	a.svc = app.New(store, opts...)
	return a, nil
}

// routes registers docs, API and pages on a fresh mux.
func (a *application) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(a.svc).Register(ctx, mux)
	site.Register(ctx, mux, a.svc, api.NewAuthMiddleware(a.svc).Wrap)
	return mux
}

// close stops the service and releases the stores. It is safe on a service
// that never started.
func (a *application) close(ctx context.Context) {
	if a.svc != nil {
		if err := a.svc.Stop(ctx); err != nil {
			a.log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}
	if err := a.sessions.Close(); err != nil {
		a.log.Error(ctx, "session store close failed", logger.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Error(ctx, "ledger close failed", logger.Error(err))
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
