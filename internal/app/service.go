// Package service is the ledger facade the HTTP API talks to: it validates
// input, runs repository operations and drives exports, uploads, sign-in and
// detection.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/zydorg/kemunify/internal/adapters/drive"
	"github.com/zydorg/kemunify/internal/adapters/export"
	"github.com/zydorg/kemunify/internal/adapters/identity"
	"github.com/zydorg/kemunify/internal/adapters/mq/queue"
	"github.com/zydorg/kemunify/internal/adapters/mq/worker"
	"github.com/zydorg/kemunify/internal/adapters/repository"
	"github.com/zydorg/kemunify/internal/adapters/session"
	"github.com/zydorg/kemunify/internal/domain/dedupe"
	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/internal/domain/types"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	defaultDateLayout = "02/01/2006 15.04"
	uploadsQueue      = "uploads"
)

// UploadJob asks for one export to be copied to Drive as Account.
type UploadJob struct {
	File    string
	Path    string
	Account string
}

// Service implements the API dependencies for the ledger.
type Service struct {
	mu sync.RWMutex

	store    repository.Store
	exporter *export.Exporter
	uploader *drive.Uploader
	verifier *identity.Verifier
	issuer   *identity.Issuer
	sessions session.Store
	detector detection.Detector

	uploads  *queue.InMemoryQueue[UploadJob]
	pool     *worker.Pool[UploadJob]
	pending  dedupe.Deduper
	analyzer *Analyzer
	cancel   context.CancelFunc

	frameListener   Listener
	uploadQueueSize int
	uploadWorkers   int
	dedupeSize      int
	seed            []string
	dateLayout      string
	now             func() time.Time

	started bool
	logger  logger.Logger
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		uploadQueueSize: 64,
		uploadWorkers:   2,
		dedupeSize:      1024,
		dateLayout:      defaultDateLayout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start seeds an empty ledger and starts the background workers. The workers
// keep ctx's values but not its cancellation; they run until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("service")

	if len(s.seed) > 0 {
		seeded, err := s.store.SeedWasteTypes(ctx, s.seed)
		if err != nil {
			return fmt.Errorf("seed waste types: %w", err)
		}
		if seeded {
			s.logger.Info(ctx, "ledger seeded", logger.Int("waste_types", len(s.seed)))
		}
	}

	s.pending = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.uploads = queue.NewInMemoryQueue(
		queue.WithName[UploadJob](uploadsQueue),
		queue.WithCapacity[UploadJob](s.uploadQueueSize),
	)
	s.pool = worker.NewPool[UploadJob](s.uploads, worker.HandlerFunc[UploadJob](s.handleUpload),
		worker.WithName[UploadJob](uploadsQueue),
		worker.WithSize[UploadJob](s.uploadWorkers),
		worker.WithLogger[UploadJob](s.logger),
	)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	if s.detector != nil {
		s.analyzer = NewAnalyzer(s.detector, s.frameListener, s.logger)
		s.analyzer.Start(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "ledger service started",
		logger.Int("upload_workers", s.uploadWorkers),
		logger.Int("upload_queue", s.uploadQueueSize),
		logger.Bool("uploads", s.uploader != nil),
		logger.Bool("detection", s.detector != nil),
		logger.Bool("api_tokens", s.issuer != nil),
	)
	return nil
}

// Stop drains pending uploads and the frame in hand, then cancels whatever
// is still running once ctx expires. The store and session store belong to
// the caller.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping ledger service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("upload pool: %w", err))
	}
	if s.analyzer != nil {
		if err := s.analyzer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("analyzer: %w", err))
		}
	}
	s.cancel()
	s.started = false
	s.logger.Info(ctx, "ledger service stopped")
	return errors.Join(errs...)
}

// AddWasteType adds a waste type with no weights.
func (s *Service) AddWasteType(ctx context.Context, name string) (model.WasteType, error) {
	n, err := model.ValidateName("waste type", name)
	if err != nil {
		return model.WasteType{}, err
	}
	return s.store.InsertWasteType(ctx, n)
}

// RenameWasteType renames every waste type called oldName.
func (s *Service) RenameWasteType(ctx context.Context, oldName, newName string) (int64, error) {
	n, err := model.ValidateName("waste type", newName)
	if err != nil {
		return 0, err
	}
	return s.store.RenameWasteType(ctx, oldName, n)
}

// DeleteWasteType removes every waste type called name.
func (s *Service) DeleteWasteType(ctx context.Context, name string) (int64, error) {
	return s.store.DeleteWasteType(ctx, name)
}

// UpdateWeight parses raw and records it for the customer. Unparseable input
// is stored as zero. It reports false when the waste type or the customer
// does not exist.
func (s *Service) UpdateWeight(ctx context.Context, wasteType, customer, raw string) (model.Weight, bool, error) {
	w := model.ParseWeight(raw)
	ok, err := s.store.UpdateWeight(ctx, wasteType, customer, w)
	if err != nil {
		return 0, false, err
	}
	return w, ok, nil
}

// AddCustomer registers a customer now with the given weights keyed by waste
// type name.
func (s *Service) AddCustomer(ctx context.Context, name string, raw map[string]string) (model.Customer, error) {
	n, err := model.ValidateName("customer", name)
	if err != nil {
		return model.Customer{}, err
	}
	c := model.Customer{Name: n, RegisteredAt: s.now().Format(s.dateLayout)}
	if err := s.store.AddCustomerWithWeights(ctx, c.Name, c.RegisteredAt, model.ParseWeights(raw)); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

// DeleteCustomer removes a customer and its weights.
func (s *Service) DeleteCustomer(ctx context.Context, name string) (bool, error) {
	return s.store.DeleteCustomer(ctx, name)
}

// DeleteAllCustomers empties the customer list.
func (s *Service) DeleteAllCustomers(ctx context.Context) error {
	return s.store.DeleteAllCustomers(ctx)
}

// WasteType returns the oldest waste type called name.
func (s *Service) WasteType(ctx context.Context, name string) (model.WasteType, error) {
	return s.store.GetWasteType(ctx, name)
}

// WasteTypes lists every waste type in creation order.
func (s *Service) WasteTypes(ctx context.Context) ([]model.WasteType, error) {
	return s.store.ListWasteTypes(ctx)
}

// Customers lists every customer in registration order.
func (s *Service) Customers(ctx context.Context) ([]model.Customer, error) {
	return s.store.ListCustomers(ctx)
}

// WatchWasteTypes streams the waste type list.
func (s *Service) WatchWasteTypes(ctx context.Context) (<-chan []model.WasteType, error) {
	return s.store.WatchWasteTypes(ctx)
}

// WatchCustomers streams the customer list.
func (s *Service) WatchCustomers(ctx context.Context) (<-chan []model.Customer, error) {
	return s.store.WatchCustomers(ctx)
}

// Recap builds the waste type x customer table.
func (s *Service) Recap(ctx context.Context) (types.Recap, error) {
	wastes, err := s.store.ListWasteTypes(ctx)
	if err != nil {
		return types.Recap{}, err
	}
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return types.Recap{}, err
	}
	return types.BuildRecap(wastes, customers), nil
}

// Export writes the current recap to a spreadsheet.
func (s *Service) Export(ctx context.Context) (export.File, error) {
	if s.exporter == nil {
		return export.File{}, errors.New("no export directory configured")
	}
	recap, err := s.Recap(ctx)
	if err != nil {
		return export.File{}, err
	}
	return s.exporter.Write(ctx, recap)
}

// Exports lists generated spreadsheets, newest first.
func (s *Service) Exports() ([]export.File, error) {
	if s.exporter == nil {
		return nil, nil
	}
	return s.exporter.List()
}

// ExportFile resolves one spreadsheet by name.
func (s *Service) ExportFile(name string) (export.File, error) {
	if s.exporter == nil {
		return export.File{}, export.ErrNotFound
	}
	return s.exporter.Lookup(name)
}

// QueueUpload schedules an export for upload as the signed-in user. It
// reports false when the same file is already waiting.
func (s *Service) QueueUpload(ctx context.Context, name string) (bool, error) {
	if s.uploader == nil {
		return false, ErrUploadsDisabled
	}
	if !s.isStarted() {
		return false, ErrNotStarted
	}
	f, err := s.ExportFile(name)
	if err != nil {
		return false, err
	}
	user, err := s.Session(ctx)
	if err != nil {
		return false, err
	}
	if !user.IsLogin || user.Email == "" {
		return false, ErrNotSignedIn
	}

	if s.pending.SeenAndRecord(ctx, f.Name) {
		metrics.RecordUploadDuplicate()
		s.logger.Debug(ctx, "upload already pending", logger.String("file", f.Name))
		return false, nil
	}
	if err := s.uploads.Enqueue(ctx, UploadJob{File: f.Name, Path: f.Path, Account: user.Email}); err != nil {
		s.pending.Unrecord(ctx, f.Name)
		if errors.Is(err, queue.ErrFull) {
			return false, ErrUploadBusy
		}
		return false, err
	}
	return true, nil
}

func (s *Service) handleUpload(ctx context.Context, job UploadJob) error {
	defer s.pending.Unrecord(ctx, job.File)
	_, err := s.uploader.Upload(ctx, job.Path, job.Account)
	return err
}

// SignIn verifies cred, stores the session and issues an API token when
// tokens are enabled.
func (s *Service) SignIn(ctx context.Context, cred identity.Credential, nonce string) (model.User, *types.Token, error) {
	if s.verifier == nil {
		return model.User{}, nil, identity.ErrNoClientID
	}
	user, err := s.verifier.SignIn(ctx, cred, nonce)
	if err != nil {
		return model.User{}, nil, err
	}
	if s.sessions != nil {
		if err := s.sessions.Save(ctx, user); err != nil {
			return model.User{}, nil, fmt.Errorf("save session: %w", err)
		}
	}
	if s.issuer == nil {
		return user, nil, nil
	}
	value, exp, err := s.issuer.Issue(user.Email)
	if err != nil {
		return model.User{}, nil, err
	}
	return user, &types.Token{Value: value, ExpiresAt: exp}, nil
}

// Session returns the signed-in user, or a zero User.
func (s *Service) Session(ctx context.Context) (model.User, error) {
	if s.sessions == nil {
		return model.User{}, nil
	}
	return s.sessions.Get(ctx)
}

// SignOut forgets the signed-in user.
func (s *Service) SignOut(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Clear(ctx)
}

// AuthEnabled reports whether API tokens are required.
func (s *Service) AuthEnabled() bool { return s.issuer != nil }

// VerifyToken returns the email an API token was issued to.
func (s *Service) VerifyToken(token string) (string, error) {
	if s.issuer == nil {
		return "", ErrAuthDisabled
	}
	return s.issuer.Verify(token)
}

// Detect runs the detector on one image.
func (s *Service) Detect(ctx context.Context, img image.Image, rotation int) (detection.Result, error) {
	if s.detector == nil {
		return detection.Result{}, ErrDetectionDisabled
	}
	return s.detector.Detect(ctx, img, rotation)
}

// SubmitFrame hands a camera frame to the analyzer.
func (s *Service) SubmitFrame(ctx context.Context, img image.Image, rotation int) error {
	a := s.frameAnalyzer()
	if a == nil {
		return ErrDetectionDisabled
	}
	return a.Submit(ctx, Frame{Image: img, Rotation: rotation})
}

// SubscribeDetections streams analyzer results until ctx is done.
func (s *Service) SubscribeDetections(ctx context.Context) (<-chan *detection.Result, error) {
	a := s.frameAnalyzer()
	if a == nil {
		return nil, ErrDetectionDisabled
	}
	return a.Subscribe(ctx), nil
}

// Stats summarises the service.
func (s *Service) Stats(ctx context.Context) (types.Stats, error) {
	totals, err := s.store.Totals(ctx)
	if err != nil {
		return types.Stats{}, err
	}
	st := types.Stats{
		WasteTypes:  totals.WasteTypes,
		Customers:   totals.Customers,
		TotalWeight: totals.Weight.String(),
	}
	if files, err := s.Exports(); err == nil {
		st.Exports = len(files)
	}
	if user, err := s.Session(ctx); err == nil {
		st.SignedIn = user.IsLogin
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending != nil {
		st.PendingUploads = int(s.pending.Size())
	}
	if s.analyzer != nil {
		st.FramesDropped = s.analyzer.Dropped()
	}
	return st, nil
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) frameAnalyzer() *Analyzer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyzer
}
