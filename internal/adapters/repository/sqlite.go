package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	driverName                   = "sqlite"
	defaultBusyTimeout           = 5 * time.Second
	defaultMetricsUpdateInterval = 5 * time.Second
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore implements Store on an embedded SQLite file.
type SQLiteStore struct {
	path                  string
	db                    *sqlx.DB
	destructiveMigration  bool
	busyTimeout           time.Duration
	metricsUpdateInterval time.Duration
	logger                logger.Logger

	wasteFeed    *feed
	customerFeed *feed

	stop      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*SQLiteStore)(nil)

type wasteTypeRow struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type weightRow struct {
	WasteTypeID int64  `db:"waste_type_id"`
	Customer    string `db:"customer_name"`
	Hundredths  int64  `db:"weight"`
}

type customerRow struct {
	Name         string `db:"name"`
	RegisteredAt string `db:"registered_at"`
}

// Open opens (creating if needed) the ledger at path and migrates it to the
// current schema.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:                  path,
		busyTimeout:           defaultBusyTimeout,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		wasteFeed:             newFeed(),
		customerFeed:          newFeed(),
		stop:                  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("ledger")

	db, err := s.openAndMigrate(ctx)
	if err != nil && s.destructiveMigration && errors.Is(err, ErrMigration) && ctx.Err() == nil {
		metrics.RecordMigrationFailure()
		s.logger.Warn(ctx, "migration failed, recreating ledger",
			logger.String("path", path), logger.Error(err))
		if rmErr := removeDatabaseFiles(path); rmErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMigration, rmErr)
		}
		db, err = s.openAndMigrate(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.db = db

	go s.startMetricsUpdater(ctx)
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		s.path, s.busyTimeout.Milliseconds())
}

func (s *SQLiteStore) openAndMigrate(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, s.dsn())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite has a single writer; one connection serialises transactions.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if notALedger(err) {
			return nil, fmt.Errorf("%w: ping: %w", ErrMigration, err)
		}
		return nil, fmt.Errorf("open ledger: ping: %w", err)
	}
	if err := migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		if schemaMismatch(err) {
			return fmt.Errorf("%w: %w", ErrMigration, err)
		}
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// sqliteCode returns the primary result code of the SQLite error behind err.
func sqliteCode(err error) (int, bool) {
	var partial *goose.PartialError
	if errors.As(err, &partial) {
		err = partial.Err
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code() & 0xff, true
}

// notALedger reports whether err says the file is not a readable database.
func notALedger(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_NOTADB || code == sqlite3.SQLITE_CORRUPT)
}

// schemaMismatch reports whether a failed migration points at the file's
// contents. Locks, permissions, I/O and cancellation leave the file alone.
func schemaMismatch(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code, ok := sqliteCode(err)
	if !ok {
		return true
	}
	switch code {
	case sqlite3.SQLITE_ERROR, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT,
		sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_SCHEMA:
		return true
	}
	return false
}

func removeDatabaseFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close stops background work and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.db.Close()
	})
	return err
}

// inTx runs fn in a transaction and notifies the given feeds after commit.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error, feeds ...*feed) error {
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		metrics.RecordErrorByComponent("ledger", op)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordErrorByComponent("ledger", op)
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	metrics.RecordLedgerMutation(op, float64(time.Since(start).Microseconds())/1000)
	for _, f := range feeds {
		f.notify()
	}
	return nil
}

// InsertWasteType adds a waste type with no weights.
func (s *SQLiteStore) InsertWasteType(ctx context.Context, name string) (model.WasteType, error) {
	var id int64
	err := s.inTx(ctx, "insert_waste_type", func(tx *sqlx.Tx) error {
		var err error
		id, err = insertWasteType(ctx, tx, name)
		return err
	}, s.wasteFeed)
	if err != nil {
		return model.WasteType{}, err
	}
	return model.WasteType{ID: id, Name: name, Weights: model.Weights{}}, nil
}

func insertWasteType(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO waste_types (name) VALUES (?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RenameWasteType renames every waste type called oldName.
func (s *SQLiteStore) RenameWasteType(ctx context.Context, oldName, newName string) (int64, error) {
	var n int64
	err := s.inTx(ctx, "rename_waste_type", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE waste_types SET name = ? WHERE name = ?`, newName, oldName)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, s.wasteFeed)
	if err == nil && n == 0 {
		metrics.RecordLedgerNoop("rename_waste_type")
	}
	return n, err
}

// UpdateWeight sets one customer's weight on the oldest waste type named wasteType.
func (s *SQLiteStore) UpdateWeight(ctx context.Context, wasteType, customer string, weight model.Weight) (bool, error) {
	var n int64
	err := s.inTx(ctx, "update_weight", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO waste_weights (waste_type_id, customer_name, weight)
SELECT w.id, c.name, ?
FROM waste_types w JOIN customers c ON c.name = ?
WHERE w.id = (SELECT MIN(id) FROM waste_types WHERE name = ?)
ON CONFLICT (waste_type_id, customer_name) DO UPDATE SET weight = excluded.weight`,
			weight.Hundredths(), customer, wasteType)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, s.wasteFeed)
	if err != nil {
		return false, err
	}
	if n == 0 {
		metrics.RecordLedgerNoop("update_weight")
		s.logger.Debug(ctx, "weight update matched nothing",
			logger.String("waste_type", wasteType), logger.String("customer", customer))
	}
	return n > 0, nil
}

// DeleteWasteType removes every waste type called name.
func (s *SQLiteStore) DeleteWasteType(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.inTx(ctx, "delete_waste_type", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM waste_types WHERE name = ?`, name)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, s.wasteFeed)
	if err == nil && n == 0 {
		metrics.RecordLedgerNoop("delete_waste_type")
	}
	return n, err
}

// AddCustomerWithWeights registers a customer and records its weights.
func (s *SQLiteStore) AddCustomerWithWeights(ctx context.Context, name, registeredAt string, weights model.Weights) error {
	return s.inTx(ctx, "add_customer", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO customers (name, registered_at) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET registered_at = excluded.registered_at`, name, registeredAt); err != nil {
			return err
		}

		var wastes []wasteTypeRow
		if err := tx.SelectContext(ctx, &wastes, `SELECT id, name FROM waste_types ORDER BY id`); err != nil {
			return err
		}

		if len(wastes) == 0 {
			names := make([]string, 0, len(weights))
			for n := range weights {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				id, err := insertWasteType(ctx, tx, n)
				if err != nil {
					return err
				}
				wastes = append(wastes, wasteTypeRow{ID: id, Name: n})
			}
		}

		stmt, err := tx.PreparexContext(ctx, `
INSERT INTO waste_weights (waste_type_id, customer_name, weight) VALUES (?, ?, ?)
ON CONFLICT (waste_type_id, customer_name) DO UPDATE SET weight = excluded.weight`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, w := range wastes {
			if _, err := stmt.ExecContext(ctx, w.ID, name, weights[w.Name].Hundredths()); err != nil {
				return err
			}
		}
		return nil
	}, s.customerFeed, s.wasteFeed)
}

// DeleteCustomer removes the customer from the ledger.
func (s *SQLiteStore) DeleteCustomer(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.inTx(ctx, "delete_customer", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM waste_weights WHERE customer_name = ?`, name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE name = ?`, name)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, s.customerFeed, s.wasteFeed)
	if err == nil && n == 0 {
		metrics.RecordLedgerNoop("delete_customer")
	}
	return n > 0, err
}

// DeleteAllCustomers empties the customer list and every weight.
func (s *SQLiteStore) DeleteAllCustomers(ctx context.Context) error {
	return s.inTx(ctx, "delete_all_customers", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM waste_weights`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM customers`)
		return err
	}, s.customerFeed, s.wasteFeed)
}

// SeedWasteTypes inserts names into an empty ledger.
func (s *SQLiteStore) SeedWasteTypes(ctx context.Context, names []string) (bool, error) {
	seeded := false
	err := s.inTx(ctx, "seed_waste_types", func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM waste_types`); err != nil {
			return err
		}
		if count > 0 || len(names) == 0 {
			return nil
		}
		for _, n := range names {
			if _, err := insertWasteType(ctx, tx, n); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	}, s.wasteFeed)
	return seeded, err
}

// GetWasteType returns the oldest waste type called name.
func (s *SQLiteStore) GetWasteType(ctx context.Context, name string) (model.WasteType, error) {
	defer s.observeQuery("get_waste_type", time.Now())

	var row wasteTypeRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name FROM waste_types WHERE name = ? ORDER BY id LIMIT 1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WasteType{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return model.WasteType{}, fmt.Errorf("get waste type: %w", err)
	}

	var weights []weightRow
	if err := s.db.SelectContext(ctx, &weights,
		`SELECT waste_type_id, customer_name, weight FROM waste_weights WHERE waste_type_id = ?`, row.ID); err != nil {
		return model.WasteType{}, fmt.Errorf("get waste type weights: %w", err)
	}
	wt := model.WasteType{ID: row.ID, Name: row.Name, Weights: make(model.Weights, len(weights))}
	for _, w := range weights {
		wt.Weights[w.Customer] = model.WeightFromHundredths(w.Hundredths)
	}
	return wt, nil
}

// ListWasteTypes returns every waste type in insertion order.
func (s *SQLiteStore) ListWasteTypes(ctx context.Context) ([]model.WasteType, error) {
	defer s.observeQuery("list_waste_types", time.Now())

	// One read transaction keeps the two queries consistent.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list waste types: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []wasteTypeRow
	if err := tx.SelectContext(ctx, &rows, `SELECT id, name FROM waste_types ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list waste types: %w", err)
	}
	var weights []weightRow
	if err := tx.SelectContext(ctx, &weights, `SELECT waste_type_id, customer_name, weight FROM waste_weights`); err != nil {
		return nil, fmt.Errorf("list weights: %w", err)
	}

	out := make([]model.WasteType, len(rows))
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		out[i] = model.WasteType{ID: r.ID, Name: r.Name, Weights: model.Weights{}}
		index[r.ID] = i
	}
	for _, w := range weights {
		if i, ok := index[w.WasteTypeID]; ok {
			out[i].Weights[w.Customer] = model.WeightFromHundredths(w.Hundredths)
		}
	}
	return out, nil
}

// ListCustomers returns every customer in registration order.
func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	defer s.observeQuery("list_customers", time.Now())

	var rows []customerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, registered_at FROM customers ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	out := make([]model.Customer, len(rows))
	for i, r := range rows {
		out[i] = model.Customer{Name: r.Name, RegisteredAt: r.RegisteredAt}
	}
	return out, nil
}

// Totals counts waste types and customers and sums every weight.
func (s *SQLiteStore) Totals(ctx context.Context) (Totals, error) {
	defer s.observeQuery("totals", time.Now())

	var row struct {
		WasteTypes int   `db:"waste_types"`
		Customers  int   `db:"customers"`
		Weight     int64 `db:"weight"`
	}
	err := s.db.GetContext(ctx, &row, `
SELECT (SELECT COUNT(*) FROM waste_types)                 AS waste_types,
       (SELECT COUNT(*) FROM customers)                   AS customers,
       (SELECT COALESCE(SUM(weight), 0) FROM waste_weights) AS weight`)
	if err != nil {
		return Totals{}, fmt.Errorf("totals: %w", err)
	}
	return Totals{WasteTypes: row.WasteTypes, Customers: row.Customers, Weight: model.WeightFromHundredths(row.Weight)}, nil
}

// WatchWasteTypes streams the waste type list.
func (s *SQLiteStore) WatchWasteTypes(ctx context.Context) (<-chan []model.WasteType, error) {
	return watch(ctx, s.wasteFeed, "waste_types", s.ListWasteTypes, s.logger)
}

// WatchCustomers streams the customer list.
func (s *SQLiteStore) WatchCustomers(ctx context.Context) (<-chan []model.Customer, error) {
	return watch(ctx, s.customerFeed, "customers", s.ListCustomers, s.logger)
}

func (s *SQLiteStore) observeQuery(op string, start time.Time) {
	metrics.RecordLedgerQuery(op, float64(time.Since(start).Microseconds())/1000)
}

func (s *SQLiteStore) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(s.metricsUpdateInterval)
	defer ticker.Stop()

	s.updateMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.updateMetrics(ctx)
		}
	}
}

func (s *SQLiteStore) updateMetrics(ctx context.Context) {
	t, err := s.Totals(ctx)
	if err != nil {
		return
	}
	metrics.UpdateLedgerSize(t.WasteTypes, t.Customers, t.Weight.Float64())
}
