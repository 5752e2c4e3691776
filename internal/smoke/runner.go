package smoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zydorg/kemunify/pkg/logger"
)

// ErrNoWasteTypes is returned when the ledger has nothing to deposit into.
var ErrNoWasteTypes = errors.New("ledger has no waste types")

// Run executes the complete smoke test: deposit for cfg.Customers fresh
// customers, check every ledger entry, then remove them again unless
// cfg.Keep is set.
func Run(ctx context.Context, cfg *Config) error {
	stats := &Stats{StartTime: time.Now()}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	log := logger.Get()

	log.Info(ctx, "starting kemunify ledger smoke test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("customers", cfg.Customers),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
		logger.Bool("keep", cfg.Keep))

	client := NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Read the waste types to deposit into
	ledger, err := client.WasteTypes(ctx)
	if err != nil {
		return fmt.Errorf("list waste types: %w", err)
	}
	if len(ledger) == 0 {
		return ErrNoWasteTypes
	}
	stats.WasteTypes = len(ledger)
	names := make([]string, len(ledger))
	for i, wt := range ledger {
		names[i] = wt.Name
	}

	// Step 3: Generate and submit deposits
	deposits, err := generateDeposits(cfg, names)
	if err != nil {
		return fmt.Errorf("deposit generation failed: %w", err)
	}
	if err := submitDeposits(ctx, cfg, client, deposits, stats); err != nil {
		return fmt.Errorf("deposit submission failed: %w", err)
	}
	if stats.CustomersFailed > 0 {
		return fmt.Errorf("%d of %d deposits failed", stats.CustomersFailed, len(deposits))
	}

	// Step 4: Verify every entry
	ledger, err = client.WasteTypes(ctx)
	if err != nil {
		return fmt.Errorf("list waste types: %w", err)
	}
	checked, err := verifyDeposits(deposits, ledger)
	stats.EntriesVerified = checked
	if err != nil {
		return fmt.Errorf("ledger verification failed: %w", err)
	}
	log.Info(ctx, "ledger entries verified", logger.Int("entries", checked))

	// Step 5: Remove the generated customers and check the cascade
	if !cfg.Keep {
		created := make([]string, len(deposits))
		for i, d := range deposits {
			created[i] = d.Name
		}
		if err := deleteCustomers(ctx, cfg, client, created, stats); err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		customers, err := client.Customers(ctx)
		if err != nil {
			return fmt.Errorf("list customers: %w", err)
		}
		after, err := client.WasteTypes(ctx)
		if err != nil {
			return fmt.Errorf("list waste types: %w", err)
		}
		if err := verifyRemoved(cfg.Prefix, customers, after); err != nil {
			return fmt.Errorf("cleanup verification failed: %w", err)
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, client, stats)

	log.Info(ctx, "smoke test completed successfully")
	return nil
}

// displayFinalStats logs the run statistics next to the service's own.
func displayFinalStats(ctx context.Context, client *Client, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.CustomersCreated) / stats.Duration.Seconds()
	}
	fields := []logger.Field{
		logger.Int("wasteTypes", stats.WasteTypes),
		logger.Int("customersCreated", stats.CustomersCreated),
		logger.Int("entriesVerified", stats.EntriesVerified),
		logger.Int("customersDeleted", stats.CustomersDeleted),
		logger.Duration("duration", stats.Duration),
		logger.Float64("depositsPerSecond", perSecond),
	}
	if svc, err := client.Stats(ctx); err == nil {
		fields = append(fields,
			logger.Int("ledgerCustomers", svc.Customers),
			logger.String("ledgerTotalWeight", svc.TotalWeight))
	}
	logger.Get().Info(ctx, "final statistics", fields...)
}
