package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/zydorg/kemunify/internal/smoke"
)

// Default configuration constants.
const (
	defaultCustomers   = 200
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		customers = flag.Int("customers", defaultCustomers, "Number of customers to create")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent requests")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		token     = flag.String("token", os.Getenv("KEMUNIFY_TOKEN"), "Bearer token when API tokens are enabled")
		prefix    = flag.String("prefix", smoke.DefaultPrefix, "Name prefix of generated customers")
		keep      = flag.Bool("keep", false, "Leave the generated customers in the ledger")
		logFile   = flag.String("log", "", "Log file for test output (default: smoke_log_TIMESTAMP.log)")
		verbose   = flag.Bool("verbose", false, "Log every failed request")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		smoke.ShowHelp()
		return
	}

	closer, err := smoke.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &smoke.Config{
		BaseURL:   *baseURL,
		Customers: *customers,
		Workers:   *workers,
		Timeout:   *timeout,
		Token:     *token,
		Prefix:    *prefix,
		Keep:      *keep,
		LogFile:   *logFile,
		Verbose:   *verbose,
	}

	if err := smoke.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Smoke test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
