package smoke

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zydorg/kemunify/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging sends the global logger to stdout and logFile. If logFile is
// empty, a timestamped filename is generated. The returned closer releases
// the file.
func SetupLogging(logFile string) (io.Closer, error) {
	if logFile == "" {
		logFile = "smoke_log_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWith(io.MultiWriter(os.Stdout, file), logger.FormatText); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file, nil
}

// ShowHelp prints usage information for the smoke tool.
func ShowHelp() {
	os.Stdout.WriteString(`Kemunify Ledger Smoke Test
==========================

Deposits weights for a batch of generated customers through the HTTP API,
checks every ledger entry, then deletes the customers again.

Usage:
  go run ./cmd/ledger-smoke [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -customers int
        Number of customers to create (default 200)
  -workers int
        Number of concurrent requests (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 10s)
  -token string
        Bearer token when API tokens are enabled (default $KEMUNIFY_TOKEN)
  -prefix string
        Name prefix of generated customers (default "smoke-")
  -keep
        Leave the generated customers in the ledger
  -log string
        Log file for test output (default: smoke_log_TIMESTAMP.log)
  -verbose
        Log every failed request
  -help
        Show this help message

Examples:
  # Smoke test a local server
  go run ./cmd/ledger-smoke

  # Larger batch against another host, keeping the data
  go run ./cmd/ledger-smoke -customers 2000 -workers 16 -url http://10.0.0.5:9080 -keep
`)
}
