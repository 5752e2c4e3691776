package smoke

import "time"

// DefaultPrefix marks customers created by a smoke run.
const DefaultPrefix = "smoke-"

// Config holds configuration for a smoke run.
type Config struct {
	BaseURL   string        // Base URL of the service
	Customers int           // Number of customers to deposit for
	Workers   int           // Number of concurrent requests
	Timeout   time.Duration // HTTP request timeout
	Token     string        // Bearer token when API tokens are enabled
	Prefix    string        // Customer name prefix
	Keep      bool          // Leave the generated customers in the ledger
	LogFile   string        // Log file for test output
	Verbose   bool          // Enable verbose logging
}

// Deposit is one POST /customers body: the weights are raw user input keyed
// by waste type name.
type Deposit struct {
	Name    string            `json:"name"`
	Weights map[string]string `json:"weights"`
}

// Stats holds run statistics.
type Stats struct {
	WasteTypes       int
	CustomersCreated int
	CustomersFailed  int
	EntriesVerified  int
	CustomersDeleted int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
