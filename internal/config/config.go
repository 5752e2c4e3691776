// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Keys are flat snake_case so they map one to one onto KEMUNIFY_* env vars.
// - External errors are wrapped with ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidConfig marks a configuration that loaded but cannot be used.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig marks a failure reading a config source.
	ErrLoadConfig = errors.New("load config failed")
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite ledger file.
	DBPath string `koanf:"db_path"`

	// DestructiveMigration drops and recreates the ledger when migrating fails.
	DestructiveMigration bool `koanf:"destructive_migration"`

	// SeedWasteTypes is inserted into an empty ledger at startup.
	SeedWasteTypes []string `koanf:"seed_waste_types"`

	// ExportDir receives generated recap spreadsheets.
	ExportDir string `koanf:"export_dir"`

	// CustomerDateLayout formats customer registration timestamps (Go layout).
	CustomerDateLayout string `koanf:"customer_date_layout"`

	// SessionDir holds the pebble session store.
	SessionDir string `koanf:"session_dir"`

	// GoogleClientID is the audience expected in Google ID tokens.
	GoogleClientID string `koanf:"google_client_id"`

	// JWTSecret signs API tokens. Empty disables the auth middleware.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL bounds the lifetime of issued API tokens.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// DriveEnabled turns on Google Drive uploads.
	DriveEnabled bool `koanf:"drive_enabled"`

	// DriveCredentialsFile is a service-account JSON key with domain-wide delegation.
	DriveCredentialsFile string `koanf:"drive_credentials_file"`

	// DriveFolderName is the Drive folder that receives exports.
	DriveFolderName string `koanf:"drive_folder_name"`

	// UploadQueueSize bounds pending upload jobs.
	UploadQueueSize int `koanf:"upload_queue_size"`

	// UploadWorkers sets the number of upload workers.
	UploadWorkers int `koanf:"upload_workers"`

	// DedupeSize bounds the remembered pending uploads and sign-in nonces.
	DedupeSize int `koanf:"dedupe_size"`

	// DetectionEndpoint is the inference backend URL. Empty disables detection.
	DetectionEndpoint string `koanf:"detection_endpoint"`

	DetectionMaxResults     int           `koanf:"detection_max_results"`
	DetectionScoreThreshold float64       `koanf:"detection_score_threshold"`
	DetectionNumThreads     int           `koanf:"detection_num_threads"`
	DetectionDelegate       string        `koanf:"detection_delegate"`
	DetectionTimeout        time.Duration `koanf:"detection_timeout"`
}

// New creates a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		DBPath:                  "kemunify.db",
		DestructiveMigration:    true,
		SeedWasteTypes:          DefaultSeedWasteTypes(),
		ExportDir:               "exported_files",
		CustomerDateLayout:      "02/01/2006 15.04",
		SessionDir:              "session",
		TokenTTL:                24 * time.Hour,
		DriveFolderName:         "Rekap Sampah Bank Kemuning",
		UploadQueueSize:         64,
		UploadWorkers:           2,
		DedupeSize:              1024,
		DetectionMaxResults:     5,
		DetectionScoreThreshold: 0.7,
		DetectionNumThreads:     2,
		DetectionDelegate:       "cpu",
		DetectionTimeout:        10 * time.Second,
	}
}

// DefaultSeedWasteTypes returns the waste types a fresh ledger starts with.
func DefaultSeedWasteTypes() []string {
	return []string{
		"Gelas bersih",
		"Botol bersih",
		"Plastik rongsok",
		"Kardus",
		"Kardus rongsok",
		"Kertas Putih",
		"Buku",
		"Kaleng aluminium/pocari",
		"Kaleng rongsok",
		"Aluminium/panci",
		"Besi",
		"kaca bening",
		"kaca warna",
		"Tutup botol kecil",
		"Tutup botol galon",
		"bubblewarp",
		"galon aqua",
		"galon lemineral",
		"plastik bening",
		"thinwall",
		"besi kopong",
		"karung",
		"CD / toples akrilik",
		"baterai",
		"setrika",
		"kawat",
	}
}
