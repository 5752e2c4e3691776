package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "KEMUNIFY_"
	envConfig  = envPrefix + "CONFIG"
	envDotFile = envPrefix + "ENV_FILE"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if KEMUNIFY_CONFIG is set
//  3. env (prefix KEMUNIFY_), after loading .env (or KEMUNIFY_ENV_FILE) when present
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// KEMUNIFY_DB_PATH -> db_path (flat keys, underscores kept).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	// Decoding into a non-empty slice keeps trailing defaults, so start empty.
	cfg.SeedWasteTypes = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if !k.Exists("seed_waste_types") {
		cfg.SeedWasteTypes = base.SeedWasteTypes
	}
	cfg.SeedWasteTypes = trimNames(cfg.SeedWasteTypes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.ExportDir == "":
		return fmt.Errorf("%w: export_dir must not be empty", ErrInvalidConfig)
	case c.SessionDir == "":
		return fmt.Errorf("%w: session_dir must not be empty", ErrInvalidConfig)
	case c.CustomerDateLayout == "":
		return fmt.Errorf("%w: customer_date_layout must not be empty", ErrInvalidConfig)
	case c.UploadQueueSize <= 0 || c.UploadWorkers <= 0 || c.DedupeSize <= 0:
		return fmt.Errorf("%w: upload_queue_size, upload_workers and dedupe_size must be positive", ErrInvalidConfig)
	case c.DetectionMaxResults <= 0:
		return fmt.Errorf("%w: detection_max_results must be positive", ErrInvalidConfig)
	case c.DetectionScoreThreshold < 0 || c.DetectionScoreThreshold > 1:
		return fmt.Errorf("%w: detection_score_threshold must be within [0,1]", ErrInvalidConfig)
	case c.DriveEnabled && c.DriveCredentialsFile == "":
		return fmt.Errorf("%w: drive_credentials_file is required when drive_enabled", ErrInvalidConfig)
	}
	return nil
}

func loadDotEnv() error {
	path := os.Getenv(envDotFile)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	return nil
}

func trimNames(names []string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
