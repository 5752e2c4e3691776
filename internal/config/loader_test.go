package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/zydorg/kemunify/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		t.Setenv("KEMUNIFY_ENV_FILE", filepath.Join(dir, "missing.env"))

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.DBPath, convey.ShouldEqual, "kemunify.db")
				convey.So(cfg.SeedWasteTypes, convey.ShouldResemble, config.DefaultSeedWasteTypes())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("KEMUNIFY_ADDR", ":8080")
			t.Setenv("KEMUNIFY_DB_PATH", "/var/lib/kemunify/ledger.db")
			t.Setenv("KEMUNIFY_UPLOAD_WORKERS", "4")
			t.Setenv("KEMUNIFY_TOKEN_TTL", "90m")
			t.Setenv("KEMUNIFY_DRIVE_ENABLED", "false")
			t.Setenv("KEMUNIFY_SEED_WASTE_TYPES", "Kardus, Besi")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DBPath, convey.ShouldEqual, "/var/lib/kemunify/ledger.db")
				convey.So(cfg.UploadWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.TokenTTL, convey.ShouldEqual, 90*time.Minute)
				convey.So(cfg.SeedWasteTypes, convey.ShouldResemble, []string{"Kardus", "Besi"})
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			path := writeConfigFile(t, dir, `
addr: ":9090"
export_dir: "/srv/rekap"
seed_waste_types:
  - Kaleng
detection_score_threshold: 0.5
`)
			t.Setenv("KEMUNIFY_CONFIG", path)
			t.Setenv("KEMUNIFY_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env wins over the file and the file over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.ExportDir, convey.ShouldEqual, "/srv/rekap")
				convey.So(cfg.SeedWasteTypes, convey.ShouldResemble, []string{"Kaleng"})
				convey.So(cfg.DetectionScoreThreshold, convey.ShouldEqual, 0.5)
				convey.So(cfg.SessionDir, convey.ShouldEqual, "session")
			})
		})

		convey.Convey("When a .env file is present", func() {
			envFile := filepath.Join(dir, "test.env")
			convey.So(os.WriteFile(envFile, []byte("KEMUNIFY_EXPORT_DIR=from-dotenv\n"), 0o600), convey.ShouldBeNil)
			t.Setenv("KEMUNIFY_ENV_FILE", envFile)
			t.Setenv("KEMUNIFY_EXPORT_DIR", "")
			_ = os.Unsetenv("KEMUNIFY_EXPORT_DIR")

			cfg, err := config.Load(ctx)

			convey.Convey("Then its values are picked up", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.ExportDir, convey.ShouldEqual, "from-dotenv")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			t.Setenv("KEMUNIFY_CONFIG", writeConfigFile(t, dir, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldWrap, config.ErrLoadConfig)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			t.Setenv("KEMUNIFY_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			t.Setenv("KEMUNIFY_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "kemunify-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
