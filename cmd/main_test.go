package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/zydorg/kemunify/internal/config"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(context.Background())
	cfg.DBPath = filepath.Join(dir, "kemunify.db")
	cfg.SessionDir = filepath.Join(dir, "session")
	cfg.ExportDir = filepath.Join(dir, "exported_files")
	cfg.SeedWasteTypes = []string{"Kardus", "Besi"}
	return cfg
}

func TestConfigFromEnvironment(t *testing.T) {
	convey.Convey("Given KEMUNIFY_* variables", t, func() {
		t.Setenv("KEMUNIFY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
		t.Setenv("KEMUNIFY_ADDR", ":8080")
		t.Setenv("KEMUNIFY_UPLOAD_WORKERS", "4")
		t.Setenv("KEMUNIFY_DETECTION_DELEGATE", "gpu")

		convey.Convey("Then the configuration picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.UploadWorkers, convey.ShouldEqual, 4)
			convey.So(cfg.DetectionDelegate, convey.ShouldEqual, "gpu")
		})
	})
}

func TestApplication(t *testing.T) {
	convey.Convey("Given an application built from the default configuration", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)

		a, err := newApplication(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(a.svc.Start(ctx), convey.ShouldBeNil)
		defer a.close(ctx)

		srv := httptest.NewServer(a.routes(ctx))
		defer srv.Close()

		convey.Convey("Then health, docs and pages are served", func() {
			for _, path := range []string{"/healthz", "/api-docs", "/openapi.yaml", "/", "/rekap"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then the ledger starts from the seed list", func() {
			resp, err := http.Get(srv.URL + "/waste-types")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			var got []model.WasteType
			convey.So(json.NewDecoder(resp.Body).Decode(&got), convey.ShouldBeNil)
			convey.So(len(got), convey.ShouldEqual, 2)
			convey.So(got[0].Name, convey.ShouldEqual, "Kardus")
		})

		convey.Convey("Then optional features report unavailable", func() {
			var buf bytes.Buffer
			convey.So(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))), convey.ShouldBeNil)

			resp, err := http.Post(srv.URL+"/detections", "image/png", &buf)
			convey.So(err, convey.ShouldBeNil)
			resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusServiceUnavailable)
		})
	})

	convey.Convey("Given API tokens are enabled", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.JWTSecret = "secret"

		a, err := newApplication(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(a.svc.Start(ctx), convey.ShouldBeNil)
		defer a.close(ctx)

		srv := httptest.NewServer(a.routes(ctx))
		defer srv.Close()

		convey.Convey("Then the recap page needs a token but the landing page does not", func() {
			resp, err := http.Get(srv.URL + "/rekap")
			convey.So(err, convey.ShouldBeNil)
			resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusUnauthorized)

			resp, err = http.Get(srv.URL + "/")
			convey.So(err, convey.ShouldBeNil)
			resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})
	})

	convey.Convey("Given an unknown detection delegate", t, func() {
		cfg := testConfig(t)
		cfg.DetectionEndpoint = "http://127.0.0.1:1/detect"
		cfg.DetectionDelegate = "tpu"

		convey.Convey("Then building the application fails", func() {
			_, err := newApplication(context.Background(), cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given Drive uploads with a missing credentials file", t, func() {
		cfg := testConfig(t)
		cfg.DriveEnabled = true
		cfg.DriveCredentialsFile = filepath.Join(t.TempDir(), "nope.json")

		convey.Convey("Then building the application fails", func() {
			_, err := newApplication(context.Background(), cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then it returns once the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
