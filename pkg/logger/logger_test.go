package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("Init installs a text logger", func() {
			So(Init(), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
			So(Sync(), ShouldBeNil)
		})

		Convey("InitWith rejects unknown formats", func() {
			So(InitWith(&bytes.Buffer{}, "xml"), ShouldNotBeNil)
		})
	})
}

func TestLoggerJSON(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWith(&buf, FormatJSON), ShouldBeNil)
		ctx := context.Background()

		Convey("fields are encoded as attributes", func() {
			Named("ledger").Info(ctx, "weight updated",
				String("waste_type", "Botol"),
				Int64("rows", 2),
				Bool("found", true),
				Duration("took", time.Millisecond),
				Error(errors.New("boom")),
			)

			var rec map[string]any
			So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
			So(rec["msg"], ShouldEqual, "weight updated")
			So(rec["component"], ShouldEqual, "ledger")
			So(rec["waste_type"], ShouldEqual, "Botol")
			So(rec["found"], ShouldEqual, true)
			So(rec["error"], ShouldEqual, "boom")
			So(rec["source"], ShouldContainSubstring, "logger_test.go")
		})

		Convey("debug is filtered until the level is lowered", func() {
			Get().Debug(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)

			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(ctx, "visible")
			So(buf.String(), ShouldContainSubstring, "visible")
			SetLevel(slog.LevelInfo)
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("SetLevelString", t, func() {
		for _, lvl := range []string{"debug", "info", "", "WARN", "warning", "error"} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("loud"), ShouldNotBeNil)
		SetLevel(slog.LevelInfo)
	})
}

func TestNop(t *testing.T) {
	Convey("Nop discards output without panicking", t, func() {
		So(func() { Nop().Named("x").Warn(context.Background(), "ignored") }, ShouldNotPanic)
	})
}
