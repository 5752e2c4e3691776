package site

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/internal/domain/types"
	"github.com/zydorg/kemunify/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type recapFunc func(ctx context.Context) (types.Recap, error)

func (f recapFunc) Recap(ctx context.Context) (types.Recap, error) { return f(ctx) }

func TestSiteHandler(t *testing.T) {
	Convey("Given the site registered on a mux", t, func() {
		ctx := context.Background()
		mux := http.NewServeMux()
		var recapErr error
		src := recapFunc(func(context.Context) (types.Recap, error) {
			if recapErr != nil {
				return types.Recap{}, recapErr
			}
			return types.BuildRecap(
				[]model.WasteType{{ID: 1, Name: "Kardus", Weights: model.Weights{"Tono": model.ParseWeight("1.5")}}},
				[]model.Customer{{Name: "Tono"}, {Name: "<Ani>"}},
			), nil
		})
		guarded := 0
		Register(ctx, mux, src, func(h http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				guarded++
				h(w, r)
			}
		})

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
			return w
		}

		Convey("The landing page links the recap", func() {
			w := get("/")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/html")
			So(w.Body.String(), ShouldContainSubstring, `href="/rekap"`)
			So(guarded, ShouldEqual, 0)
		})

		Convey("Unknown paths are not the landing page", func() {
			So(get("/nope").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("The recap renders one row per waste type and escapes names", func() {
			w := get("/rekap")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := w.Body.String()
			So(body, ShouldContainSubstring, "<th>Nama Sampah</th>")
			So(body, ShouldContainSubstring, "<td>Kardus</td>")
			So(body, ShouldContainSubstring, "1.50")
			So(body, ShouldContainSubstring, "&lt;Ani&gt;")
			So(guarded, ShouldEqual, 1)
		})

		Convey("A failing source is a 500", func() {
			recapErr = errors.New("db closed")
			So(get("/rekap").Code, ShouldEqual, http.StatusInternalServerError)
		})
	})

	Convey("Register panics without a mux", t, func() {
		So(func() { Register(context.Background(), nil, nil, nil) }, ShouldPanic)
	})
}
