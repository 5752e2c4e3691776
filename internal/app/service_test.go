package service_test

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/api/idtoken"

	"github.com/zydorg/kemunify/internal/adapters/drive"
	"github.com/zydorg/kemunify/internal/adapters/export"
	"github.com/zydorg/kemunify/internal/adapters/identity"
	"github.com/zydorg/kemunify/internal/adapters/repository"
	"github.com/zydorg/kemunify/internal/adapters/session"
	service "github.com/zydorg/kemunify/internal/app"
	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2024, 8, 17, 9, 5, 3, 0, time.UTC)

type blockingFiles struct {
	started chan string
	release chan struct{}
}

func (f *blockingFiles) FindFolder(context.Context, string) (string, error)   { return "folder", nil }
func (f *blockingFiles) CreateFolder(context.Context, string) (string, error) { return "folder", nil }
func (f *blockingFiles) Create(_ context.Context, name, _, _ string, r io.Reader) (drive.Uploaded, error) {
	_, _ = io.Copy(io.Discard, r)
	f.started <- name
	<-f.release
	return drive.Uploaded{ID: "id", Name: name}, nil
}

type harness struct {
	svc      *service.Service
	store    *repository.SQLiteStore
	sessions *session.PebbleStore
	files    *blockingFiles
}

func newHarness(t *testing.T, extra ...service.Option) *harness {
	t.Helper()
	return startHarness(t, context.Background(), extra...)
}

// startHarness starts the service with ctx, which tests may cancel.
func startHarness(t *testing.T, ctx context.Context, extra ...service.Option) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := repository.Open(context.Background(), filepath.Join(dir, "ledger.db"), repository.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sessions, err := session.Open("session", session.InMemory())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	files := &blockingFiles{started: make(chan string, 4), release: make(chan struct{})}
	uploader := drive.NewUploader(func(context.Context, string) (drive.FileService, error) {
		return files, nil
	}, drive.WithLogger(logger.Nop()))

	validator := func(_ context.Context, token, _ string) (*idtoken.Payload, error) {
		if token != "good" {
			return nil, errors.New("bad signature")
		}
		return &idtoken.Payload{Claims: map[string]any{"name": "Siti", "email": "siti@kemuning.id"}}, nil
	}
	issuer, err := identity.NewIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	opts := []service.Option{
		service.WithExporter(export.New(filepath.Join(dir, "exported_files"), export.WithLogger(logger.Nop()))),
		service.WithUploader(uploader),
		service.WithVerifier(identity.NewVerifier("client", identity.WithValidator(validator), identity.WithLogger(logger.Nop()))),
		service.WithIssuer(issuer),
		service.WithSessions(sessions),
		service.WithSeedWasteTypes([]string{"Kardus", "Besi"}),
		service.WithClock(func() time.Time { return fixedNow }),
		service.WithLogger(logger.Nop()),
	}
	svc := service.New(store, append(opts, extra...)...)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		close(files.release)
		_ = svc.Stop(context.Background())
		_ = sessions.Close()
		_ = store.Close()
	})
	return &harness{svc: svc, store: store, sessions: sessions, files: files}
}

func TestLedger(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		h := newHarness(t)
		svc := h.svc

		Convey("The ledger starts with the seed list", func() {
			wts, err := svc.WasteTypes(ctx)
			So(err, ShouldBeNil)
			So(wts, ShouldHaveLength, 2)
			So(wts[0].Name, ShouldEqual, "Kardus")
		})

		Convey("A customer is registered with a formatted date and parsed weights", func() {
			c, err := svc.AddCustomer(ctx, "  Tono ", map[string]string{"Kardus": "1,255", "Besi": "abc"})
			So(err, ShouldBeNil)
			So(c.Name, ShouldEqual, "Tono")
			So(c.RegisteredAt, ShouldEqual, "17/08/2024 09.05")

			wt, err := svc.WasteType(ctx, "Kardus")
			So(err, ShouldBeNil)
			So(wt.WeightOf("Tono").String(), ShouldEqual, "1.26")
			wt, _ = svc.WasteType(ctx, "Besi")
			So(wt.WeightOf("Tono").String(), ShouldEqual, "0.00")
		})

		Convey("Blank names are rejected", func() {
			_, err := svc.AddCustomer(ctx, "  ", nil)
			So(errors.Is(err, model.ErrInvalidName), ShouldBeTrue)
			_, err = svc.AddWasteType(ctx, "")
			So(errors.Is(err, model.ErrInvalidName), ShouldBeTrue)
			_, err = svc.RenameWasteType(ctx, "Kardus", " ")
			So(errors.Is(err, model.ErrInvalidName), ShouldBeTrue)
		})

		Convey("Weight updates for unknown customers are no-ops", func() {
			_, ok, err := svc.UpdateWeight(ctx, "Kardus", "Nobody", "2")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			_, err = svc.AddCustomer(ctx, "Ani", nil)
			So(err, ShouldBeNil)
			w, ok, err := svc.UpdateWeight(ctx, "Kardus", "Ani", "2.5")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(w.String(), ShouldEqual, "2.50")
		})

		Convey("The recap and stats reflect the ledger", func() {
			_, _ = svc.AddCustomer(ctx, "Ani", map[string]string{"Kardus": "1"})
			_, _ = svc.AddCustomer(ctx, "Budi", map[string]string{"Besi": "2.5"})

			r, err := svc.Recap(ctx)
			So(err, ShouldBeNil)
			So(r.Header, ShouldResemble, []string{"No", "Nama Sampah", "Ani", "Budi"})
			So(r.Rows[0].Weights, ShouldResemble, []string{"1.00", "0.00"})
			So(r.Rows[1].Weights, ShouldResemble, []string{"0.00", "2.50"})

			st, err := svc.Stats(ctx)
			So(err, ShouldBeNil)
			So(st.WasteTypes, ShouldEqual, 2)
			So(st.Customers, ShouldEqual, 2)
			So(st.TotalWeight, ShouldEqual, "3.50")
			So(st.SignedIn, ShouldBeFalse)
		})

		Convey("Deleting a customer removes it everywhere", func() {
			_, _ = svc.AddCustomer(ctx, "Ani", map[string]string{"Kardus": "1"})
			ok, err := svc.DeleteCustomer(ctx, "Ani")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			wt, _ := svc.WasteType(ctx, "Kardus")
			So(wt.Weights, ShouldBeEmpty)

			_, _ = svc.AddCustomer(ctx, "Budi", nil)
			So(svc.DeleteAllCustomers(ctx), ShouldBeNil)
			cs, _ := svc.Customers(ctx)
			So(cs, ShouldBeEmpty)
		})

		Convey("Exports are written and listed", func() {
			f, err := svc.Export(ctx)
			So(err, ShouldBeNil)
			So(f.Name, ShouldEqual, "rekap_sampah_17-08-2024_09.05.03.xlsx")

			files, err := svc.Exports()
			So(err, ShouldBeNil)
			So(files, ShouldHaveLength, 1)

			_, err = svc.ExportFile("../etc/passwd")
			So(errors.Is(err, export.ErrInvalidName), ShouldBeTrue)
		})
	})
}

func TestSignInAndUpload(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		h := newHarness(t)
		svc := h.svc

		f, err := svc.Export(ctx)
		So(err, ShouldBeNil)

		Convey("Uploads need a signed-in account", func() {
			_, err := svc.QueueUpload(ctx, f.Name)
			So(err, ShouldEqual, service.ErrNotSignedIn)
		})

		Convey("Signing in stores the session and returns a token", func() {
			user, tok, err := svc.SignIn(ctx, identity.GoogleIDToken{Token: "good"}, "")
			So(err, ShouldBeNil)
			So(user.Email, ShouldEqual, "siti@kemuning.id")
			So(tok, ShouldNotBeNil)
			So(svc.AuthEnabled(), ShouldBeTrue)

			sub, err := svc.VerifyToken(tok.Value)
			So(err, ShouldBeNil)
			So(sub, ShouldEqual, "siti@kemuning.id")

			got, err := svc.Session(ctx)
			So(err, ShouldBeNil)
			So(got.IsLogin, ShouldBeTrue)

			Convey("an upload is deduplicated while pending and can be queued again afterwards", func() {
				queued, err := svc.QueueUpload(ctx, f.Name)
				So(err, ShouldBeNil)
				So(queued, ShouldBeTrue)
				So(<-h.files.started, ShouldEqual, f.Name)

				queued, err = svc.QueueUpload(ctx, f.Name)
				So(err, ShouldBeNil)
				So(queued, ShouldBeFalse)

				h.files.release <- struct{}{}
				So(waitFor(func() bool {
					st, _ := svc.Stats(ctx)
					return st.PendingUploads == 0
				}), ShouldBeTrue)

				queued, err = svc.QueueUpload(ctx, f.Name)
				So(err, ShouldBeNil)
				So(queued, ShouldBeTrue)
				So(<-h.files.started, ShouldEqual, f.Name)
				h.files.release <- struct{}{}
			})

			Convey("unknown files are not queued", func() {
				_, err := svc.QueueUpload(ctx, "rekap_sampah_01-01-2000_00.00.00.xlsx")
				So(errors.Is(err, export.ErrNotFound), ShouldBeTrue)
			})

			Convey("signing out clears the session", func() {
				So(svc.SignOut(ctx), ShouldBeNil)
				got, _ := svc.Session(ctx)
				So(got.IsLogin, ShouldBeFalse)
			})
		})

		Convey("A rejected token does not sign in", func() {
			_, _, err := svc.SignIn(ctx, identity.GoogleIDToken{Token: "forged"}, "")
			So(errors.Is(err, identity.ErrInvalidToken), ShouldBeTrue)
			got, _ := svc.Session(ctx)
			So(got.IsLogin, ShouldBeFalse)
		})
	})
}

func TestStopDrainsUploads(t *testing.T) {
	Convey("Given uploads queued on a service whose start context is cancelled", t, func() {
		ctx := context.Background()
		startCtx, cancel := context.WithCancel(ctx)
		h := startHarness(t, startCtx)
		svc := h.svc

		_, _, err := svc.SignIn(ctx, identity.GoogleIDToken{Token: "good"}, "")
		So(err, ShouldBeNil)
		first, err := svc.Export(ctx)
		So(err, ShouldBeNil)
		second, err := svc.Export(ctx)
		So(err, ShouldBeNil)
		So(second.Name, ShouldNotEqual, first.Name)

		queued, err := svc.QueueUpload(ctx, first.Name)
		So(err, ShouldBeNil)
		So(queued, ShouldBeTrue)
		So(<-h.files.started, ShouldEqual, first.Name)
		queued, err = svc.QueueUpload(ctx, second.Name)
		So(err, ShouldBeNil)
		So(queued, ShouldBeTrue)

		cancel()
		stopped := make(chan error, 1)
		go func() { stopped <- svc.Stop(ctx) }()

		Convey("Stop still uploads everything that was queued", func() {
			h.files.release <- struct{}{}
			select {
			case name := <-h.files.started:
				So(name, ShouldEqual, second.Name)
			case <-time.After(5 * time.Second):
				So("second upload never started", ShouldBeEmpty)
			}
			h.files.release <- struct{}{}

			select {
			case err := <-stopped:
				So(err, ShouldBeNil)
			case <-time.After(5 * time.Second):
				So("stop never returned", ShouldBeEmpty)
			}
		})
	})
}

type gatedDetector struct {
	mu      sync.Mutex
	calls   int
	started chan int
	release chan struct{}
	fail    bool
}

func (d *gatedDetector) Detect(_ context.Context, img image.Image, rotation int) (detection.Result, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	d.started <- rotation
	<-d.release
	if d.fail {
		return detection.Result{}, errors.New("model crashed")
	}
	return detection.Result{
		Detections: []detection.Detection{{Label: "bottle", Score: 0.9}},
		ImageWidth: img.Bounds().Dx(),
	}, nil
}

func TestFrames(t *testing.T) {
	Convey("Given a service with a detector", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		det := &gatedDetector{started: make(chan int, 4), release: make(chan struct{}, 4)}
		var heard []*detection.Result
		var mu sync.Mutex
		h := newHarness(t,
			service.WithDetector(det),
			service.WithFrameListener(func(r *detection.Result) {
				mu.Lock()
				heard = append(heard, r)
				mu.Unlock()
			}),
		)
		svc := h.svc
		img := image.NewRGBA(image.Rect(0, 0, 8, 4))

		Convey("only the newest waiting frame is analysed", func() {
			results, err := svc.SubscribeDetections(ctx)
			So(err, ShouldBeNil)

			So(svc.SubmitFrame(ctx, img, 0), ShouldBeNil)
			So(<-det.started, ShouldEqual, 0)

			So(svc.SubmitFrame(ctx, img, 90), ShouldBeNil)
			So(svc.SubmitFrame(ctx, img, 180), ShouldBeNil)

			det.release <- struct{}{}
			So(<-det.started, ShouldEqual, 180)
			det.release <- struct{}{}

			So(waitFor(func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(heard) == 2
			}), ShouldBeTrue)

			st, err := svc.Stats(ctx)
			So(err, ShouldBeNil)
			So(st.FramesDropped, ShouldEqual, 1)

			r := <-results
			So(r, ShouldNotBeNil)
			So(r.Detections[0].Label, ShouldEqual, "bottle")
		})

		Convey("a failed frame reaches the listener as nil", func() {
			det.fail = true
			So(svc.SubmitFrame(ctx, img, 0), ShouldBeNil)
			<-det.started
			det.release <- struct{}{}
			So(waitFor(func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(heard) == 1 && heard[0] == nil
			}), ShouldBeTrue)
		})

		Convey("synchronous detection goes straight to the detector", func() {
			det.release <- struct{}{}
			res, err := svc.Detect(ctx, img, 0)
			So(err, ShouldBeNil)
			So(res.ImageWidth, ShouldEqual, 8)
			<-det.started
		})
	})

	Convey("Without a detector frames are refused", t, func() {
		svc := newHarness(t).svc
		err := svc.SubmitFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)), 0)
		So(err, ShouldEqual, service.ErrDetectionDisabled)
		_, err = svc.Detect(context.Background(), nil, 0)
		So(err, ShouldEqual, service.ErrDetectionDisabled)
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
