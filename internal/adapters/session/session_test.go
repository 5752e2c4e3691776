package session

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/zydorg/kemunify/internal/domain/model"
)

func TestPebbleStore(t *testing.T) {
	Convey("Given an in-memory session store", t, func() {
		ctx := context.Background()
		s, err := Open("session", InMemory())
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		Convey("Nobody is signed in at first", func() {
			u, err := s.Get(ctx)
			So(err, ShouldBeNil)
			So(u, ShouldResemble, model.User{})
		})

		Convey("A saved user reads back and Clear signs out", func() {
			user := model.User{FullName: "Siti Aminah", Email: "siti@kemuning.id", Profile: "https://example.com/p.png", IsLogin: true}
			So(s.Save(ctx, user), ShouldBeNil)

			got, err := s.Get(ctx)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, user)

			So(s.Clear(ctx), ShouldBeNil)
			got, err = s.Get(ctx)
			So(err, ShouldBeNil)
			So(got.IsLogin, ShouldBeFalse)
			So(got.Email, ShouldBeEmpty)
		})
	})

	Convey("A session survives reopening on disk", t, func() {
		ctx := context.Background()
		dir := filepath.Join(t.TempDir(), "session")
		s, err := Open(dir)
		So(err, ShouldBeNil)
		So(s.Save(ctx, model.User{Email: "a@b.c", IsLogin: true}), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		s, err = Open(dir)
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()
		got, err := s.Get(ctx)
		So(err, ShouldBeNil)
		So(got.Email, ShouldEqual, "a@b.c")
		So(got.IsLogin, ShouldBeTrue)
	})
}
