package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/zydorg/kemunify/internal/adapters/mq/queue"
	"github.com/zydorg/kemunify/internal/adapters/mq/worker"
	"github.com/zydorg/kemunify/pkg/logger"
)

type uploadJob struct {
	File string
}

// chanSource is a Source that cannot be closed by the pool.
type chanSource struct {
	ch chan uploadJob
}

func (s chanSource) Dequeue(context.Context) <-chan uploadJob { return s.ch }

func TestPool(t *testing.T) {
	convey.Convey("Given a pool reading a queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithName[uploadJob]("uploads"), queue.WithCapacity[uploadJob](16))

		var mu sync.Mutex
		var handled []string
		var failures atomic.Int32
		h := worker.HandlerFunc[uploadJob](func(_ context.Context, j uploadJob) error {
			mu.Lock()
			handled = append(handled, j.File)
			mu.Unlock()
			if j.File == "bad.xlsx" {
				failures.Add(1)
				return errors.New("drive unavailable")
			}
			return nil
		})

		pool := worker.NewPool[uploadJob](q, h,
			worker.WithName[uploadJob]("uploads"),
			worker.WithSize[uploadJob](3),
			worker.WithLogger[uploadJob](logger.Nop()),
		)
		convey.So(pool.Size(), convey.ShouldEqual, 3)
		pool.Start(ctx)

		convey.Convey("Every job is handled, failures included, and shutdown drains the queue", func() {
			for _, f := range []string{"a.xlsx", "b.xlsx", "bad.xlsx", "c.xlsx"} {
				convey.So(q.Enqueue(ctx, uploadJob{File: f}), convey.ShouldBeNil)
			}
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			mu.Lock()
			defer mu.Unlock()
			convey.So(handled, convey.ShouldHaveLength, 4)
			convey.So(failures.Load(), convey.ShouldEqual, 1)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a pool over a source it cannot close", t, func() {
		src := chanSource{ch: make(chan uploadJob)}
		pool := worker.NewPool[uploadJob](src,
			worker.HandlerFunc[uploadJob](func(context.Context, uploadJob) error { return nil }),
			worker.WithLogger[uploadJob](logger.Nop()),
		)
		pool.Start(context.Background())

		convey.Convey("Shutdown stops the idle workers", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
		})
	})
}
