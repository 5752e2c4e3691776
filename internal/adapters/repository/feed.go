package repository

import (
	"context"
	"sync"

	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

// feed broadcasts "something changed" by closing the current channel and
// replacing it with a fresh one.
type feed struct {
	mu sync.Mutex
	ch chan struct{}
}

func newFeed() *feed {
	return &feed{ch: make(chan struct{})}
}

func (f *feed) changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

func (f *feed) notify() {
	f.mu.Lock()
	close(f.ch)
	f.ch = make(chan struct{})
	f.mu.Unlock()
}

// watch emits load's result now and after every notification of f. The
// output holds at most one pending value; a newer value replaces it.
func watch[T any](ctx context.Context, f *feed, name string, load func(context.Context) (T, error), log logger.Logger) (<-chan T, error) {
	// Subscribe before the first load so no change slips between them.
	changed := f.changed()
	first, err := load(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan T, 1)
	out <- first

	go func() {
		defer close(out)
		metrics.AddFeedSubscribers(name, 1)
		defer metrics.AddFeedSubscribers(name, -1)

		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
			changed = f.changed()

			v, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error(ctx, "reload feed failed", logger.String("feed", name), logger.Error(err))
				continue
			}

			select {
			case <-out:
			default:
			}
			out <- v
		}
	}()
	return out, nil
}
