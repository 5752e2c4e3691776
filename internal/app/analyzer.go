package service

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/zydorg/kemunify/internal/adapters/mq/queue"
	"github.com/zydorg/kemunify/internal/adapters/mq/worker"
	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const framesQueue = "frames"

// Frame is one camera capture waiting for analysis.
type Frame struct {
	Image    image.Image
	Rotation int
}

// Listener receives the result of every analysed frame, or nil when the
// detector failed.
type Listener func(*detection.Result)

// Analyzer runs the detector on the newest camera frame. A frame still
// waiting when the next one arrives is dropped.
type Analyzer struct {
	detector detection.Detector
	listener Listener
	frames   *queue.InMemoryQueue[Frame]
	pool     *worker.Pool[Frame]
	dropped  atomic.Int64

	mu   sync.Mutex
	subs map[chan *detection.Result]struct{}
}

// NewAnalyzer creates an Analyzer; listener may be nil.
func NewAnalyzer(d detection.Detector, listener Listener, log logger.Logger) *Analyzer {
	a := &Analyzer{
		detector: d,
		listener: listener,
		subs:     make(map[chan *detection.Result]struct{}),
	}
	a.frames = queue.NewInMemoryQueue(
		queue.WithName[Frame](framesQueue),
		queue.WithCapacity[Frame](1),
		queue.WithDropOldest(func(Frame) {
			a.dropped.Add(1)
			metrics.RecordFrameDropped()
		}),
	)
	a.pool = worker.NewPool[Frame](a.frames, worker.HandlerFunc[Frame](a.analyze),
		worker.WithName[Frame]("analyzer"),
		worker.WithSize[Frame](1),
		worker.WithLogger[Frame](log),
	)
	return a
}

// Start launches the analysis worker.
func (a *Analyzer) Start(ctx context.Context) { a.pool.Start(ctx) }

// Submit queues a frame, replacing any frame not yet picked up.
func (a *Analyzer) Submit(ctx context.Context, f Frame) error {
	return a.frames.Enqueue(ctx, f)
}

// Dropped reports how many frames were replaced before analysis.
func (a *Analyzer) Dropped() int64 { return a.dropped.Load() }

// Subscribe returns a channel carrying the newest result. It is closed when
// ctx is done.
func (a *Analyzer) Subscribe(ctx context.Context) <-chan *detection.Result {
	ch := make(chan *detection.Result, 1)
	a.mu.Lock()
	a.subs[ch] = struct{}{}
	a.mu.Unlock()
	metrics.AddFeedSubscribers("detections", 1)

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.subs, ch)
		close(ch)
		a.mu.Unlock()
		metrics.AddFeedSubscribers("detections", -1)
	}()
	return ch
}

// Shutdown stops accepting frames and waits for the one in hand.
func (a *Analyzer) Shutdown(ctx context.Context) error {
	return a.pool.Shutdown(ctx)
}

func (a *Analyzer) analyze(ctx context.Context, f Frame) error {
	res, err := a.detector.Detect(ctx, f.Image, f.Rotation)
	var out *detection.Result
	if err == nil {
		out = &res
	}
	if a.listener != nil {
		a.listener(out)
	}
	a.publish(out)
	return err
}

func (a *Analyzer) publish(r *detection.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r:
		default:
		}
	}
}
