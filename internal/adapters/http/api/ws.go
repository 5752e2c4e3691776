package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + writeWait
)

// Feed message kinds.
const (
	KindWasteTypes = "waste_types"
	KindCustomers  = "customers"
	KindDetection  = "detection"
)

// FeedDependencies defines the push streams behind the websocket routes.
type FeedDependencies interface {
	WatchWasteTypes(ctx context.Context) (<-chan []model.WasteType, error)
	WatchCustomers(ctx context.Context) (<-chan []model.Customer, error)
	SubscribeDetections(ctx context.Context) (<-chan *detection.Result, error)
}

// FeedMessage is one websocket frame.
type FeedMessage struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// FeedHandler streams ledger and detection updates over websockets.
type FeedHandler struct {
	deps     FeedDependencies
	upgrader websocket.Upgrader
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(deps FeedDependencies) *FeedHandler {
	return &FeedHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleLedger handles GET /ws/ledger: the current waste type and customer
// lists, then fresh lists after every change.
func (h *FeedHandler) HandleLedger(w http.ResponseWriter, r *http.Request) {
	const op = "api.ws_ledger"
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wastes, err := h.deps.WatchWasteTypes(ctx)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	customers, err := h.deps.WatchCustomers(ctx)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.stream(ctx, cancel, conn, "ledger", func() (FeedMessage, bool) {
		select {
		case list, ok := <-wastes:
			return FeedMessage{Kind: KindWasteTypes, Data: nonNil(list)}, ok
		case list, ok := <-customers:
			return FeedMessage{Kind: KindCustomers, Data: nonNil(list)}, ok
		case <-ctx.Done():
			return FeedMessage{}, false
		}
	})
}

// HandleDetections handles GET /ws/detections. A failed frame is sent with
// null data.
func (h *FeedHandler) HandleDetections(w http.ResponseWriter, r *http.Request) {
	const op = "api.ws_detections"
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	results, err := h.deps.SubscribeDetections(ctx)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.stream(ctx, cancel, conn, "detections", func() (FeedMessage, bool) {
		select {
		case res, ok := <-results:
			return FeedMessage{Kind: KindDetection, Data: res}, ok
		case <-ctx.Done():
			return FeedMessage{}, false
		}
	})
}

// stream writes messages from next until it reports false or the client goes
// away.
func (h *FeedHandler) stream(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, feed string,
	next func() (FeedMessage, bool)) {
	defer func() { _ = conn.Close() }()
	log := logger.Get().Named("ws")
	metrics.AddFeedSubscribers(feed, 1)
	defer metrics.AddFeedSubscribers(feed, -1)

	// Reads only serve to notice the client leaving and to take pongs.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	msgs := make(chan FeedMessage)
	go func() {
		defer close(msgs)
		for {
			m, ok := next()
			if !ok {
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				log.Debug(ctx, "feed write failed", logger.String("feed", feed), logger.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
