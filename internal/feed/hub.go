// Package feed pushes leaderboard snapshots to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-scoreboard/internal/obslog"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

const (
	EventLeaderboard = "leaderboard"

	sendBuffer   = 8
	writeTimeout = 5 * time.Second
)

// SnapshotFunc supplies the rows sent on connect and on every Refresh.
type SnapshotFunc func() []scoredto.LeaderboardRow

var errHubClosed = errors.New("feed closed")

type subscriber struct {
	out chan []byte
}

type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	closed   bool
	snapshot SnapshotFunc

	originPatterns []string
	pingInterval   time.Duration
	logger         *zap.Logger
}

type Option func(*Hub)

// WithAllowedOrigin restricts browser origins. "*" or empty accepts any origin.
func WithAllowedOrigin(origin string) Option {
	return func(h *Hub) {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			h.originPatterns = nil
			return
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		h.originPatterns = []string{origin}
	}
}

func WithPingInterval(d time.Duration) Option { return func(h *Hub) { h.pingInterval = d } }

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.logger = l } }

func NewHub(snapshot SnapshotFunc, opts ...Option) *Hub {
	h := &Hub{
		subs:         make(map[*subscriber]struct{}),
		snapshot:     snapshot,
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = obslog.L()
	}
	return h
}

func encode(rows []scoredto.LeaderboardRow) ([]byte, error) {
	if rows == nil {
		rows = []scoredto.LeaderboardRow{}
	}
	return json.Marshal(scoredto.FeedEvent{Type: EventLeaderboard, Rows: rows})
}

// Refresh broadcasts the current snapshot to every subscriber. Snapshots are taken and queued
// under the hub mutex, so the last frame a subscriber receives is never older than the board
// state at the time of the last Refresh call. A subscriber whose buffer is full is dropped.
func (h *Hub) Refresh() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.subs) == 0 {
		return
	}
	msg, err := h.snapshotLocked()
	if err != nil {
		h.logger.Warn("feed_encode_failed", zap.Error(err))
		return
	}
	for sub := range h.subs {
		select {
		case sub.out <- msg:
		default:
			delete(h.subs, sub)
			close(sub.out)
			h.logger.Info("feed_subscriber_dropped", zap.String("reason", "slow consumer"))
		}
	}
}

func (h *Hub) snapshotLocked() ([]byte, error) {
	var rows []scoredto.LeaderboardRow
	if h.snapshot != nil {
		rows = h.snapshot()
	}
	return encode(rows)
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// add registers a subscriber with the current snapshot already queued as its first frame.
func (h *Hub) add() (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHubClosed
	}
	first, err := h.snapshotLocked()
	if err != nil {
		return nil, err
	}
	sub := &subscriber{out: make(chan []byte, sendBuffer)}
	sub.out <- first
	h.subs[sub] = struct{}{}
	return sub, nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.out)
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.out)
	}
}

// ServeHTTP upgrades the request and streams leaderboard events until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.originPatterns) == 0,
		OriginPatterns:     h.originPatterns,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Debug("feed_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub, err := h.add()
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, err.Error())
		return
	}
	defer h.remove(sub)

	// subscribers only listen; CloseRead handles control frames and cancels on peer close
	ctx := conn.CloseRead(r.Context())

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-sub.out:
			if !open {
				_ = conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := write(ctx, conn, msg); err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, msg)
}
