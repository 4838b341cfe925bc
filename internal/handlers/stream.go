package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ieraasyl/LearnHub/internal/authsync"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// StateFeed is the part of the engine the stream needs.
type StateFeed interface {
	GetState() authsync.State
	Subscribe(fn func(authsync.State)) func()
}

// StreamHandler pushes every auth state transition to websocket clients.
type StreamHandler struct {
	feed     StateFeed
	upgrader websocket.Upgrader
	closing  chan struct{}
	once     sync.Once
}

// NewStreamHandler creates a stream handler accepting connections from
// allowedOrigins. Requests without an Origin header (non-browser clients)
// are accepted.
//
// Example:
//
//	streamHandler := handlers.NewStreamHandler(engine, cfg.CORS.AllowedOrigins)
//	r.Get("/api/v1/auth/stream", streamHandler.Stream)
func NewStreamHandler(feed StateFeed, allowedOrigins []string) *StreamHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &StreamHandler{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
		closing: make(chan struct{}),
	}
}

// Close ends every open stream. http.Server.Shutdown does not close
// hijacked connections, so main calls this first.
func (h *StreamHandler) Close() {
	h.once.Do(func() { close(h.closing) })
}

// Stream upgrades the request and sends the current state, then one
// StateResponse message per transition. A slow client skips intermediate
// states and always receives the latest one.
//
// Example message:
//
//	{"ready": true, "authenticating": false, "signed_in": true, "role": "student", ...}
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade state stream")
		return
	}

	feed := newLatestState()
	unsubscribe := h.feed.Subscribe(feed.offer)
	defer unsubscribe()
	feed.seed(h.feed.GetState)

	log.Debug().Str("remote_addr", r.RemoteAddr).Msg("State stream opened")

	done := make(chan struct{})
	go readPump(conn, done)
	h.writePump(conn, feed, done)

	log.Debug().Str("remote_addr", r.RemoteAddr).Msg("State stream closed")
}

// readPump discards client messages and keeps the read deadline alive on
// pongs. It closes done when the connection fails.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("State stream read failed")
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, feed *latestState, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case <-h.closing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return

		case <-feed.wake:
			state, ok := feed.take()
			if !ok {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(NewStateResponse(state)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// latestState holds the newest undelivered state of one connection.
type latestState struct {
	mu      sync.Mutex
	pending *authsync.State
	wake    chan struct{}
}

func newLatestState() *latestState {
	return &latestState{wake: make(chan struct{}, 1)}
}

// offer replaces the pending state. It never blocks the engine.
func (l *latestState) offer(s authsync.State) {
	l.mu.Lock()
	l.pending = &s
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// seed offers the current snapshot. Reading it under the lock orders it
// against transitions delivered concurrently, which are never older.
func (l *latestState) seed(current func() authsync.State) {
	l.mu.Lock()
	s := current()
	l.pending = &s
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *latestState) take() (authsync.State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return authsync.State{}, false
	}
	s := *l.pending
	l.pending = nil
	return s, true
}
