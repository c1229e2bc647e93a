package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oddsline/platform/internal/domain"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 << 10
)

// TokenValidator checks the bearer credential presented at handshake time.
type TokenValidator interface {
	ValidateConnectionToken(token string) (subject string, err error)
}

// MatchLister serves the request_inplay_matches snapshot.
type MatchLister interface {
	ListMatches(ctx context.Context, onlyLive bool) ([]domain.Fixture, error)
}

// Hub owns all WebSocket connections and fans deltas out to subscribers.
// Delivery is best-effort, at-most-once: a subscriber whose send buffer is
// full or whose connection is gone loses that message only; its next full
// resync on reconnect brings it back to a consistent state.
type Hub struct {
	registry *Registry
	auth     TokenValidator
	matches  MatchLister
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	id      string
	subject string
	sock    *websocket.Conn
	send    chan []byte
}

// NewHub creates a hub. matches may be nil if in-play snapshots are not served.
func NewHub(auth TokenValidator, matches MatchLister, logger *slog.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		auth:     auth,
		matches:  matches,
		logger:   logger,
		conns:    make(map[string]*wsConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Registry exposes the subscription index (status endpoints, tests).
func (h *Hub) Registry() *Registry { return h.registry }

// HandleWS authenticates the handshake and upgrades the connection. A missing
// or invalid bearer credential is rejected before upgrade with a distinct
// auth-failure status so clients know not to retry with the same token.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, `{"code":"AUTH_FAILED","message":"missing connection token"}`, http.StatusUnauthorized)
		return
	}
	subject, err := h.auth.ValidateConnectionToken(token)
	if err != nil {
		http.Error(w, `{"code":"AUTH_FAILED","message":"invalid connection token"}`, http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	conn := &wsConn{
		id:      uuid.New().String(),
		subject: subject,
		sock:    sock,
		send:    make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	h.logger.Info("ws connected", "connId", conn.id, "subject", subject)

	go h.writePump(conn)
	h.readPump(r.Context(), conn)
}

// Broadcast delivers a typed delta to every subscriber of the match. Messages
// broadcast from the single-threaded sync pass are enqueued to each
// subscriber's channel in order; one dead subscriber never blocks the rest.
func (h *Hub) Broadcast(matchID string, typ domain.UpdateType, data interface{}) {
	msg := domain.DeltaMessage{Type: typ, MatchID: matchID, Data: data, Timestamp: time.Now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal error", "matchId", matchID, "type", typ, "error", err)
		return
	}

	subs := h.registry.Subscribers(matchID)
	if len(subs) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, connID := range subs {
		conn, ok := h.conns[connID]
		if !ok {
			continue
		}
		select {
		case conn.send <- payload:
		default:
			h.logger.Warn("ws send buffer full, dropping message", "connId", connID, "matchId", matchID)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every socket. Each read pump then runs its own teardown,
// so an in-flight snapshot send never hits a closed channel.
func (h *Hub) Shutdown(_ context.Context) {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.sock.Close()
	}
}

func (h *Hub) readPump(ctx context.Context, conn *wsConn) {
	defer h.drop(conn)

	conn.sock.SetReadLimit(maxMsgSize)
	conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read error", "connId", conn.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("ws malformed client message", "connId", conn.id, "error", err)
			continue
		}
		h.dispatch(ctx, conn, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *wsConn, msg ClientMessage) {
	switch msg.Type {
	case MsgSubscribeMatch:
		if msg.MatchID != "" {
			h.registry.Subscribe(conn.id, msg.MatchID)
		}
	case MsgUnsubscribeMatch:
		h.registry.Unsubscribe(conn.id, msg.MatchID)
	case MsgRequestInplay:
		h.sendInplaySnapshot(ctx, conn)
	default:
		h.logger.Warn("ws unknown message type", "connId", conn.id, "type", msg.Type)
	}
}

// sendInplaySnapshot pushes one match_update per live fixture to a single
// connection, so a reconnecting client can rebuild its in-play view.
func (h *Hub) sendInplaySnapshot(ctx context.Context, conn *wsConn) {
	if h.matches == nil {
		return
	}
	live, err := h.matches.ListMatches(ctx, true)
	if err != nil {
		h.logger.Error("ws inplay snapshot failed", "connId", conn.id, "error", err)
		return
	}
	for i := range live {
		msg := domain.DeltaMessage{
			Type:      domain.UpdateMatch,
			MatchID:   live[i].ID.String(),
			Data:      &live[i],
			Timestamp: time.Now(),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case conn.send <- payload:
		default:
			return
		}
	}
}

func (h *Hub) writePump(conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.sock.Close()
	}()

	for {
		select {
		case payload, ok := <-conn.send:
			conn.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop tears a connection down: all its subscriptions go first, then the
// send channel, so Broadcast can never write to a closed channel.
func (h *Hub) drop(conn *wsConn) {
	h.registry.RemoveConnection(conn.id)

	h.mu.Lock()
	if _, ok := h.conns[conn.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.id)
	close(conn.send)
	h.mu.Unlock()

	conn.sock.Close()
	h.logger.Info("ws disconnected", "connId", conn.id)
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
