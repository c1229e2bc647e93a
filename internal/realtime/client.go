package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oddsline/platform/internal/domain"
)

// Connection manager errors.
var (
	ErrNoCredential  = errors.New("realtime: connection token required")
	ErrAuthFailed    = errors.New("realtime: authentication failed")
	ErrMaxReconnects = errors.New("realtime: max reconnect attempts reached")
)

// ConnState is the connection manager's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientConfig configures a ConnManager. Token is mandatory: the credential
// is attached at handshake time, never per message.
type ClientConfig struct {
	URL                  string
	Token                string
	BaseDelay            time.Duration // first backoff delay; doubles per attempt
	MaxDelay             time.Duration // backoff cap
	MaxReconnectAttempts int
	Logger               *slog.Logger
}

// wireConn is the subset of *websocket.Conn the manager uses.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// dialFunc returns the connection plus the handshake HTTP status (0 if none).
type dialFunc func(ctx context.Context, url string, header http.Header) (wireConn, int, error)

// ConnManager is one logical session against the realtime endpoint. It
// reconnects with exponential backoff after ordinary drops, re-issues every
// subscription on reconnect, and surfaces a terminal error once the attempt
// budget is exhausted. Auth failures are terminal immediately: retrying the
// same bad credential is pointless.
type ConnManager struct {
	cfg  ClientConfig
	dial dialFunc

	mu    sync.Mutex
	sock  wireConn
	subs  map[string]struct{}
	state atomic.Int32

	// writeMu serializes socket writes: callers subscribe from their own
	// goroutines while the read loop replays subscriptions after a
	// reconnect, and the websocket allows only one writer at a time.
	writeMu sync.Mutex

	updates chan domain.DeltaMessage
	done    chan error
	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewConnManager creates a manager for one session. Fails fast without a
// credential; it will never attempt an unauthenticated connect.
func NewConnManager(cfg ClientConfig) (*ConnManager, error) {
	if cfg.Token == "" {
		return nil, ErrNoCredential
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ConnManager{
		cfg:     cfg,
		dial:    gorillaDial,
		subs:    make(map[string]struct{}),
		updates: make(chan domain.DeltaMessage, 64),
		done:    make(chan error, 1),
	}, nil
}

// Connect performs the initial dial and starts the read loop. An auth-failure
// handshake returns ErrAuthFailed; the caller should not retry with the same
// token.
func (m *ConnManager) Connect(ctx context.Context) error {
	m.state.Store(int32(StateConnecting))

	sock, status, err := m.dial(ctx, m.cfg.URL, m.header())
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		if isAuthStatus(status) {
			return ErrAuthFailed
		}
		return err
	}

	m.mu.Lock()
	m.sock = sock
	m.mu.Unlock()
	m.state.Store(int32(StateConnected))
	m.cfg.Logger.Info("realtime connected", "url", m.cfg.URL)

	m.resubscribe()

	m.wg.Add(1)
	go m.readLoop(ctx)
	return nil
}

// Subscribe registers interest in a match for the session's lifetime; it is
// re-issued automatically after every reconnect.
func (m *ConnManager) Subscribe(matchID string) error {
	m.mu.Lock()
	m.subs[matchID] = struct{}{}
	sock := m.sock
	m.mu.Unlock()

	if m.State() != StateConnected || sock == nil {
		return nil
	}
	return m.writeJSON(sock, ClientMessage{Type: MsgSubscribeMatch, MatchID: matchID, Timestamp: time.Now()})
}

// Unsubscribe drops interest in a match.
func (m *ConnManager) Unsubscribe(matchID string) error {
	m.mu.Lock()
	delete(m.subs, matchID)
	sock := m.sock
	m.mu.Unlock()

	if m.State() != StateConnected || sock == nil {
		return nil
	}
	return m.writeJSON(sock, ClientMessage{Type: MsgUnsubscribeMatch, MatchID: matchID, Timestamp: time.Now()})
}

// RequestInplay asks the server for a snapshot of live matches.
func (m *ConnManager) RequestInplay() error {
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if m.State() != StateConnected || sock == nil {
		return errors.New("realtime: not connected")
	}
	return m.writeJSON(sock, ClientMessage{Type: MsgRequestInplay, Timestamp: time.Now()})
}

func (m *ConnManager) writeJSON(sock wireConn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return sock.WriteJSON(v)
}

// Updates streams server deltas. Closed when the manager terminates.
func (m *ConnManager) Updates() <-chan domain.DeltaMessage { return m.updates }

// Done yields the terminal error (ErrMaxReconnects, ErrAuthFailed) when the
// manager gives up, or nil after a clean Close.
func (m *ConnManager) Done() <-chan error { return m.done }

// State returns the current connection state.
func (m *ConnManager) State() ConnState { return ConnState(m.state.Load()) }

// Close shuts the session down and releases the read loop.
func (m *ConnManager) Close() error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *ConnManager) readLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		sock := m.sock
		m.mu.Unlock()
		if sock == nil {
			m.terminate(nil)
			return
		}

		_, data, err := sock.ReadMessage()
		if err != nil {
			if m.closing.Load() || ctx.Err() != nil {
				m.terminate(nil)
				return
			}
			m.cfg.Logger.Warn("realtime connection lost", "error", err)
			if termErr := m.reconnect(ctx); termErr != nil {
				m.terminate(termErr)
				return
			}
			continue
		}

		var msg domain.DeltaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.cfg.Logger.Warn("realtime malformed server message", "error", err)
			continue
		}
		select {
		case m.updates <- msg:
		default:
			// consumer lagging; drop, the next resync catches it up
		}
	}
}

// reconnect retries with exponential backoff. Returns nil once reconnected,
// or the terminal error after the attempt budget is spent.
func (m *ConnManager) reconnect(ctx context.Context) error {
	m.state.Store(int32(StateConnecting))
	delay := m.cfg.BaseDelay

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if m.closing.Load() {
			return nil
		}

		sock, status, err := m.dial(ctx, m.cfg.URL, m.header())
		if err == nil {
			m.mu.Lock()
			m.sock = sock
			m.mu.Unlock()
			m.state.Store(int32(StateConnected))
			m.cfg.Logger.Info("realtime reconnected", "attempt", attempt)
			m.resubscribe()
			return nil
		}
		if isAuthStatus(status) {
			return ErrAuthFailed
		}

		m.cfg.Logger.Warn("realtime reconnect failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > m.cfg.MaxDelay {
			delay = m.cfg.MaxDelay
		}
	}
	return ErrMaxReconnects
}

// resubscribe replays every subscription; server-side registry state does not
// survive the previous connection.
func (m *ConnManager) resubscribe() {
	m.mu.Lock()
	sock := m.sock
	matches := make([]string, 0, len(m.subs))
	for matchID := range m.subs {
		matches = append(matches, matchID)
	}
	m.mu.Unlock()

	if sock == nil {
		return
	}
	for _, matchID := range matches {
		if err := m.writeJSON(sock, ClientMessage{Type: MsgSubscribeMatch, MatchID: matchID, Timestamp: time.Now()}); err != nil {
			m.cfg.Logger.Warn("realtime resubscribe failed", "matchId", matchID, "error", err)
			return
		}
	}
}

func (m *ConnManager) terminate(err error) {
	m.state.Store(int32(StateDisconnected))
	select {
	case m.done <- err:
	default:
	}
	close(m.updates)
}

func (m *ConnManager) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.cfg.Token)
	return h
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func gorillaDial(ctx context.Context, url string, header http.Header) (wireConn, int, error) {
	sock, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return nil, status, err
	}
	return sock, status, nil
}
