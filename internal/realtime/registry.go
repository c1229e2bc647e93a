package realtime

import (
	"sync"
	"time"
)

// Registry tracks which connections are subscribed to which matches. The
// match→connections and connection→matches indexes are kept consistent under
// a single lock. Pure process-lifetime state: clients re-subscribe after
// reconnect, nothing here survives a restart.
type Registry struct {
	mu      sync.RWMutex
	byMatch map[string]map[string]struct{}
	byConn  map[string]map[string]time.Time // matchID -> subscribedAt
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		byMatch: make(map[string]map[string]struct{}),
		byConn:  make(map[string]map[string]time.Time),
	}
}

// Subscribe registers interest of a connection in a match. Idempotent.
func (r *Registry) Subscribe(connID, matchID string) {
	if connID == "" || matchID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byMatch[matchID] == nil {
		r.byMatch[matchID] = make(map[string]struct{})
	}
	r.byMatch[matchID][connID] = struct{}{}

	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[string]time.Time)
	}
	if _, ok := r.byConn[connID][matchID]; !ok {
		r.byConn[connID][matchID] = time.Now()
	}
}

// Unsubscribe removes one connection's interest in one match.
func (r *Registry) Unsubscribe(connID, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(connID, matchID)
}

// RemoveConnection drops every subscription held by the connection, returning
// the match IDs it was subscribed to. Called on disconnect.
func (r *Registry) RemoveConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]string, 0, len(r.byConn[connID]))
	for matchID := range r.byConn[connID] {
		matches = append(matches, matchID)
	}
	for _, matchID := range matches {
		r.dropLocked(connID, matchID)
	}
	return matches
}

// Subscribers returns the connection IDs subscribed to a match.
func (r *Registry) Subscribers(matchID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byMatch[matchID]
	out := make([]string, 0, len(conns))
	for connID := range conns {
		out = append(out, connID)
	}
	return out
}

// Matches returns the match IDs a connection is subscribed to.
func (r *Registry) Matches(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byConn[connID]))
	for matchID := range r.byConn[connID] {
		out = append(out, matchID)
	}
	return out
}

// SubscriberCount returns how many connections follow a match.
func (r *Registry) SubscriberCount(matchID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMatch[matchID])
}

func (r *Registry) dropLocked(connID, matchID string) {
	if conns, ok := r.byMatch[matchID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byMatch, matchID)
		}
	}
	if matches, ok := r.byConn[connID]; ok {
		delete(matches, matchID)
		if len(matches) == 0 {
			delete(r.byConn, connID)
		}
	}
}
