package guard

import (
	"sync"
	"time"
)

// CircuitState represents the state of the feed circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// FeedBreaker is a circuit breaker in front of the upstream fixture feed.
// After failThreshold consecutive fetch failures it opens and scheduled
// passes are skipped cheaply until resetTimeout elapses; the next attempt
// then probes half-open.
type FeedBreaker struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	lastFailure   time.Time
	failThreshold int
	resetTimeout  time.Duration
}

// NewFeedBreaker creates a feed circuit breaker with the given thresholds.
func NewFeedBreaker(failThreshold int, resetTimeout time.Duration) *FeedBreaker {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = time.Minute
	}
	return &FeedBreaker{
		state:         CircuitClosed,
		failThreshold: failThreshold,
		resetTimeout:  resetTimeout,
	}
}

// Allow reports whether a fetch may proceed.
func (b *FeedBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *FeedBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// A half-open probe failing reopens immediately.
func (b *FeedBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	if b.state == CircuitHalfOpen || b.failures >= b.failThreshold {
		b.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (b *FeedBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
