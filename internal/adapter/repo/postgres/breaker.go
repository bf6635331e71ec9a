package postgres

import (
	"log/slog"
	"sync"
	"time"
)

// breakerState follows the classic closed -> open -> half-open cycle.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the store-wide circuit breaker: opens after maxFailures
// consecutive failures, stays open for openFor, then admits trial calls.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	openFor     time.Duration

	state       breakerState
	failures    int
	openedAt    time.Time
	now         func() time.Time
}

// NewBreaker builds a breaker with the store defaults: five consecutive
// failures open the circuit for 30 seconds.
func NewBreaker() *Breaker {
	return &Breaker{maxFailures: 5, openFor: 30 * time.Second, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open once the timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.openFor {
			b.state = stateHalfOpen
			slog.Info("store circuit breaker half-open", slog.Duration("open_for", b.openFor))
			return true
		}
		return false
	}
	return false
}

// Success resets the failure count and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateClosed {
		slog.Info("store circuit breaker closed", slog.String("from", b.state.String()))
	}
	b.state = stateClosed
	b.failures = 0
}

// Failure records a failed call, opening the circuit at the threshold. A
// half-open trial failure reopens immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		if b.state != stateOpen {
			slog.Warn("store circuit breaker open",
				slog.Int("consecutive_failures", b.failures),
				slog.Duration("open_for", b.openFor))
		}
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// State returns the current state label for /health.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
