package adapter

import (
	"sync"
	"time"
)

// BreakerState is one of the circuit breaker's three states.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the breaker's thresholds. Zero values are replaced
// with the defaults from DefaultBreakerConfig.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	VolumeThreshold  int
}

// DefaultBreakerConfig matches the federation engine's documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		VolumeThreshold:  10,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = d.VolumeThreshold
	}
	return c
}

// CircuitBreaker guards one adapter's outbound requests. Closed passes
// everything through; Open rejects immediately; HalfOpen passes through
// while watching for consecutive successes. All counters are touched only
// from the adapter's own goroutines (the writer/reader pair), so the
// mutex here is cheap insurance, not a real contention point.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	consecutiveSuccess  int
	totalRequests       int
	lastStateChange     time.Time
}

// NewCircuitBreaker constructs a breaker starting in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:             cfg.withDefaults(),
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a new request may cross the transport right now.
// Calling Allow also performs the open -> half-open transition when the
// recovery timeout has elapsed, since that transition only happens "on the
// first request received after" the timeout.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.lastStateChange) >= b.cfg.RecoveryTimeout {
			b.transitionLocked(BreakerHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess registers a successful request outcome.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.consecutiveFailures = 0
	b.consecutiveSuccess++

	if b.state == BreakerHalfOpen && b.consecutiveSuccess >= b.cfg.SuccessThreshold {
		b.transitionLocked(BreakerClosed)
	}
}

// RecordFailure registers a failed request outcome.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.consecutiveSuccess = 0
	b.consecutiveFailures++

	switch b.state {
	case BreakerHalfOpen:
		b.transitionLocked(BreakerOpen)
	case BreakerClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold && b.totalRequests >= b.cfg.VolumeThreshold {
			b.transitionLocked(BreakerOpen)
		}
	}
}

func (b *CircuitBreaker) transitionLocked(to BreakerState) {
	b.state = to
	b.lastStateChange = time.Now()
	if to == BreakerClosed {
		b.consecutiveFailures = 0
	}
	if to == BreakerOpen || to == BreakerClosed {
		b.consecutiveSuccess = 0
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's counters for admin/status surfaces.
type BreakerSnapshot struct {
	State               BreakerState
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	TotalRequests       int
	LastStateChange     time.Time
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		ConsecutiveSuccess:  b.consecutiveSuccess,
		TotalRequests:       b.totalRequests,
		LastStateChange:     b.lastStateChange,
	}
}
