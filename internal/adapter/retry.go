package adapter

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetrySupervisorConfig tunes reconnect backoff. Zero values fall back to
// DefaultRetryConfig.
type RetrySupervisorConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterFrac    float64
	MaxRetries    int
}

// DefaultRetryConfig matches the federation engine's documented defaults.
func DefaultRetryConfig() RetrySupervisorConfig {
	return RetrySupervisorConfig{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		JitterFrac: 0.1,
		MaxRetries: 3,
	}
}

func (c RetrySupervisorConfig) withDefaults() RetrySupervisorConfig {
	d := DefaultRetryConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JitterFrac <= 0 {
		c.JitterFrac = d.JitterFrac
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// retrySupervisor schedules reconnect attempts with exponential backoff
// and jitter, delegating the interval arithmetic to
// github.com/cenkalti/backoff/v5's ExponentialBackOff so the gateway does
// not hand-roll its own jittered-exponential math.
type retrySupervisor struct {
	cfg     RetrySupervisorConfig
	backoff *backoff.ExponentialBackOff
	attempt int
}

func newRetrySupervisor(cfg RetrySupervisorConfig) *retrySupervisor {
	cfg = cfg.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = cfg.JitterFrac
	return &retrySupervisor{cfg: cfg, backoff: b}
}

// exhausted reports whether the supervisor has already made MaxRetries
// unsuccessful attempts in the current recovery cycle.
func (s *retrySupervisor) exhausted() bool {
	return s.attempt >= s.cfg.MaxRetries
}

// next returns the delay before the next reconnect attempt and advances
// the attempt counter. Call reset() first at the start of each recovery
// cycle.
func (s *retrySupervisor) next() time.Duration {
	d := s.backoff.NextBackOff()
	s.attempt++
	return d
}

// reset zeroes the attempt counter and the underlying backoff state; call
// on every successful (re)connect.
func (s *retrySupervisor) reset() {
	s.attempt = 0
	s.backoff.Reset()
}
