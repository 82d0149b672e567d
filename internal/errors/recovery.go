// internal/errors/recovery.go - Retry backoff and circuit breaker primitives
package errors

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig defines exponential backoff behavior
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	Jitter        float64       `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// DefaultRetryConfig returns production-safe retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     2 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      time.Minute,
		Jitter:        0.2,
	}
}

// DelayFor returns the backoff delay for the given zero-based attempt,
// capped at MaxDelay and spread by the configured jitter fraction.
func (rc RetryConfig) DelayFor(attempt int) time.Duration {
	delay := float64(rc.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= rc.BackoffFactor
		if time.Duration(delay) >= rc.MaxDelay {
			delay = float64(rc.MaxDelay)
			break
		}
	}
	if rc.Jitter > 0 {
		spread := delay * rc.Jitter
		delay = delay - spread/2 + rand.Float64()*spread
	}
	if d := time.Duration(delay); d < rc.MaxDelay {
		return d
	}
	return rc.MaxDelay
}

// Sleep waits for the attempt's backoff delay or until the context is
// cancelled, whichever comes first.
func (rc RetryConfig) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(rc.DelayFor(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the string representation of a breaker state
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after MaxFailures consecutive failures and rejects
// attempts until ResetTimeout elapses, then allows a single probe.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker in the closed state
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// Allow reports whether an attempt may proceed. In the open state it
// returns a CircuitOpenError until the reset timeout elapses, at which
// point the breaker moves to half-open and admits one probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		elapsed := time.Since(cb.lastFailure)
		if elapsed >= cb.resetTimeout {
			cb.state = BreakerHalfOpen
			return nil
		}
		return &CircuitOpenError{Domain: cb.name, RetryAfter: cb.resetTimeout - elapsed}
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = BreakerClosed
}

// RecordFailure counts a failure; the breaker opens when the count
// reaches the threshold or a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
