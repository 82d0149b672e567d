// internal/proxy/types.go
package proxy

import (
	"time"
)

// State represents the health state of a proxy entry
type State string

const (
	StateActive      State = "active"
	StateCoolingDown State = "cooling_down"
	StateBlacklisted State = "blacklisted"
)

// SelectionPolicy determines how acquire picks among active entries
type SelectionPolicy string

const (
	PolicyRoundRobin  SelectionPolicy = "round_robin"
	PolicyRandom      SelectionPolicy = "random"
	PolicyPerformance SelectionPolicy = "performance"
)

// IsValid checks if the selection policy is a known value
func (p SelectionPolicy) IsValid() bool {
	return p == PolicyRoundRobin || p == PolicyRandom || p == PolicyPerformance
}

// Outcome reports the result of one fetch attempt through a proxy
type Outcome struct {
	Success bool
	Latency time.Duration
}

// Entry tracks one proxy endpoint: rolling counters, latency, state and
// recency. Entries are never removed from the pool, only demoted and
// promoted between states.
type Entry struct {
	Address string

	successes           int64
	failures            int64
	consecutiveFailures int
	coolingCycles       int
	avgLatency          time.Duration
	state               State
	cooldownUntil       time.Time
	lastUsed            time.Time
	lastOutcome         time.Time
	lastUsedByDomain    map[string]time.Time
}

// SuccessRate returns the rolling success rate in [0,1]; entries with no
// history score 1 so fresh proxies are tried first.
func (e *Entry) SuccessRate() float64 {
	total := e.successes + e.failures
	if total == 0 {
		return 1.0
	}
	return float64(e.successes) / float64(total)
}

// State returns the entry's current health state
func (e *Entry) State() State { return e.state }

// AverageLatency returns the exponentially smoothed latency
func (e *Entry) AverageLatency() time.Duration { return e.avgLatency }

// Config configures pool behavior. Thresholds and cooldowns are
// configuration inputs, never hardcoded by the pool.
type Config struct {
	Addresses         []string        `yaml:"addresses" json:"addresses"`
	Policy            SelectionPolicy `yaml:"policy" json:"policy"`
	FailureThreshold  int             `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown          time.Duration   `yaml:"cooldown" json:"cooldown"`
	BlacklistAfter    int             `yaml:"blacklist_after,omitempty" json:"blacklist_after,omitempty"`
	BlacklistCooldown time.Duration   `yaml:"blacklist_cooldown,omitempty" json:"blacklist_cooldown,omitempty"`
	DomainReuseGap    time.Duration   `yaml:"domain_reuse_gap,omitempty" json:"domain_reuse_gap,omitempty"`
	AcquireTimeout    time.Duration   `yaml:"acquire_timeout,omitempty" json:"acquire_timeout,omitempty"`
	RecencyHalfLife   time.Duration   `yaml:"recency_half_life,omitempty" json:"recency_half_life,omitempty"`
}

// applyDefaults fills in missing configuration values
func (c *Config) applyDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyPerformance
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.BlacklistAfter <= 0 {
		c.BlacklistAfter = 3
	}
	if c.BlacklistCooldown <= 0 {
		c.BlacklistCooldown = 30 * time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = 10 * time.Minute
	}
}

// Stats aggregates pool health for observability
type Stats struct {
	Total       int     `json:"total"`
	Active      int     `json:"active"`
	CoolingDown int     `json:"cooling_down"`
	Blacklisted int     `json:"blacklisted"`
	SuccessRate float64 `json:"success_rate"`
}
