// internal/proxy/pool.go
package proxy

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/velcourt/pageharvest/internal/errors"
	"github.com/velcourt/pageharvest/internal/utils"
)

// Pool tracks a set of proxy endpoints and selects one per fetch attempt.
// It is a synchronized resource object passed by reference to every job,
// never a process-wide singleton, so independent pools can coexist.
type Pool struct {
	config *Config
	logger utils.Logger

	mu      sync.Mutex
	entries []*Entry
	rrIndex int
	nowFn   func() time.Time
}

// NewPool creates a pool from configuration. The entry set is fixed at
// construction; entries move between states but are never removed.
func NewPool(config *Config) *Pool {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	entries := make([]*Entry, 0, len(config.Addresses))
	for _, addr := range config.Addresses {
		entries = append(entries, &Entry{
			Address:          addr,
			state:            StateActive,
			lastUsedByDomain: make(map[string]time.Time),
		})
	}

	return &Pool{
		config:  config,
		logger:  utils.NewComponentLogger("proxy-pool"),
		entries: entries,
		nowFn:   time.Now,
	}
}

// Acquire returns the best active entry not recently used for the given
// domain. Entries whose address appears in exclude are never returned;
// callers pass the address of a proxy that was just flagged so rotation
// cannot hand it back. When nothing is eligible it waits, bounded by
// AcquireTimeout, then fails with NoProxyAvailableError.
func (p *Pool) Acquire(ctx context.Context, domain string, exclude ...string) (*Entry, error) {
	deadline := time.Now().Add(p.config.AcquireTimeout)

	for {
		p.mu.Lock()
		p.sweepLocked()
		entry := p.selectLocked(domain, exclude)
		if entry != nil {
			now := p.now()
			entry.lastUsed = now
			entry.lastUsedByDomain[domain] = now
			p.mu.Unlock()
			return entry, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, &errors.NoProxyAvailableError{
				Domain: domain,
				Waited: p.config.AcquireTimeout,
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Report updates an entry's rolling counters after a fetch attempt.
// Reaching the consecutive-failure threshold demotes the entry to
// cooling-down; repeated cooldown cycles without a success demote it
// further to blacklisted with a longer deadline.
func (p *Pool) Report(entry *Entry, outcome Outcome) {
	if entry == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	entry.lastOutcome = now

	if outcome.Latency > 0 {
		if entry.avgLatency == 0 {
			entry.avgLatency = outcome.Latency
		} else {
			// exponential smoothing, alpha 0.3
			entry.avgLatency = time.Duration(0.7*float64(entry.avgLatency) + 0.3*float64(outcome.Latency))
		}
	}

	if outcome.Success {
		entry.successes++
		entry.consecutiveFailures = 0
		entry.coolingCycles = 0
		if entry.state != StateActive && now.After(entry.cooldownUntil) {
			entry.state = StateActive
		}
		return
	}

	entry.failures++
	entry.consecutiveFailures++

	if entry.state == StateActive && entry.consecutiveFailures >= p.config.FailureThreshold {
		entry.coolingCycles++
		if entry.coolingCycles >= p.config.BlacklistAfter {
			entry.state = StateBlacklisted
			entry.cooldownUntil = now.Add(p.config.BlacklistCooldown)
			p.logger.Warnf("proxy %s blacklisted after %d cooldown cycles", entry.Address, entry.coolingCycles)
		} else {
			entry.state = StateCoolingDown
			entry.cooldownUntil = now.Add(p.config.Cooldown)
			p.logger.Infof("proxy %s cooling down until %s", entry.Address, entry.cooldownUntil.Format(time.RFC3339))
		}
	}
}

// Stats returns aggregate pool counts for observability
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{Total: len(p.entries)}
	var successes, failures int64
	for _, e := range p.entries {
		switch e.state {
		case StateActive:
			stats.Active++
		case StateCoolingDown:
			stats.CoolingDown++
		case StateBlacklisted:
			stats.Blacklisted++
		}
		successes += e.successes
		failures += e.failures
	}
	if successes+failures > 0 {
		stats.SuccessRate = float64(successes) / float64(successes+failures)
	}
	return stats
}

// Entries returns a snapshot of all entries. Intended for tests and
// observability endpoints.
func (p *Pool) Entries() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make([]*Entry, len(p.entries))
	copy(snapshot, p.entries)
	return snapshot
}

func (p *Pool) now() time.Time { return p.nowFn() }

// sweepLocked promotes entries whose cooldown deadline has passed back to
// active. Invoked opportunistically on each acquire.
func (p *Pool) sweepLocked() {
	now := p.now()
	for _, e := range p.entries {
		if e.state != StateActive && now.After(e.cooldownUntil) {
			e.state = StateActive
			e.consecutiveFailures = 0
		}
	}
}

// selectLocked applies the configured selection policy over active
// entries that have not served the domain within the reuse gap.
func (p *Pool) selectLocked(domain string, exclude []string) *Entry {
	eligible := p.eligibleLocked(domain, exclude)
	if len(eligible) == 0 {
		return nil
	}

	switch p.config.Policy {
	case PolicyRandom:
		return eligible[rand.Intn(len(eligible))]
	case PolicyPerformance:
		return p.bestByQualityLocked(eligible)
	default: // round robin
		p.rrIndex = (p.rrIndex + 1) % len(eligible)
		return eligible[p.rrIndex]
	}
}

func (p *Pool) eligibleLocked(domain string, exclude []string) []*Entry {
	now := p.now()
	var eligible []*Entry
	for _, e := range p.entries {
		if e.state != StateActive {
			continue
		}
		if excluded(exclude, e.Address) {
			continue
		}
		if p.config.DomainReuseGap > 0 {
			if last, ok := e.lastUsedByDomain[domain]; ok && now.Sub(last) < p.config.DomainReuseGap {
				continue
			}
		}
		eligible = append(eligible, e)
	}
	return eligible
}

func excluded(exclude []string, address string) bool {
	for _, addr := range exclude {
		if addr == address {
			return true
		}
	}
	return false
}

// bestByQualityLocked picks the highest-quality entry. Quality is the
// recency-weighted success rate divided by average latency; ties break
// to the least recently used entry.
func (p *Pool) bestByQualityLocked(eligible []*Entry) *Entry {
	best := eligible[0]
	bestQ := p.qualityLocked(best)
	for _, e := range eligible[1:] {
		q := p.qualityLocked(e)
		if q > bestQ || (q == bestQ && e.lastUsed.Before(best.lastUsed)) {
			best = e
			bestQ = q
		}
	}
	return best
}

// qualityLocked scores an entry. The success rate decays toward a
// neutral 0.5 as its last outcome ages, so stale history neither
// condemns nor anoints an entry.
func (p *Pool) qualityLocked(e *Entry) float64 {
	weight := 1.0
	if !e.lastOutcome.IsZero() {
		age := p.now().Sub(e.lastOutcome)
		weight = math.Exp2(-float64(age) / float64(p.config.RecencyHalfLife))
	}
	weighted := e.SuccessRate()*weight + 0.5*(1-weight)
	latencySec := e.avgLatency.Seconds()
	if latencySec < 0.001 {
		latencySec = 0.001
	}
	return weighted / latencySec
}
