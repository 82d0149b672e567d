// internal/fetch/pipeline.go
package fetch

import (
	"context"
	stderrors "errors"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/velcourt/pageharvest/internal/errors"
	"github.com/velcourt/pageharvest/internal/monitoring"
	"github.com/velcourt/pageharvest/internal/proxy"
	"github.com/velcourt/pageharvest/internal/utils"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Pipeline performs page fetch attempts through the pluggable fetch
// capability: it paces requests per domain, detects automated-traffic
// defenses, rotates proxies, and retries with exponential backoff.
type Pipeline struct {
	fetcher  Fetcher
	pool     *proxy.Pool
	detector Detector
	config   Config
	logger   utils.Logger
	metrics  *monitoring.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*errors.CircuitBreaker
}

// NewPipeline creates a fetch pipeline. A nil detector uses the default
// heuristics.
func NewPipeline(fetcher Fetcher, pool *proxy.Pool, detector Detector, config Config) *Pipeline {
	config.applyDefaults()
	if detector == nil {
		detector = DefaultDetector
	}
	return &Pipeline{
		fetcher:  fetcher,
		pool:     pool,
		detector: detector,
		config:   config,
		logger:   utils.NewComponentLogger("fetch"),
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*errors.CircuitBreaker),
	}
}

// SetMetrics attaches Prometheus collectors. Optional; a nil receiver
// field just skips observation.
func (p *Pipeline) SetMetrics(m *monitoring.Metrics) { p.metrics = m }

// Fetch retrieves one page. Retries are local and silent up to the
// budget; exhaustion and persistent defense detection surface as typed
// errors alongside the last attempt, for the caller to record.
func (p *Pipeline) Fetch(ctx context.Context, pageURL string, profile types.FetchProfile) (*Attempt, error) {
	domain, err := domainOf(pageURL)
	if err != nil {
		return nil, err
	}

	breaker := p.breakerFor(domain)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	entry, err := p.pool.Acquire(ctx, domain)
	if err != nil {
		return nil, err
	}

	retries := 0
	defenseHits := 0
	totalAttempts := 0
	var last *Attempt

	for {
		if err := p.pause(ctx, domain, profile); err != nil {
			return last, err
		}

		attempt := p.attempt(ctx, pageURL, entry.Address, profile)
		totalAttempts++
		last = attempt

		p.pool.Report(entry, proxy.Outcome{
			Success: attempt.Outcome == OutcomeSuccess,
			Latency: attempt.Latency,
		})

		switch attempt.Outcome {
		case OutcomeSuccess:
			breaker.RecordSuccess()
			return attempt, nil

		case OutcomeDefense:
			// Never retry a detected defense on the same proxy.
			defenseHits++
			if p.metrics != nil {
				p.metrics.ObserveDefense(reasonOf(attempt))
			}
			if defenseHits > p.defenseRetries(profile) {
				breaker.RecordFailure()
				return attempt, &errors.DefenseDetectedError{
					URL:        pageURL,
					ReasonCode: reasonOf(attempt),
					ProxyAddr:  attempt.ProxyAddr,
				}
			}
			entry, err = p.pool.Acquire(ctx, domain, attempt.ProxyAddr)
			if err != nil {
				breaker.RecordFailure()
				// With no different proxy to rotate to, the defense
				// detection is the failure worth surfacing.
				if errors.IsNoProxyAvailable(err) {
					return attempt, &errors.DefenseDetectedError{
						URL:        pageURL,
						ReasonCode: reasonOf(attempt),
						ProxyAddr:  attempt.ProxyAddr,
					}
				}
				return attempt, err
			}

		default:
			retries++
			if p.metrics != nil {
				p.metrics.ObserveRetry(string(attempt.Outcome))
			}
			if retries > p.maxRetries(profile) {
				breaker.RecordFailure()
				return attempt, &errors.FetchExhaustedError{
					URL:      pageURL,
					Attempts: totalAttempts,
					Last:     attempt.Err,
				}
			}
			if err := p.backoff(ctx, retries-1, profile); err != nil {
				return attempt, err
			}
			if attempt.Outcome.proxyAttributable() {
				entry, err = p.pool.Acquire(ctx, domain)
				if err != nil {
					breaker.RecordFailure()
					return attempt, err
				}
			}
		}
	}
}

// attempt performs one fetch and classifies the result
func (p *Pipeline) attempt(ctx context.Context, pageURL, proxyAddr string, profile types.FetchProfile) *Attempt {
	start := time.Now()
	raw, err := p.fetcher.FetchRaw(ctx, pageURL, proxyAddr, profile)
	latency := time.Since(start)

	attempt := &Attempt{
		URL:       pageURL,
		ProxyAddr: proxyAddr,
		Latency:   latency,
	}

	if err != nil {
		attempt.Err = err
		attempt.Outcome = classifyNetworkError(err)
		return attempt
	}

	raw.Latency = latency
	raw.ProxyAddr = proxyAddr
	attempt.Response = raw
	attempt.StatusCode = raw.StatusCode

	if detected, reason := p.detector(raw); detected {
		attempt.Outcome = OutcomeDefense
		attempt.Err = &errors.DefenseDetectedError{URL: pageURL, ReasonCode: reason, ProxyAddr: proxyAddr}
		return attempt
	}

	if raw.StatusCode >= 400 {
		attempt.Outcome = OutcomeHTTPError
		return attempt
	}

	attempt.Outcome = OutcomeSuccess
	return attempt
}

// pause applies the per-domain pacing limiter and a jittered pre-request
// delay drawn from the profile's range, so request intervals never form
// a fixed fingerprint.
func (p *Pipeline) pause(ctx context.Context, domain string, profile types.FetchProfile) error {
	if profile.DelayMin > 0 {
		if err := p.limiterFor(domain, profile).Wait(ctx); err != nil {
			return err
		}
	}
	jitterRange := profile.DelayMax - profile.DelayMin
	if jitterRange <= 0 {
		return nil
	}
	delay := time.Duration(rand.Int63n(int64(jitterRange)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff sleeps base*2^attempt capped at the configured maximum
func (p *Pipeline) backoff(ctx context.Context, attempt int, profile types.FetchProfile) error {
	base := profile.BackoffBase
	if base <= 0 {
		base = p.config.BackoffBase
	}
	maxDelay := profile.BackoffCap
	if maxDelay <= 0 {
		maxDelay = p.config.BackoffCap
	}
	rc := errors.RetryConfig{BaseDelay: base, BackoffFactor: 2.0, MaxDelay: maxDelay}
	return rc.Sleep(ctx, attempt)
}

func (p *Pipeline) maxRetries(profile types.FetchProfile) int {
	if profile.MaxRetries > 0 {
		return profile.MaxRetries
	}
	return p.config.MaxRetries
}

func (p *Pipeline) defenseRetries(profile types.FetchProfile) int {
	if profile.DefenseRetries > 0 {
		return profile.DefenseRetries
	}
	return p.config.DefenseRetries
}

// limiterFor returns the domain's shared pacer, retuned to the requesting
// profile's interval so templates with different delay ranges are not
// stuck with whichever profile reached the domain first.
func (p *Pipeline) limiterFor(domain string, profile types.FetchProfile) *rate.Limiter {
	interval := profile.DelayMin
	if interval <= 0 {
		interval = time.Second
	}
	limit := rate.Every(interval)

	p.mu.Lock()
	defer p.mu.Unlock()
	if lim, ok := p.limiters[domain]; ok {
		if lim.Limit() != limit {
			lim.SetLimit(limit)
		}
		return lim
	}
	lim := rate.NewLimiter(limit, 1)
	p.limiters[domain] = lim
	return lim
}

func (p *Pipeline) breakerFor(domain string) *errors.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[domain]; ok {
		return cb
	}
	cb := errors.NewCircuitBreaker(domain, p.config.BreakerFailures, p.config.BreakerReset)
	p.breakers[domain] = cb
	return cb
}

// classifyNetworkError buckets transport errors into the attempt taxonomy
func classifyNetworkError(err error) Classification {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	// Connection refused, resets and DNS failures are all
	// proxy-attributable connection-level failures.
	return OutcomeRefused
}

func reasonOf(attempt *Attempt) string {
	var de *errors.DefenseDetectedError
	if stderrors.As(attempt.Err, &de) {
		return de.ReasonCode
	}
	return errors.ReasonCustomDetector
}

func domainOf(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", &errors.InvalidJobError{Reason: "malformed page URL " + pageURL}
	}
	return u.Hostname(), nil
}
