// internal/fetch/types.go
package fetch

import (
	"context"
	"time"

	"github.com/velcourt/pageharvest/pkg/types"
)

// Classification buckets one fetch attempt's outcome
type Classification string

const (
	OutcomeSuccess   Classification = "success"
	OutcomeTimeout   Classification = "timeout"
	OutcomeRefused   Classification = "refused"
	OutcomeHTTPError Classification = "http_error"
	OutcomeDefense   Classification = "defense_detected"
)

// proxyAttributable reports whether a failure is connection-level and so
// justifies rotating to a fresh proxy before the next attempt.
func (c Classification) proxyAttributable() bool {
	return c == OutcomeTimeout || c == OutcomeRefused
}

// Attempt describes a single page fetch attempt. Attempts are ephemeral:
// consumed by the pipeline's retry decision and the page's aggregate
// result, never persisted.
type Attempt struct {
	URL        string
	ProxyAddr  string
	Outcome    Classification
	StatusCode int
	Latency    time.Duration
	Response   *types.RawDocument
	Err        error
}

// Fetcher is the pluggable fetch capability. Implementations own the
// actual browser/HTTP execution and anti-fingerprinting technique; the
// pipeline only orchestrates them.
type Fetcher interface {
	FetchRaw(ctx context.Context, url, proxyAddr string, profile types.FetchProfile) (*types.RawDocument, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, url, proxyAddr string, profile types.FetchProfile) (*types.RawDocument, error)

// FetchRaw implements Fetcher
func (f FetcherFunc) FetchRaw(ctx context.Context, url, proxyAddr string, profile types.FetchProfile) (*types.RawDocument, error) {
	return f(ctx, url, proxyAddr, profile)
}

// Config tunes pipeline behavior not carried by the per-template profile
type Config struct {
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	DefenseRetries  int           `yaml:"defense_retries" json:"defense_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffCap      time.Duration `yaml:"backoff_cap" json:"backoff_cap"`
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// applyDefaults fills in missing configuration values
func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DefenseRetries <= 0 {
		c.DefenseRetries = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 8
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = time.Minute
	}
}
