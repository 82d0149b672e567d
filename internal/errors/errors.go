// internal/errors/errors.go - Typed error taxonomy for the harvest core
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// InvalidJobError rejects a job before execution: bad URL, missing or
// malformed template.
type InvalidJobError struct {
	JobID  string
	Reason string
}

func (e *InvalidJobError) Error() string {
	return fmt.Sprintf("invalid job %s: %s", e.JobID, e.Reason)
}

// NoProxyAvailableError signals pool exhaustion after the bounded
// acquire wait elapsed. Retryable later.
type NoProxyAvailableError struct {
	Domain  string
	Waited  time.Duration
}

func (e *NoProxyAvailableError) Error() string {
	return fmt.Sprintf("no proxy available for %s after waiting %s", e.Domain, e.Waited)
}

// FetchExhaustedError is a page-level error raised when the retry budget
// for a single page is spent. The orchestrator records it and continues.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch of %s exhausted after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Last }

// Defense reason codes distinguish why a page was classified as blocked
const (
	ReasonChallengeMarker = "challenge_marker"
	ReasonStatusPattern   = "status_pattern"
	ReasonCustomDetector  = "custom_detector"
)

// DefenseDetectedError is a page-level error raised when every defense
// retry still hit an automated-traffic defense. The reason code lets
// callers tell "blocked" from "broken".
type DefenseDetectedError struct {
	URL        string
	ReasonCode string
	ProxyAddr  string
}

func (e *DefenseDetectedError) Error() string {
	return fmt.Sprintf("automated-traffic defense detected on %s (reason %s, proxy %s)",
		e.URL, e.ReasonCode, e.ProxyAddr)
}

// ExtractionFieldError is a field-level extraction failure. It never
// aborts a page unless template policy demands abort on required failure.
type ExtractionFieldError struct {
	FieldName string
	Selector  string
	Reason    string
}

func (e *ExtractionFieldError) Error() string {
	return fmt.Sprintf("extraction of field %q failed: %s", e.FieldName, e.Reason)
}

// JobAbortedError is raised internally when a job exceeds its consecutive
// page-failure ceiling and must transition to failed.
type JobAbortedError struct {
	JobID               string
	ConsecutiveFailures int
}

func (e *JobAbortedError) Error() string {
	return fmt.Sprintf("job %s aborted after %d consecutive page failures",
		e.JobID, e.ConsecutiveFailures)
}

// CircuitOpenError is returned when a per-domain circuit breaker rejects
// an attempt without trying the network.
type CircuitOpenError struct {
	Domain     string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Domain, e.RetryAfter)
}

// IsDefenseDetected reports whether err wraps a DefenseDetectedError
func IsDefenseDetected(err error) bool {
	var de *DefenseDetectedError
	return stderrors.As(err, &de)
}

// IsFetchExhausted reports whether err wraps a FetchExhaustedError
func IsFetchExhausted(err error) bool {
	var fe *FetchExhaustedError
	return stderrors.As(err, &fe)
}

// IsNoProxyAvailable reports whether err wraps a NoProxyAvailableError
func IsNoProxyAvailable(err error) bool {
	var ne *NoProxyAvailableError
	return stderrors.As(err, &ne)
}

// IsPageLevel reports whether err is recorded as page data rather than
// propagated as a job failure.
func IsPageLevel(err error) bool {
	return IsDefenseDetected(err) || IsFetchExhausted(err)
}
