// pkg/types/types.go
package types

import (
	"fmt"
	"net/url"
	"time"
)

// JobStatus represents the lifecycle state of a harvest job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// ValidStatuses returns all valid job status values
func ValidStatuses() []JobStatus {
	return []JobStatus{
		StatusPending, StatusQueued, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
}

// IsValid checks if the status is a valid value
func (s JobStatus) IsValid() bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
// Terminal states accept no transitions; paused returns only to running or cancelled.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusQueued || next == StatusCancelled
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusPaused || next == StatusCompleted ||
			next == StatusFailed || next == StatusCancelled
	case StatusPaused:
		return next == StatusRunning || next == StatusCancelled
	default:
		return false
	}
}

// FieldKind represents the extraction kind of a template field
type FieldKind string

const (
	KindText       FieldKind = "text"
	KindAttribute  FieldKind = "attribute"
	KindCollection FieldKind = "collection"
)

// IsValid checks if the field kind is valid
func (k FieldKind) IsValid() bool {
	return k == KindText || k == KindAttribute || k == KindCollection
}

// ProcessRule defines a single post-processing directive applied to an
// extracted value. Rules are applied in order; numeric coercion rules
// change the value type and must appear last.
type ProcessRule struct {
	Type        string                 `yaml:"type" json:"type"`
	Pattern     string                 `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement string                 `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Params      map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// FieldSpec defines one field of a template: the primary selector, its
// ordered fallback selectors, and how the matched value is processed.
type FieldSpec struct {
	Name            string        `yaml:"name" json:"name"`
	Selector        string        `yaml:"selector" json:"selector"`
	Fallbacks       []string      `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
	Kind            FieldKind     `yaml:"kind" json:"kind"`
	Attribute       string        `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	Required        bool          `yaml:"required,omitempty" json:"required,omitempty"`
	AllowEmpty      bool          `yaml:"allow_empty,omitempty" json:"allow_empty,omitempty"`
	RequireNonEmpty bool          `yaml:"require_non_empty,omitempty" json:"require_non_empty,omitempty"`
	PostProcess     []ProcessRule `yaml:"post_process,omitempty" json:"post_process,omitempty"`
}

// PaginationSpec defines how a template traverses result pages
type PaginationSpec struct {
	NextSelector        string  `yaml:"next_selector,omitempty" json:"next_selector,omitempty"`
	NextAttribute       string  `yaml:"next_attribute,omitempty" json:"next_attribute,omitempty"`
	MaxPages            int     `yaml:"max_pages" json:"max_pages"`
	DuplicateWindow     int     `yaml:"duplicate_window,omitempty" json:"duplicate_window,omitempty"`
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty"`
}

// StealthLevel selects which fetch backend a template wants
type StealthLevel string

const (
	StealthPlain   StealthLevel = "plain"   // direct HTTP client
	StealthBrowser StealthLevel = "browser" // headless browser rendering
)

// FetchProfile carries per-template fetch hints: stealth level, delay
// ranges, retry budgets and header material.
type FetchProfile struct {
	Stealth        StealthLevel      `yaml:"stealth,omitempty" json:"stealth,omitempty"`
	DelayMin       time.Duration     `yaml:"delay_min,omitempty" json:"delay_min,omitempty"`
	DelayMax       time.Duration     `yaml:"delay_max,omitempty" json:"delay_max,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries     int               `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	BackoffBase    time.Duration     `yaml:"backoff_base,omitempty" json:"backoff_base,omitempty"`
	BackoffCap     time.Duration     `yaml:"backoff_cap,omitempty" json:"backoff_cap,omitempty"`
	DefenseRetries int               `yaml:"defense_retries,omitempty" json:"defense_retries,omitempty"`
	UserAgents     []string          `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Template is an immutable field/pagination specification bound to a job.
// Jobs reference templates; they never copy or mutate them.
type Template struct {
	Name       string         `yaml:"name" json:"name"`
	Fields     []FieldSpec    `yaml:"fields" json:"fields"`
	Pagination PaginationSpec `yaml:"pagination" json:"pagination"`
	Profile    FetchProfile   `yaml:"profile,omitempty" json:"profile,omitempty"`

	// DiscoverySelector, when set, extracts seed URLs from the start page
	// that are then harvested concurrently within the job.
	DiscoverySelector string `yaml:"discovery_selector,omitempty" json:"discovery_selector,omitempty"`

	// AbortOnRequiredFailure stops field processing for a page as soon as
	// a required field fails all its selectors.
	AbortOnRequiredFailure bool `yaml:"abort_on_required_failure,omitempty" json:"abort_on_required_failure,omitempty"`

	// SuggestedFallbacks holds selector suggestions produced by external
	// enrichment. They are appended to field fallback chains only when
	// TrustSuggestions is set; by default they require human approval.
	SuggestedFallbacks map[string][]string `yaml:"suggested_fallbacks,omitempty" json:"suggested_fallbacks,omitempty"`
	TrustSuggestions   bool                `yaml:"trust_suggestions,omitempty" json:"trust_suggestions,omitempty"`
}

// RequiredFieldCount returns the number of required fields in the template
func (t *Template) RequiredFieldCount() int {
	count := 0
	for _, f := range t.Fields {
		if f.Required {
			count++
		}
	}
	return count
}

// EffectiveFallbacks returns the fallback chain for a field, including
// suggested fallbacks when the template trusts them.
func (t *Template) EffectiveFallbacks(field FieldSpec) []string {
	if !t.TrustSuggestions {
		return field.Fallbacks
	}
	suggested := t.SuggestedFallbacks[field.Name]
	if len(suggested) == 0 {
		return field.Fallbacks
	}
	chain := make([]string, 0, len(field.Fallbacks)+len(suggested))
	chain = append(chain, field.Fallbacks...)
	chain = append(chain, suggested...)
	return chain
}

// RawDocument is the raw outcome of one page fetch, handed to the
// extraction engine. Body is the full response payload.
type RawDocument struct {
	URL        string              `json:"url"`
	StatusCode int                 `json:"status_code"`
	Body       string              `json:"-"`
	Header     map[string][]string `json:"header,omitempty"`
	Latency    time.Duration       `json:"latency"`
	ProxyAddr  string              `json:"proxy_addr,omitempty"`
}

// FieldError records a field-level extraction failure. Field errors are
// data attached to a PageResult, never propagated as job failures.
type FieldError struct {
	FieldName string `json:"field_name"`
	Selector  string `json:"selector"`
	Message   string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s (selector %q)", e.FieldName, e.Message, e.Selector)
}

// PageResult is the product of one fetch/extract cycle
type PageResult struct {
	URL         string                 `json:"url"`
	Success     bool                   `json:"success"`
	Partial     bool                   `json:"partial"`
	Record      map[string]interface{} `json:"record,omitempty"`
	FieldErrors []FieldError           `json:"field_errors,omitempty"`
	Coverage    float64                `json:"coverage"`
	NextURL     string                 `json:"next_url,omitempty"`
	StatusCode  int                    `json:"status_code"`
	Latency     time.Duration          `json:"latency"`
	ProxyAddr   string                 `json:"proxy_addr,omitempty"`
	FetchedAt   time.Time              `json:"fetched_at"`
	Error       string                 `json:"error,omitempty"`
}

// Progress is the tuple emitted to progress sinks after every page.
// ItemsExtracted counts extracted values, with each collection element
// counting individually; ItemsFailed counts failed pages.
type Progress struct {
	JobID          string    `json:"job_id"`
	PagesDone      int       `json:"pages_done"`
	ItemsExtracted int       `json:"items_extracted"`
	ItemsFailed    int       `json:"items_failed"`
	Status         JobStatus `json:"status"`

	// Percent is set only when the total page count is known; open-ended
	// pagination reports monotonically increasing counts instead.
	Percent *float64 `json:"percent,omitempty"`
}

// ValidateTargetURL checks that a job's target URL is absolute http(s)
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
