// pkg/api/types.go
package api

import (
	"time"

	"github.com/velcourt/pageharvest/pkg/types"
)

// SubmitJobRequest asks the service to harvest a URL. The template is
// referenced by name from the server's template store, or supplied
// inline for one-off jobs.
type SubmitJobRequest struct {
	URL      string          `json:"url"`
	Template string          `json:"template,omitempty"`
	Inline   *types.Template `json:"inline_template,omitempty"`

	// Start runs the job immediately. Defaults to true; submit-only
	// callers set it to false explicitly.
	Start *bool `json:"start,omitempty"`
}

// JobResponse describes one job
type JobResponse struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Template  string          `json:"template"`
	Status    types.JobStatus `json:"status"`
	Submitted time.Time       `json:"submitted"`
}

// ProgressResponse wraps the per-page progress tuple
type ProgressResponse struct {
	types.Progress
}

// ResultsResponse carries a job's accumulated page results
type ResultsResponse struct {
	JobID  string              `json:"job_id"`
	Status types.JobStatus     `json:"status"`
	Pages  []*types.PageResult `json:"pages"`
	Errors []string            `json:"errors,omitempty"`
}

// TemplatesResponse lists the loaded template names
type TemplatesResponse struct {
	Templates []string `json:"templates"`
}

// ErrorResponse is the uniform error payload
type ErrorResponse struct {
	Error string `json:"error"`
}
