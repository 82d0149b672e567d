// internal/job/job.go
package job

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/velcourt/pageharvest/pkg/types"
)

// Job binds a target URL to an immutable template and tracks the run.
// All mutation happens through orchestrator methods; external readers
// only ever get snapshots.
type Job struct {
	ID        string
	TargetURL string
	Template  *types.Template

	mu             sync.Mutex
	status         types.JobStatus
	pagesFetched   int
	itemsExtracted int
	itemsFailed    int
	consecutive    int
	createdAt      time.Time
	startedAt      time.Time
	endedAt        time.Time
	errs           []string
	results        []*types.PageResult

	started  bool
	cancel   context.CancelFunc
	resumeCh chan struct{}
	done     chan struct{}
}

func newJob(targetURL string, tmpl *types.Template) *Job {
	return &Job{
		ID:        newJobID(),
		TargetURL: targetURL,
		Template:  tmpl,
		status:    types.StatusPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func newJobID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "job-" + hex.EncodeToString([]byte(time.Now().Format("150405.000000")))
	}
	return "job-" + hex.EncodeToString(buf)
}

// Status returns the current lifecycle state
func (j *Job) Status() types.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Done is closed when the job reaches a terminal state and its run
// goroutine has unwound.
func (j *Job) Done() <-chan struct{} { return j.done }

// CreatedAt returns the submission timestamp
func (j *Job) CreatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.createdAt
}

// Progress returns a snapshot of the job's counters. Percent is set only
// for single-chain jobs with a known page ceiling.
func (j *Job) Progress() types.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := types.Progress{
		JobID:          j.ID,
		PagesDone:      j.pagesFetched,
		ItemsExtracted: j.itemsExtracted,
		ItemsFailed:    j.itemsFailed,
		Status:         j.status,
	}
	if max := j.Template.Pagination.MaxPages; max > 0 && j.Template.DiscoverySelector == "" {
		pct := float64(j.pagesFetched) / float64(max) * 100
		if pct > 100 {
			pct = 100
		}
		p.Percent = &pct
	}
	return p
}

// Results returns a copy of the accumulated page results
func (j *Job) Results() []*types.PageResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*types.PageResult, len(j.results))
	copy(out, j.results)
	return out
}

// Errors returns the accumulated error list
func (j *Job) Errors() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.errs))
	copy(out, j.errs)
	return out
}

// transition moves the job through the state machine, rejecting moves
// the machine does not permit.
func (j *Job) transition(next types.JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransitionTo(next) {
		return false
	}
	j.status = next
	return true
}

// finish moves the job into a terminal state. Calling finish on an
// already-terminal job is a no-op, which makes repeated cancel and
// complete calls idempotent.
func (j *Job) finish(status types.JobStatus, cause error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.status = status
	j.endedAt = time.Now()
	if cause != nil {
		j.errs = append(j.errs, cause.Error())
	}
}

// record appends a page result and updates the counters: extracted
// values per successful page (collection elements count individually),
// failed pages, and the consecutive page-failure count, which it returns
// so the caller can enforce the ceiling.
func (j *Job) record(result *types.PageResult) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.results = append(j.results, result)
	j.pagesFetched++
	if result.Success {
		j.itemsExtracted += countItems(result.Record)
		j.consecutive = 0
	} else {
		j.itemsFailed++
		j.consecutive++
		if result.Error != "" {
			j.errs = append(j.errs, result.Error)
		}
	}
	return j.consecutive
}

// countItems counts the extracted values in a record: one per scalar
// field, one per element of a collection field. Missed optional fields
// are stored as nil and count nothing.
func countItems(record map[string]interface{}) int {
	n := 0
	for _, v := range record {
		switch items := v.(type) {
		case nil:
		case []interface{}:
			n += len(items)
		default:
			n++
		}
	}
	return n
}

// pause gates the run loop before the next page
func (j *Job) pause() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransitionTo(types.StatusPaused) {
		return false
	}
	j.status = types.StatusPaused
	j.resumeCh = make(chan struct{})
	return true
}

// resume reopens the gate set by pause
func (j *Job) resume() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != types.StatusPaused {
		return false
	}
	j.status = types.StatusRunning
	close(j.resumeCh)
	j.resumeCh = nil
	return true
}

// waitIfPaused blocks while the job is paused, observing cancellation
func (j *Job) waitIfPaused(ctx context.Context) error {
	for {
		j.mu.Lock()
		gate := j.resumeCh
		j.mu.Unlock()
		if gate == nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
}
