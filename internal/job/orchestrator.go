// internal/job/orchestrator.go
package job

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/velcourt/pageharvest/internal/errors"
	"github.com/velcourt/pageharvest/internal/extract"
	"github.com/velcourt/pageharvest/internal/fetch"
	"github.com/velcourt/pageharvest/internal/monitoring"
	"github.com/velcourt/pageharvest/internal/paginate"
	"github.com/velcourt/pageharvest/internal/utils"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Fetcher is the page-fetch dependency of the orchestrator. The fetch
// pipeline satisfies it; tests substitute scripted implementations.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, profile types.FetchProfile) (*fetch.Attempt, error)
}

// ProgressSink receives a progress event after every harvested page
type ProgressSink interface {
	Publish(progress types.Progress)
}

// Config bounds orchestrator concurrency and failure tolerance
type Config struct {
	MaxConcurrentJobs      int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	SeedConcurrency        int           `yaml:"seed_concurrency" json:"seed_concurrency"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	InterPageDelay         time.Duration `yaml:"inter_page_delay,omitempty" json:"inter_page_delay,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 4
	}
	if c.SeedConcurrency <= 0 {
		c.SeedConcurrency = 3
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
}

// Orchestrator owns job lifecycle: submission, the fetch/extract/paginate
// loop, concurrency budgets, progress fan-out and cancellation.
type Orchestrator struct {
	fetcher Fetcher
	engine  *extract.Engine
	config  Config
	logger  utils.Logger
	metrics *monitoring.Metrics

	mu    sync.RWMutex
	jobs  map[string]*Job
	sinks []ProgressSink
	slots chan struct{}
}

// NewOrchestrator creates an orchestrator over a fetch dependency and an
// extraction engine.
func NewOrchestrator(fetcher Fetcher, engine *extract.Engine, config Config) *Orchestrator {
	config.applyDefaults()
	return &Orchestrator{
		fetcher: fetcher,
		engine:  engine,
		config:  config,
		logger:  utils.NewComponentLogger("orchestrator"),
		jobs:    make(map[string]*Job),
		slots:   make(chan struct{}, config.MaxConcurrentJobs),
	}
}

// SetMetrics attaches Prometheus collectors. Optional.
func (o *Orchestrator) SetMetrics(m *monitoring.Metrics) { o.metrics = m }

// Subscribe registers a progress sink. Sinks must not block.
func (o *Orchestrator) Subscribe(sink ProgressSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, sink)
}

// Submit validates and enqueues a job. It returns immediately; the job
// does not run until Start is called.
func (o *Orchestrator) Submit(targetURL string, tmpl *types.Template) (*Job, error) {
	if err := validate(targetURL, tmpl); err != nil {
		return nil, err
	}

	j := newJob(targetURL, tmpl)
	j.transition(types.StatusQueued)

	o.mu.Lock()
	o.jobs[j.ID] = j
	o.mu.Unlock()

	o.logger.WithFields(map[string]interface{}{
		"job_id":   j.ID,
		"template": tmpl.Name,
		"url":      targetURL,
	}).Info("job submitted")
	return j, nil
}

// Start hands a queued job to the run loop. The job stays queued until
// the concurrency budget admits it; only then does it report running.
func (o *Orchestrator) Start(jobID string) error {
	j, err := o.lookup(jobID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.mu.Lock()
	if j.status != types.StatusQueued || j.started {
		status := j.status
		j.mu.Unlock()
		cancel()
		return fmt.Errorf("job %s cannot start from state %s", jobID, status)
	}
	j.started = true
	j.cancel = cancel
	j.startedAt = time.Now()
	j.mu.Unlock()

	go o.run(ctx, j)
	return nil
}

// Cancel signals cooperative cancellation. Cancelling a terminal job is
// a no-op; partial results are always retained.
func (o *Orchestrator) Cancel(jobID string) error {
	j, err := o.lookup(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return nil
	}
	running := j.status == types.StatusRunning || j.status == types.StatusPaused
	cancel := j.cancel
	if !running {
		// Never started: no loop to unwind, finish directly.
		j.status = types.StatusCancelled
		j.endedAt = time.Now()
	}
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !running {
		o.closeDone(j)
	}
	o.logger.WithField("job_id", jobID).Info("job cancellation requested")
	return nil
}

// Pause gates the job before its next page. Only running jobs pause.
func (o *Orchestrator) Pause(jobID string) error {
	j, err := o.lookup(jobID)
	if err != nil {
		return err
	}
	if !j.pause() {
		return fmt.Errorf("job %s cannot pause from state %s", jobID, j.Status())
	}
	return nil
}

// Resume reopens a paused job
func (o *Orchestrator) Resume(jobID string) error {
	j, err := o.lookup(jobID)
	if err != nil {
		return err
	}
	if !j.resume() {
		return fmt.Errorf("job %s cannot resume from state %s", jobID, j.Status())
	}
	return nil
}

// GetStatus returns the job's lifecycle state without blocking
func (o *Orchestrator) GetStatus(jobID string) (types.JobStatus, error) {
	j, err := o.lookup(jobID)
	if err != nil {
		return "", err
	}
	return j.Status(), nil
}

// GetProgress returns the job's progress snapshot without blocking
func (o *Orchestrator) GetProgress(jobID string) (types.Progress, error) {
	j, err := o.lookup(jobID)
	if err != nil {
		return types.Progress{}, err
	}
	return j.Progress(), nil
}

// GetJob returns the job handle for result access
func (o *Orchestrator) GetJob(jobID string) (*Job, error) {
	return o.lookup(jobID)
}

// Jobs returns a snapshot of all known jobs
func (o *Orchestrator) Jobs() []*Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j)
	}
	return out
}

func (o *Orchestrator) lookup(jobID string) (*Job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil, &errors.InvalidJobError{JobID: jobID, Reason: "unknown job"}
	}
	return j, nil
}

// run drives one job under the global job-concurrency budget
func (o *Orchestrator) run(ctx context.Context, j *Job) {
	defer o.closeDone(j)

	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		j.finish(types.StatusCancelled, nil)
		return
	}
	defer func() { <-o.slots }()

	// Cancelled while waiting for the slot.
	if !j.transition(types.StatusRunning) {
		return
	}

	if o.metrics != nil {
		o.metrics.JobStarted()
	}

	var err error
	if j.Template.DiscoverySelector != "" {
		err = o.runDiscovery(ctx, j)
	} else {
		err = o.runChain(ctx, j, j.TargetURL)
	}

	switch {
	case ctx.Err() != nil:
		j.finish(types.StatusCancelled, nil)
		o.logger.WithField("job_id", j.ID).Info("job cancelled")
	case err != nil:
		j.finish(types.StatusFailed, err)
		o.logger.WithField("job_id", j.ID).Errorf("job failed: %v", err)
	default:
		j.finish(types.StatusCompleted, nil)
		o.logger.WithField("job_id", j.ID).Info("job completed")
	}
	if o.metrics != nil {
		o.metrics.JobFinished(j.Status())
	}
	o.publishProgress(j)
}

// runChain follows one pagination chain from startURL until a stop
// condition. Page-level failures are recorded as data; the chain ends
// because a failed page yields no next link.
func (o *Orchestrator) runChain(ctx context.Context, j *Job, startURL string) error {
	controller := paginate.NewController(j.Template.Pagination)
	pageURL := startURL
	pages := 0

	for pageURL != "" {
		if err := j.waitIfPaused(ctx); err != nil {
			return err
		}

		result, doc := o.harvestPage(ctx, j, pageURL)
		if ctx.Err() != nil {
			// Do not record a page torn by cancellation.
			return ctx.Err()
		}
		pages++

		var nextURL string
		if doc != nil {
			if next, ok := controller.NextURL(result.Record, doc, pageURL, pages); ok {
				nextURL = next
				result.NextURL = next
			}
		}

		consecutive := j.record(result)
		o.publishProgress(j)

		if consecutive >= o.config.MaxConsecutiveFailures {
			return &errors.JobAbortedError{JobID: j.ID, ConsecutiveFailures: consecutive}
		}

		pageURL = nextURL
		if pageURL != "" && o.config.InterPageDelay > 0 {
			if err := sleepCtx(ctx, o.config.InterPageDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// runDiscovery harvests the start page for seed URLs, then runs each
// seed's pagination chain under the per-job fetch concurrency budget.
func (o *Orchestrator) runDiscovery(ctx context.Context, j *Job) error {
	result, doc := o.harvestPage(ctx, j, j.TargetURL)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	consecutive := j.record(result)
	o.publishProgress(j)
	if doc == nil {
		if consecutive >= o.config.MaxConsecutiveFailures {
			return &errors.JobAbortedError{JobID: j.ID, ConsecutiveFailures: consecutive}
		}
		return nil
	}

	seeds := o.discoverSeeds(doc, j)
	if len(seeds) == 0 {
		return nil
	}

	sem := make(chan struct{}, o.config.SeedConcurrency)
	errCh := make(chan error, len(seeds))
	var wg sync.WaitGroup

	for _, seed := range seeds {
		wg.Add(1)
		go func(seedURL string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			if err := o.runChain(ctx, j, seedURL); err != nil {
				errCh <- err
			}
		}(seed)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if ctx.Err() == nil {
			return err
		}
	}
	return ctx.Err()
}

// discoverSeeds extracts and deduplicates seed URLs from the start page
func (o *Orchestrator) discoverSeeds(doc extract.Document, j *Job) []string {
	base, err := url.Parse(j.TargetURL)
	if err != nil {
		return nil
	}

	refs := doc.AttrAll(j.Template.DiscoverySelector, "href")
	seen := make(map[string]bool, len(refs))
	seeds := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, err := url.Parse(ref)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(u).String()
		if abs == j.TargetURL || seen[abs] {
			continue
		}
		seen[abs] = true
		seeds = append(seeds, abs)
	}
	return seeds
}

// harvestPage runs one fetch/extract cycle. It always returns a result;
// the document is nil when the page could not be fetched or parsed.
func (o *Orchestrator) harvestPage(ctx context.Context, j *Job, pageURL string) (*types.PageResult, extract.Document) {
	result := &types.PageResult{URL: pageURL, FetchedAt: time.Now()}

	attempt, err := o.fetcher.Fetch(ctx, pageURL, j.Template.Profile)
	if attempt != nil {
		result.StatusCode = attempt.StatusCode
		result.Latency = attempt.Latency
		result.ProxyAddr = attempt.ProxyAddr
	}
	if err != nil {
		result.Error = err.Error()
		o.observePage(result)
		return result, nil
	}

	doc, err := extract.ParseDocument(attempt.Response)
	if err != nil {
		result.Error = err.Error()
		o.observePage(result)
		return result, nil
	}

	base, _ := url.Parse(pageURL)
	extracted := o.engine.Extract(doc, j.Template, base)
	result.Success = true
	result.Partial = extracted.Partial
	result.Record = extracted.Record
	result.FieldErrors = extracted.FieldErrors
	result.Coverage = extracted.Coverage

	if o.metrics != nil {
		o.metrics.ObserveExtraction(result.Coverage, result.FieldErrors)
	}
	o.observePage(result)
	return result, doc
}

func (o *Orchestrator) observePage(result *types.PageResult) {
	if o.metrics == nil {
		return
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	domain := ""
	if u, err := url.Parse(result.URL); err == nil {
		domain = u.Hostname()
	}
	o.metrics.ObservePage(domain, outcome, result.Latency)
}

func (o *Orchestrator) publishProgress(j *Job) {
	progress := j.Progress()
	o.mu.RLock()
	sinks := o.sinks
	o.mu.RUnlock()
	for _, sink := range sinks {
		sink.Publish(progress)
	}
}

// closeDone is idempotent so direct cancellation of a never-started job
// and the run goroutine's own unwind cannot both close the channel.
func (o *Orchestrator) closeDone(j *Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	select {
	case <-j.done:
	default:
		close(j.done)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// validate rejects malformed submissions before they are enqueued
func validate(targetURL string, tmpl *types.Template) error {
	if err := types.ValidateTargetURL(targetURL); err != nil {
		return &errors.InvalidJobError{Reason: err.Error()}
	}
	if tmpl == nil {
		return &errors.InvalidJobError{Reason: "job references no template"}
	}
	if err := extract.ValidateTemplate(tmpl); err != nil {
		return &errors.InvalidJobError{Reason: err.Error()}
	}
	return nil
}
