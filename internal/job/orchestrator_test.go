// internal/job/orchestrator_test.go
package job

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	harvesterrors "github.com/velcourt/pageharvest/internal/errors"
	"github.com/velcourt/pageharvest/internal/extract"
	"github.com/velcourt/pageharvest/internal/fetch"
	"github.com/velcourt/pageharvest/pkg/types"
)

// siteFetcher serves a fixed URL-to-page map, simulating a whole site.
// Unknown URLs fail as exhausted fetches.
type siteFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
	block   chan struct{} // when set, every fetch waits on it first
}

func (s *siteFetcher) Fetch(ctx context.Context, pageURL string, profile types.FetchProfile) (*fetch.Attempt, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	s.fetched = append(s.fetched, pageURL)
	body, ok := s.pages[pageURL]
	s.mu.Unlock()

	if !ok {
		return &fetch.Attempt{URL: pageURL, Outcome: fetch.OutcomeRefused},
			&harvesterrors.FetchExhaustedError{URL: pageURL, Attempts: 3}
	}
	return &fetch.Attempt{
		URL:        pageURL,
		Outcome:    fetch.OutcomeSuccess,
		StatusCode: 200,
		Response:   &types.RawDocument{URL: pageURL, StatusCode: 200, Body: body},
	}, nil
}

func (s *siteFetcher) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetched)
}

func listingPage(title, next string) string {
	link := ""
	if next != "" {
		link = fmt.Sprintf(`<a class="next" href="%s">next</a>`, next)
	}
	return fmt.Sprintf(`<html><body><h1 class="title">%s</h1>%s</body></html>`, title, link)
}

func listingTemplate(maxPages int) *types.Template {
	return &types.Template{
		Name: "listing",
		Fields: []types.FieldSpec{
			{Name: "title", Selector: "h1.title", Kind: types.KindText, Required: true},
		},
		Pagination: types.PaginationSpec{
			NextSelector: "a.next",
			MaxPages:     maxPages,
		},
	}
}

func newTestOrchestrator(fetcher Fetcher, config Config) *Orchestrator {
	return NewOrchestrator(fetcher, extract.NewEngine(), config)
}

func waitDone(t *testing.T, j *Job) {
	t.Helper()
	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish, status %s", j.ID, j.Status())
	}
}

// Scenario: a job with maxPages=3 where every page links onward must
// fetch exactly 3 pages and finish completed.
func TestJobStopsAtMaxPages(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/p1": listingPage("one", "/p2"),
		"https://shop.example/p2": listingPage("two", "/p3"),
		"https://shop.example/p3": listingPage("three", "/p4"),
		"https://shop.example/p4": listingPage("four", ""),
	}}
	o := newTestOrchestrator(fetcher, Config{})

	j, err := o.Submit("https://shop.example/p1", listingTemplate(3))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	if got := j.Status(); got != types.StatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}
	if fetcher.fetchCount() != 3 {
		t.Errorf("expected exactly 3 pages fetched, got %d", fetcher.fetchCount())
	}
	results := j.Results()
	if len(results) != 3 {
		t.Fatalf("expected 3 page results, got %d", len(results))
	}
	if results[2].NextURL != "" {
		t.Errorf("page at the ceiling must not carry a next URL")
	}
	for i, want := range []string{"one", "two", "three"} {
		if results[i].Record["title"] != want {
			t.Errorf("page %d: expected title %q, got %v", i+1, want, results[i].Record["title"])
		}
	}
}

func TestJobStopsWhenNextLinkMissing(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/p1": listingPage("one", "/p2"),
		"https://shop.example/p2": listingPage("two", ""),
	}}
	o := newTestOrchestrator(fetcher, Config{})

	j, _ := o.Submit("https://shop.example/p1", listingTemplate(10))
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	if got := j.Status(); got != types.StatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}
	if len(j.Results()) != 2 {
		t.Errorf("expected 2 pages, got %d", len(j.Results()))
	}
}

func TestSubmitValidation(t *testing.T) {
	o := newTestOrchestrator(&siteFetcher{}, Config{})

	tests := []struct {
		name string
		url  string
		tmpl *types.Template
	}{
		{"malformed url", "not a url", listingTemplate(1)},
		{"ftp scheme", "ftp://example.com/x", listingTemplate(1)},
		{"nil template", "https://example.com", nil},
		{"no fields", "https://example.com", &types.Template{Name: "empty"}},
		{
			"attribute field without attribute",
			"https://example.com",
			&types.Template{Name: "bad", Fields: []types.FieldSpec{
				{Name: "link", Selector: "a", Kind: types.KindAttribute},
			}},
		},
		{
			"unknown post-process rule",
			"https://example.com",
			&types.Template{Name: "bad", Fields: []types.FieldSpec{
				{Name: "title", Selector: "h1", PostProcess: []types.ProcessRule{{Type: "sparkle"}}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(tt.url, tt.tmpl)
			var invalid *harvesterrors.InvalidJobError
			if !asInvalid(err, &invalid) {
				t.Errorf("expected InvalidJobError, got %v", err)
			}
		})
	}
}

func asInvalid(err error, target **harvesterrors.InvalidJobError) bool {
	e, ok := err.(*harvesterrors.InvalidJobError)
	if ok {
		*target = e
	}
	return ok
}

func TestJobFailsAfterConsecutivePageFailures(t *testing.T) {
	// Discovery page links to three seeds; none of them resolve.
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/": `<html><body>
			<a class="cat" href="/c1">c1</a>
			<a class="cat" href="/c2">c2</a>
			<a class="cat" href="/c3">c3</a>
		</body></html>`,
	}}
	o := newTestOrchestrator(fetcher, Config{MaxConsecutiveFailures: 2, SeedConcurrency: 1})

	tmpl := listingTemplate(5)
	tmpl.DiscoverySelector = "a.cat"

	j, err := o.Submit("https://shop.example/", tmpl)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	if got := j.Status(); got != types.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	errs := j.Errors()
	if len(errs) == 0 || !strings.Contains(errs[len(errs)-1], "consecutive page failures") {
		t.Errorf("expected abort reason in error list, got %v", errs)
	}
	// The failing pages stay recorded as partial results.
	if len(j.Results()) < 2 {
		t.Errorf("expected failed pages retained, got %d results", len(j.Results()))
	}
}

func TestIsolatedPageFailureDoesNotFailJob(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/": `<html><body>
			<a class="cat" href="/c1">c1</a>
			<a class="cat" href="/c2">c2</a>
		</body></html>`,
		"https://shop.example/c2": listingPage("two", ""),
	}}
	o := newTestOrchestrator(fetcher, Config{MaxConsecutiveFailures: 5, SeedConcurrency: 1})

	tmpl := listingTemplate(5)
	tmpl.DiscoverySelector = "a.cat"

	j, _ := o.Submit("https://shop.example/", tmpl)
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	if got := j.Status(); got != types.StatusCompleted {
		t.Errorf("expected completed despite one failed seed, got %s", got)
	}
	progress := j.Progress()
	if progress.ItemsFailed != 1 {
		t.Errorf("expected 1 failed page recorded, got %d", progress.ItemsFailed)
	}
	// The discovery page itself matches no field, so only the good
	// seed's title counts.
	if progress.ItemsExtracted != 1 {
		t.Errorf("expected 1 extracted value, got %d", progress.ItemsExtracted)
	}
}

// Collection fields contribute one extracted item per element, not one
// per page.
func TestProgressCountsCollectionItems(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/p1": `<html><body>
			<h1 class="title">one</h1>
			<ul><li class="tag">a</li><li class="tag">b</li><li class="tag">c</li></ul>
		</body></html>`,
	}}
	o := newTestOrchestrator(fetcher, Config{})

	tmpl := listingTemplate(1)
	tmpl.Fields = append(tmpl.Fields, types.FieldSpec{
		Name:     "tags",
		Selector: "li.tag",
		Kind:     types.KindCollection,
	})

	j, _ := o.Submit("https://shop.example/p1", tmpl)
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	progress := j.Progress()
	if progress.ItemsExtracted != 4 {
		t.Errorf("expected 4 extracted values (title plus 3 tags), got %d", progress.ItemsExtracted)
	}
}

func TestCancelRetainsPartialResults(t *testing.T) {
	block := make(chan struct{})
	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://shop.example/p1": listingPage("one", "/p2"),
			"https://shop.example/p2": listingPage("two", "/p3"),
			"https://shop.example/p3": listingPage("three", ""),
		},
		block: block,
	}
	o := newTestOrchestrator(fetcher, Config{})

	j, _ := o.Submit("https://shop.example/p1", listingTemplate(10))
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Let exactly one page through, then cancel while page 2 is blocked.
	block <- struct{}{}
	for i := 0; i < 100 && len(j.Results()) == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if err := o.Cancel(j.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	waitDone(t, j)

	if got := j.Status(); got != types.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got)
	}
	if len(j.Results()) != 1 {
		t.Errorf("expected the completed page retained, got %d results", len(j.Results()))
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/p1": listingPage("one", ""),
	}}
	o := newTestOrchestrator(fetcher, Config{})

	j, _ := o.Submit("https://shop.example/p1", listingTemplate(1))
	if err := o.Cancel(j.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if got := j.Status(); got != types.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	for i := 0; i < 3; i++ {
		if err := o.Cancel(j.ID); err != nil {
			t.Errorf("repeated cancel %d errored: %v", i, err)
		}
	}
	if got := j.Status(); got != types.StatusCancelled {
		t.Errorf("repeated cancel changed status to %s", got)
	}
	// A cancelled job can never start.
	if err := o.Start(j.ID); err == nil {
		t.Errorf("expected start of cancelled job to fail")
	}
}

func TestPauseAndResume(t *testing.T) {
	block := make(chan struct{})
	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://shop.example/p1": listingPage("one", "/p2"),
			"https://shop.example/p2": listingPage("two", ""),
		},
		block: block,
	}
	o := newTestOrchestrator(fetcher, Config{})

	j, _ := o.Submit("https://shop.example/p1", listingTemplate(10))
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	block <- struct{}{}
	for i := 0; i < 100 && len(j.Results()) == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if err := o.Pause(j.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if got, _ := o.GetStatus(j.ID); got != types.StatusPaused {
		t.Fatalf("expected paused, got %s", got)
	}
	if err := o.Pause(j.ID); err == nil {
		t.Errorf("expected double pause to fail")
	}

	if err := o.Resume(j.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	block <- struct{}{}
	waitDone(t, j)

	if got := j.Status(); got != types.StatusCompleted {
		t.Errorf("expected completed after resume, got %s", got)
	}
	if len(j.Results()) != 2 {
		t.Errorf("expected both pages harvested, got %d", len(j.Results()))
	}
}

func TestProgressEventsPerPage(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/p1": listingPage("one", "/p2"),
		"https://shop.example/p2": listingPage("two", ""),
	}}
	o := newTestOrchestrator(fetcher, Config{})
	hub := NewHub()
	o.Subscribe(hub)

	j, _ := o.Submit("https://shop.example/p1", listingTemplate(4))
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	latest, ok := hub.Latest(j.ID)
	if !ok {
		t.Fatalf("hub saw no progress for job %s", j.ID)
	}
	if latest.PagesDone != 2 {
		t.Errorf("expected 2 pages done, got %d", latest.PagesDone)
	}
	if latest.Status != types.StatusCompleted {
		t.Errorf("expected final event with completed status, got %s", latest.Status)
	}
	if latest.Percent == nil {
		t.Fatalf("expected percent for bounded pagination")
	}
	if *latest.Percent != 50 {
		t.Errorf("expected 50 percent, got %v", *latest.Percent)
	}
}

func TestProgressWithoutCeilingOmitsPercent(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"https://shop.example/p1": listingPage("one", ""),
	}}
	o := newTestOrchestrator(fetcher, Config{})

	j, _ := o.Submit("https://shop.example/p1", listingTemplate(0))
	if err := o.Start(j.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, j)

	progress, err := o.GetProgress(j.ID)
	if err != nil {
		t.Fatalf("get progress failed: %v", err)
	}
	if progress.Percent != nil {
		t.Errorf("open-ended pagination must not report a percentage")
	}
	if progress.PagesDone != 1 {
		t.Errorf("expected monotonic page count 1, got %d", progress.PagesDone)
	}
}

func TestUnknownJobLookups(t *testing.T) {
	o := newTestOrchestrator(&siteFetcher{}, Config{})
	if _, err := o.GetStatus("job-missing"); err == nil {
		t.Errorf("expected error for unknown job status")
	}
	if err := o.Cancel("job-missing"); err == nil {
		t.Errorf("expected error for unknown job cancel")
	}
}

func TestConcurrentJobsRespectBudget(t *testing.T) {
	block := make(chan struct{})
	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://shop.example/p1": listingPage("one", ""),
		},
		block: block,
	}
	o := newTestOrchestrator(fetcher, Config{MaxConcurrentJobs: 1})

	first, _ := o.Submit("https://shop.example/p1", listingTemplate(1))
	second, _ := o.Submit("https://shop.example/p1", listingTemplate(1))
	if err := o.Start(first.ID); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := o.Start(second.ID); err != nil {
		t.Fatalf("start second: %v", err)
	}

	// Only one job can hold the slot; the other has fetched nothing yet.
	time.Sleep(20 * time.Millisecond)
	if got := fetcher.fetchCount(); got != 1 {
		t.Errorf("expected 1 in-flight fetch under budget 1, got %d", got)
	}

	close(block)
	waitDone(t, first)
	waitDone(t, second)
	if first.Status() != types.StatusCompleted || second.Status() != types.StatusCompleted {
		t.Errorf("expected both jobs completed, got %s/%s", first.Status(), second.Status())
	}
}

// A started job waiting on the concurrency budget still reports queued;
// it becomes running only once a slot admits it.
func TestStartedJobStaysQueuedUntilAdmitted(t *testing.T) {
	block := make(chan struct{})
	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://shop.example/p1": listingPage("one", ""),
		},
		block: block,
	}
	o := newTestOrchestrator(fetcher, Config{MaxConcurrentJobs: 1})

	first, _ := o.Submit("https://shop.example/p1", listingTemplate(1))
	second, _ := o.Submit("https://shop.example/p1", listingTemplate(1))
	if err := o.Start(first.ID); err != nil {
		t.Fatalf("start first: %v", err)
	}
	for i := 0; i < 100; i++ {
		if st, _ := o.GetStatus(first.ID); st == types.StatusRunning {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if st, _ := o.GetStatus(first.ID); st != types.StatusRunning {
		t.Fatalf("first job never reached running, got %s", st)
	}

	if err := o.Start(second.ID); err != nil {
		t.Fatalf("start second: %v", err)
	}
	if err := o.Start(second.ID); err == nil {
		t.Errorf("expected double start to fail")
	}
	time.Sleep(20 * time.Millisecond)
	if st, _ := o.GetStatus(second.ID); st != types.StatusQueued {
		t.Errorf("expected second job queued while the budget is full, got %s", st)
	}

	close(block)
	waitDone(t, first)
	waitDone(t, second)
	if first.Status() != types.StatusCompleted || second.Status() != types.StatusCompleted {
		t.Errorf("expected both jobs completed, got %s/%s", first.Status(), second.Status())
	}
}
