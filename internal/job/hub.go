// internal/job/hub.go
package job

import (
	"sync"

	"github.com/velcourt/pageharvest/pkg/types"
)

// Hub is a ProgressSink that retains the latest progress per job and
// fans events out to per-job watchers. Slow watchers never block the
// harvest loop: events they cannot keep up with are dropped in favor of
// the most recent one.
type Hub struct {
	mu       sync.Mutex
	latest   map[string]types.Progress
	watchers map[string][]chan types.Progress
}

// NewHub creates an empty progress hub
func NewHub() *Hub {
	return &Hub{
		latest:   make(map[string]types.Progress),
		watchers: make(map[string][]chan types.Progress),
	}
}

// Publish implements ProgressSink
func (h *Hub) Publish(progress types.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[progress.JobID] = progress
	for _, ch := range h.watchers[progress.JobID] {
		select {
		case ch <- progress:
		default:
			// Drain the stale event and replace it with the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- progress:
			default:
			}
		}
	}
}

// Latest returns the most recent progress seen for a job
func (h *Hub) Latest(jobID string) (types.Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.latest[jobID]
	return p, ok
}

// Watch returns a channel of progress events for one job plus a cancel
// function that must be called when the watcher is done.
func (h *Hub) Watch(jobID string) (<-chan types.Progress, func()) {
	ch := make(chan types.Progress, 1)

	h.mu.Lock()
	h.watchers[jobID] = append(h.watchers[jobID], ch)
	if p, ok := h.latest[jobID]; ok {
		ch <- p
	}
	h.mu.Unlock()

	stop := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.watchers[jobID]
		for i, c := range chans {
			if c == ch {
				h.watchers[jobID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(h.watchers[jobID]) == 0 {
			delete(h.watchers, jobID)
		}
	}
	return ch, stop
}
