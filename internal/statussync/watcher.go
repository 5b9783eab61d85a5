package statussync

import (
	"context"
	"sync"
	"time"

	"github.com/leadninja/leadninja-api/internal/models"
)

const defaultPollInterval = 2500 * time.Millisecond

// ActiveJobLister is the poll half of the watcher, normally backed by the
// job repository.
type ActiveJobLister interface {
	ListActiveJobs(userID, campaignID string) ([]models.Job, error)
}

// Watcher merges the push channel and a fixed-interval poll into one view
// of a user's jobs. Both paths write through the same guarded update, so
// out-of-order delivery between them can never regress a terminal state.
// The watcher stops on its own once every observed job is terminal.
type Watcher struct {
	lister       ActiveJobLister
	userID       string
	campaignID   string
	pollInterval time.Duration

	mu       sync.Mutex
	statuses map[string]models.JobStatus
	// assumed marks jobs whose terminal status was inferred by the poll
	// path rather than observed, so a real terminal status can still
	// overwrite it.
	assumed  map[string]bool
	done     chan struct{}
	doneOnce sync.Once
}

func NewWatcher(lister ActiveJobLister, userID, campaignID string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Watcher{
		lister:       lister,
		userID:       userID,
		campaignID:   campaignID,
		pollInterval: pollInterval,
		statuses:     make(map[string]models.JobStatus),
		assumed:      make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// Run consumes push events and polls until all watched jobs settle or the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context, push <-chan JobEvent) {
	// Seed the watched set so a campaign with no active jobs stops the
	// watcher immediately instead of polling forever.
	w.poll()
	if w.finishedLocked() {
		w.stop()
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case <-w.done:
			return
		case evt, ok := <-push:
			if !ok {
				push = nil
				continue
			}
			w.Apply(evt.JobID, evt.Status)
		case <-ticker.C:
			w.poll()
		}

		if w.finishedLocked() {
			w.stop()
			return
		}
	}
}

// Apply records a status observation. Terminal states are sticky: a late
// pending/running observation for a settled job is discarded. The one
// exception is a completion the poll path assumed for a vanished job,
// which an observed terminal status may still correct.
func (w *Watcher) Apply(jobID string, status models.JobStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if current, ok := w.statuses[jobID]; ok && current.IsTerminal() {
		if !w.assumed[jobID] || !status.IsTerminal() {
			return
		}
	}
	w.statuses[jobID] = status
	delete(w.assumed, jobID)
}

// Status returns the last observed status for a job.
func (w *Watcher) Status(jobID string) (models.JobStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	status, ok := w.statuses[jobID]
	return status, ok
}

// Done closes once every watched job reached a terminal state or the
// active set was empty to begin with.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) poll() {
	jobs, err := w.lister.ListActiveJobs(w.userID, w.campaignID)
	if err != nil {
		// Poll failures are transient; the next tick or a push event
		// catches the watcher up.
		return
	}

	w.mu.Lock()
	active := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		active[job.ID] = struct{}{}
		if current, ok := w.statuses[job.ID]; ok && current.IsTerminal() && !w.assumed[job.ID] {
			continue
		}
		w.statuses[job.ID] = job.Status
		delete(w.assumed, job.ID)
	}
	// A job that vanished from the active set finished; without a push
	// event we only know it settled, so the completion stays correctable.
	for id, status := range w.statuses {
		if _, stillActive := active[id]; !stillActive && !status.IsTerminal() {
			w.statuses[id] = models.JobStatusCompleted
			w.assumed[id] = true
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) finishedLocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, status := range w.statuses {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

func (w *Watcher) stop() {
	w.doneOnce.Do(func() { close(w.done) })
}
