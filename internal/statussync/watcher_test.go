package statussync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadninja/leadninja-api/internal/models"
)

type fakeLister struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (f *fakeLister) set(jobs ...models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = jobs
}

func (f *fakeLister) ListActiveJobs(userID, campaignID string) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Job(nil), f.jobs...), nil
}

func activeJob(id string, status models.JobStatus) models.Job {
	return models.Job{ID: id, UserID: "u1", Type: models.JobTypeFindEmails, Status: status}
}

func waitDone(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherStopsImmediatelyWithNoActiveJobs(t *testing.T) {
	w := NewWatcher(&fakeLister{}, "u1", "", 5*time.Millisecond)

	push := make(chan JobEvent)
	go w.Run(context.Background(), push)

	waitDone(t, w)
}

func TestWatcherTerminalNeverRegresses(t *testing.T) {
	lister := &fakeLister{}
	lister.set(activeJob("j1", models.JobStatusRunning))
	w := NewWatcher(lister, "u1", "", time.Hour)

	w.Apply("j1", models.JobStatusCompleted)

	// A late running observation after completion is discarded.
	w.Apply("j1", models.JobStatusRunning)

	status, ok := w.Status("j1")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestWatcherStopsOnPushedTerminalState(t *testing.T) {
	lister := &fakeLister{}
	lister.set(activeJob("j1", models.JobStatusRunning))
	w := NewWatcher(lister, "u1", "", time.Hour)

	push := make(chan JobEvent, 1)
	go w.Run(context.Background(), push)

	push <- JobEvent{JobID: "j1", UserID: "u1", Status: models.JobStatusCompleted}

	waitDone(t, w)
	status, ok := w.Status("j1")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestWatcherPollMarksVanishedJobsSettled(t *testing.T) {
	lister := &fakeLister{}
	w := NewWatcher(lister, "u1", "", 5*time.Millisecond)

	// Jobs observed earlier that have since dropped out of the active set;
	// with no push event to explain it, the poll settles them as completed.
	w.Apply("j1", models.JobStatusRunning)
	w.Apply("j2", models.JobStatusPending)

	push := make(chan JobEvent)
	go w.Run(context.Background(), push)

	waitDone(t, w)
	status, ok := w.Status("j1")
	require.True(t, ok)
	assert.True(t, status.IsTerminal())
	status, ok = w.Status("j2")
	require.True(t, ok)
	assert.True(t, status.IsTerminal())
}

func TestWatcherFailedStatusFromPoll(t *testing.T) {
	lister := &fakeLister{}
	lister.set(activeJob("j1", models.JobStatusRunning))
	w := NewWatcher(lister, "u1", "", 5*time.Millisecond)

	push := make(chan JobEvent)
	go w.Run(context.Background(), push)

	lister.set(activeJob("j1", models.JobStatusFailed))

	waitDone(t, w)
	status, _ := w.Status("j1")
	assert.Equal(t, models.JobStatusFailed, status)
}

func TestWatcherContextCancelStops(t *testing.T) {
	lister := &fakeLister{}
	lister.set(activeJob("j1", models.JobStatusRunning))
	w := NewWatcher(lister, "u1", "", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	push := make(chan JobEvent)
	go w.Run(ctx, push)

	cancel()
	waitDone(t, w)
}

func TestParseJobEvent(t *testing.T) {
	evt, err := parseJobEvent(`{"id":"j1","user_id":"u1","campaign_id":"c1","type":"find_emails","status":"running"}`)
	require.NoError(t, err)
	assert.Equal(t, "j1", evt.JobID)
	assert.Equal(t, "u1", evt.UserID)
	require.NotNil(t, evt.CampaignID)
	assert.Equal(t, "c1", *evt.CampaignID)
	assert.Equal(t, models.JobTypeFindEmails, evt.Type)
	assert.Equal(t, models.JobStatusRunning, evt.Status)

	_, err = parseJobEvent(`not json`)
	require.Error(t, err)
}

func TestUserChannel(t *testing.T) {
	assert.Equal(t, "jobs:u1", userChannel("u1"))
}

func TestWatcherPushCorrectsAssumedCompletion(t *testing.T) {
	w := NewWatcher(&fakeLister{}, "u1", "", time.Hour)

	w.Apply("j1", models.JobStatusRunning)

	// The job vanished from the active set, so the poll can only assume
	// it completed.
	w.poll()
	status, ok := w.Status("j1")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, status)

	// The push event carrying the real outcome still lands.
	w.Apply("j1", models.JobStatusFailed)
	status, _ = w.Status("j1")
	assert.Equal(t, models.JobStatusFailed, status)

	// Once observed, the terminal status is sticky against anything else.
	w.Apply("j1", models.JobStatusRunning)
	w.Apply("j1", models.JobStatusCompleted)
	status, _ = w.Status("j1")
	assert.Equal(t, models.JobStatusFailed, status)
}
