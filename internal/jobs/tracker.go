// Package jobs tracks asynchronous search jobs: fire a query, poll the
// returned identifier later. Polling is non-destructive and remains valid
// indefinitely after completion (until the retention sweep removes old
// finished jobs).
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/query"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

// Status is the lifecycle state of an asynchronous job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// View is the caller-visible snapshot of a job, safe to return from polls.
type View struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Result     *query.Page `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
}

type job struct {
	view   View
	cancel context.CancelFunc
}

// Tracker assigns identifiers to background queries and records their
// status and result. All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	maxJobs   int
	retention time.Duration
	logger    *slog.Logger
}

// NewTracker creates a Tracker that refuses new jobs past maxJobs pending
// or running ones and sweeps finished jobs older than retention.
func NewTracker(maxJobs int, retention time.Duration) *Tracker {
	if maxJobs <= 0 {
		maxJobs = 1000
	}
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &Tracker{
		jobs:      make(map[string]*job),
		maxJobs:   maxJobs,
		retention: retention,
		logger:    slog.Default().With("component", "job-tracker"),
	}
}

// Create registers a new pending job bound to cancel and returns its
// opaque identifier.
func (t *Tracker) Create(cancel context.CancelFunc) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inFlight := 0
	for _, j := range t.jobs {
		if !j.view.Status.Terminal() {
			inFlight++
		}
	}
	if inFlight >= t.maxJobs {
		return "", apperrors.Newf(apperrors.ErrInternal, 503,
			"too many in-flight jobs (%d)", inFlight)
	}

	id := newJobID()
	t.jobs[id] = &job{
		view:   View{ID: id, Status: StatusPending, CreatedAt: time.Now().UTC()},
		cancel: cancel,
	}
	return id, nil
}

// MarkRunning transitions a pending job to running. Jobs cancelled before
// they start stay cancelled; the caller should check the returned status.
func (t *Tracker) MarkRunning(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return StatusCancelled
	}
	if j.view.Status == StatusPending {
		j.view.Status = StatusRunning
	}
	return j.view.Status
}

// Complete stores the result page and marks the job completed.
func (t *Tracker) Complete(id string, page *query.Page) {
	t.finish(id, StatusCompleted, page, "")
}

// Fail marks the job failed with the error message.
func (t *Tracker) Fail(id string, err error) {
	t.finish(id, StatusFailed, nil, err.Error())
}

// MarkCancelled records that the job's execution observed cancellation.
func (t *Tracker) MarkCancelled(id string) {
	t.finish(id, StatusCancelled, nil, "")
}

func (t *Tracker) finish(id string, status Status, page *query.Page, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok || j.view.Status.Terminal() {
		return
	}
	j.view.Status = status
	j.view.Result = page
	j.view.Error = errMsg
	j.view.FinishedAt = time.Now().UTC()
	j.cancel = nil
}

// Cancel marks an in-flight job cancelled and cancels its context so the
// query engine stops scoring promptly. Cancelling a finished job is an
// error; cancellation never rewrites a terminal status.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return apperrors.Newf(apperrors.ErrJobNotFound, 404, "job %q", id)
	}
	if j.view.Status.Terminal() {
		return apperrors.Newf(apperrors.ErrCancelled, 409,
			"job %q already %s", id, j.view.Status)
	}
	j.view.Status = StatusCancelled
	j.view.FinishedAt = time.Now().UTC()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	return nil
}

// Get returns the job's current view. Safe to call any number of times
// after completion.
func (t *Tracker) Get(id string) (View, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return View{}, apperrors.Newf(apperrors.ErrJobNotFound, 404, "job %q", id)
	}
	return j.view, nil
}

// InFlight returns the number of pending or running jobs.
func (t *Tracker) InFlight() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, j := range t.jobs {
		if !j.view.Status.Terminal() {
			n++
		}
	}
	return n
}

// StartSweeper periodically removes finished jobs past the retention
// window until ctx is cancelled.
func (t *Tracker) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(t.retention / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep(time.Now().UTC())
			}
		}
	}()
}

func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, j := range t.jobs {
		if j.view.Status.Terminal() && now.Sub(j.view.FinishedAt) > t.retention {
			delete(t.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Debug("swept finished jobs", "removed", removed, "remaining", len(t.jobs))
	}
}

func newJobID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// time-derived identifier if it somehow does.
		return hex.EncodeToString([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(b[:])
}
