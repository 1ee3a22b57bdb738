package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quarrysearch/quarry/internal/query"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

func newTestTracker() *Tracker {
	return NewTracker(10, time.Minute)
}

func mustCreate(t *testing.T, tr *Tracker, cancel context.CancelFunc) string {
	t.Helper()
	id, err := tr.Create(cancel)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestJobLifecycle(t *testing.T) {
	tr := newTestTracker()
	id := mustCreate(t, tr, func() {})

	view, err := tr.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Status != StatusPending {
		t.Errorf("Status = %s, want pending", view.Status)
	}
	if view.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if got := tr.MarkRunning(id); got != StatusRunning {
		t.Errorf("MarkRunning = %s, want running", got)
	}

	page := &query.Page{Query: "done", TotalHits: 1}
	tr.Complete(id, page)

	view, err = tr.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", view.Status)
	}
	if view.Result == nil || view.Result.TotalHits != 1 {
		t.Errorf("Result = %+v", view.Result)
	}
	if view.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
}

func TestPollIdempotent(t *testing.T) {
	tr := newTestTracker()
	id := mustCreate(t, tr, func() {})
	tr.Complete(id, &query.Page{Query: "q"})

	first, err := tr.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := tr.Get(id)
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if again.Status != first.Status || again.Result != first.Result {
			t.Fatalf("poll #%d changed the view: %+v vs %+v", i, again, first)
		}
	}
}

func TestFail(t *testing.T) {
	tr := newTestTracker()
	id := mustCreate(t, tr, func() {})
	tr.MarkRunning(id)
	tr.Fail(id, errors.New("boom"))

	view, _ := tr.Get(id)
	if view.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", view.Status)
	}
	if view.Error != "boom" {
		t.Errorf("Error = %q, want boom", view.Error)
	}
	if view.Result != nil {
		t.Errorf("Result = %+v, want nil", view.Result)
	}
}

func TestCancelRunningJob(t *testing.T) {
	tr := newTestTracker()
	ctx, cancel := context.WithCancel(context.Background())
	id := mustCreate(t, tr, cancel)
	tr.MarkRunning(id)

	if err := tr.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("Cancel did not cancel the job context")
	}

	view, _ := tr.Get(id)
	if view.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", view.Status)
	}

	// A late completion must not rewrite the terminal status.
	tr.Complete(id, &query.Page{Query: "late"})
	view, _ = tr.Get(id)
	if view.Status != StatusCancelled || view.Result != nil {
		t.Errorf("late completion rewrote terminal state: %+v", view)
	}
}

func TestCancelBeforeRunning(t *testing.T) {
	tr := newTestTracker()
	id := mustCreate(t, tr, func() {})

	if err := tr.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// The worker picking the job up afterwards must see it cancelled.
	if got := tr.MarkRunning(id); got != StatusCancelled {
		t.Errorf("MarkRunning after cancel = %s, want cancelled", got)
	}
}

func TestCancelFinishedJob(t *testing.T) {
	tr := newTestTracker()
	id := mustCreate(t, tr, func() {})
	tr.Complete(id, &query.Page{})

	err := tr.Cancel(id)
	if !errors.Is(err, apperrors.ErrCancelled) {
		t.Fatalf("Cancel(finished) error = %v, want ErrCancelled", err)
	}
	view, _ := tr.Get(id)
	if view.Status != StatusCompleted {
		t.Errorf("Status = %s, completed state must survive", view.Status)
	}
}

func TestUnknownJob(t *testing.T) {
	tr := newTestTracker()
	if _, err := tr.Get("missing"); !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Errorf("Get error = %v, want ErrJobNotFound", err)
	}
	if err := tr.Cancel("missing"); !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Errorf("Cancel error = %v, want ErrJobNotFound", err)
	}
}

func TestMaxJobsLimit(t *testing.T) {
	tr := NewTracker(2, time.Minute)
	mustCreate(t, tr, func() {})
	mustCreate(t, tr, func() {})

	if _, err := tr.Create(func() {}); err == nil {
		t.Fatal("Create beyond the limit should fail")
	}
	if got := tr.InFlight(); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}
}

func TestFinishedJobsFreeCapacity(t *testing.T) {
	tr := NewTracker(1, time.Minute)
	id := mustCreate(t, tr, func() {})
	tr.Complete(id, &query.Page{})

	if _, err := tr.Create(func() {}); err != nil {
		t.Fatalf("Create after completion: %v", err)
	}
}

func TestSweepRemovesExpiredJobs(t *testing.T) {
	tr := NewTracker(10, time.Minute)
	finished := mustCreate(t, tr, func() {})
	tr.Complete(finished, &query.Page{})
	running := mustCreate(t, tr, func() {})
	tr.MarkRunning(running)

	tr.sweep(time.Now().UTC().Add(2 * time.Minute))

	if _, err := tr.Get(finished); !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Errorf("expired job still present: %v", err)
	}
	if _, err := tr.Get(running); err != nil {
		t.Errorf("running job swept: %v", err)
	}
}

func TestSweepKeepsRecentJobs(t *testing.T) {
	tr := NewTracker(10, time.Minute)
	id := mustCreate(t, tr, func() {})
	tr.Complete(id, &query.Page{})

	tr.sweep(time.Now().UTC())

	if _, err := tr.Get(id); err != nil {
		t.Errorf("recently finished job swept: %v", err)
	}
}
