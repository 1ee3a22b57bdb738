package engine

import (
	"context"
	"errors"

	"github.com/quarrysearch/quarry/internal/jobs"
	"github.com/quarrysearch/quarry/internal/query"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

// SearchAsync submits the query for background execution and returns a job
// identifier immediately. The job's result is polled with Job and can be
// read any number of times after completion. The job runs detached from
// the caller's context; only an explicit CancelJob (or the query timeout)
// stops it.
func (e *SearchEngine) SearchAsync(req query.Request) (string, error) {
	req = e.withRankingDefaults(req)
	jobCtx, cancel := context.WithTimeout(context.Background(), e.queryTimeout)

	id, err := e.jobs.Create(cancel)
	if err != nil {
		cancel()
		return "", err
	}
	if e.metrics != nil {
		e.metrics.AsyncJobsInFlight.Set(float64(e.jobs.InFlight()))
	}

	go func() {
		defer cancel()
		if status := e.jobs.MarkRunning(id); status != jobs.StatusRunning {
			// Cancelled before the goroutine was scheduled.
			e.finishJobMetrics(status)
			return
		}

		page, err := e.queries.Execute(jobCtx, req)
		switch {
		case errors.Is(err, apperrors.ErrCancelled):
			e.jobs.MarkCancelled(id)
			e.finishJobMetrics(jobs.StatusCancelled)
		case err != nil:
			e.jobs.Fail(id, err)
			e.finishJobMetrics(jobs.StatusFailed)
			e.logger.Error("async search failed", "job_id", id, "error", err)
		default:
			e.jobs.Complete(id, page)
			e.finishJobMetrics(jobs.StatusCompleted)
		}
	}()
	return id, nil
}

// Job returns the current view of the job; polling is non-destructive.
func (e *SearchEngine) Job(id string) (jobs.View, error) {
	return e.jobs.Get(id)
}

// CancelJob marks an in-flight job cancelled and interrupts its scoring.
func (e *SearchEngine) CancelJob(id string) error {
	return e.jobs.Cancel(id)
}

// StartJobSweeper launches the retention sweep for finished jobs.
func (e *SearchEngine) StartJobSweeper(ctx context.Context) {
	e.jobs.StartSweeper(ctx)
}

func (e *SearchEngine) finishJobMetrics(status jobs.Status) {
	if e.metrics == nil {
		return
	}
	e.metrics.AsyncJobsInFlight.Set(float64(e.jobs.InFlight()))
	e.metrics.AsyncJobsTotal.WithLabelValues(string(status)).Inc()
}
