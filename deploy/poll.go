package deploy

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/brandpush/platform"
)

// pollFunc reads a job once.
type pollFunc func(ctx context.Context) (*platform.Job, error)

// tickFunc observes every poll result (diagnostics, journal).
type tickFunc func(job *platform.Job)

// awaitJob polls until the job reaches a terminal state or the attempt
// budget is exhausted. The delay timer is stopped on every exit path so no
// pending timer outlives the workflow.
//
// Terminal rules: completed → (job, nil); failed → JobFailedError; budget
// exhausted → TimeoutError; a poll read error aborts immediately.
func awaitJob(ctx context.Context, clock clockwork.Clock, stage string, interval time.Duration, attempts int, poll pollFunc, tick tickFunc) (*platform.Job, error) {
	for i := 0; i < attempts; i++ {
		job, err := poll(ctx)
		if err != nil {
			return nil, err
		}
		if tick != nil {
			tick(job)
		}

		switch job.WorkflowState {
		case platform.JobCompleted:
			return job, nil
		case platform.JobFailed:
			return job, &JobFailedError{Stage: stage, Message: job.Message}
		}

		if i == attempts-1 {
			break
		}

		timer := clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.Chan():
		}
		timer.Stop()
	}
	return nil, &TimeoutError{Stage: stage, Attempts: attempts}
}
