package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/brandpush/platform"
)

// scriptedPoll returns jobs from a fixed sequence and counts calls.
type scriptedPoll struct {
	jobs  []platform.Job
	calls int
}

func (s *scriptedPoll) poll(ctx context.Context) (*platform.Job, error) {
	if s.calls >= len(s.jobs) {
		return nil, errors.New("polled past end of script")
	}
	j := s.jobs[s.calls]
	s.calls++
	return &j, nil
}

func TestAwaitJobCompletedFirstPoll(t *testing.T) {
	sp := &scriptedPoll{jobs: []platform.Job{
		{WorkflowState: platform.JobCompleted, Completion: 1},
	}}

	job, err := awaitJob(context.Background(), clockwork.NewRealClock(), "upload", time.Hour, 60, sp.poll, nil)
	if err != nil {
		t.Fatalf("awaitJob: %v", err)
	}
	if job.WorkflowState != platform.JobCompleted {
		t.Fatalf("state = %q, want completed", job.WorkflowState)
	}
	if sp.calls != 1 {
		t.Fatalf("polls = %d, want 1 (no sleep before first poll)", sp.calls)
	}
}

func TestAwaitJobCompletedThirdPoll(t *testing.T) {
	sp := &scriptedPoll{jobs: []platform.Job{
		{WorkflowState: "queued"},
		{WorkflowState: "running", Completion: 0.5},
		{WorkflowState: platform.JobCompleted, Completion: 1},
	}}

	var ticks []string
	tick := func(j *platform.Job) { ticks = append(ticks, j.WorkflowState) }

	job, err := awaitJob(context.Background(), clockwork.NewRealClock(), "upload", time.Millisecond, 60, sp.poll, tick)
	if err != nil {
		t.Fatalf("awaitJob: %v", err)
	}
	if job.Completion != 1 {
		t.Fatalf("completion = %v, want 1", job.Completion)
	}
	if sp.calls != 3 {
		t.Fatalf("polls = %d, want exactly 3", sp.calls)
	}
	if len(ticks) != 3 || ticks[2] != platform.JobCompleted {
		t.Fatalf("ticks = %v, want every poll observed", ticks)
	}
}

func TestAwaitJobFailedState(t *testing.T) {
	sp := &scriptedPoll{jobs: []platform.Job{
		{WorkflowState: "running"},
		{WorkflowState: platform.JobFailed, Message: "regeneration blew up"},
	}}

	_, err := awaitJob(context.Background(), clockwork.NewRealClock(), "apply", time.Millisecond, 60, sp.poll, nil)
	var jf *JobFailedError
	if !errors.As(err, &jf) {
		t.Fatalf("err = %v, want *JobFailedError", err)
	}
	if jf.Stage != "apply" || jf.Message != "regeneration blew up" {
		t.Fatalf("unexpected JobFailedError: %+v", jf)
	}
}

func TestAwaitJobBudgetExhausted(t *testing.T) {
	sp := &scriptedPoll{jobs: []platform.Job{
		{WorkflowState: "running"},
		{WorkflowState: "running"},
		{WorkflowState: "running"},
	}}

	_, err := awaitJob(context.Background(), clockwork.NewRealClock(), "upload", time.Millisecond, 3, sp.poll, nil)
	var to *TimeoutError
	if !errors.As(err, &to) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if to.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", to.Attempts)
	}
	if sp.calls != 3 {
		t.Fatalf("polls = %d, want budget consumed exactly", sp.calls)
	}
}

func TestAwaitJobPollErrorAborts(t *testing.T) {
	boom := errors.New("progress endpoint gone")
	calls := 0
	poll := func(ctx context.Context) (*platform.Job, error) {
		calls++
		return nil, boom
	}

	_, err := awaitJob(context.Background(), clockwork.NewRealClock(), "upload", time.Hour, 60, poll, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the poll error", err)
	}
	if calls != 1 {
		t.Fatalf("polls = %d, want abort on first read error", calls)
	}
}

func TestAwaitJobContextCancelDuringDelay(t *testing.T) {
	// Fake clock: the delay timer never fires, so the only way out is the
	// canceled context.
	fc := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	sp := &scriptedPoll{jobs: []platform.Job{
		{WorkflowState: "running"},
		{WorkflowState: "running"},
	}}

	done := make(chan error, 1)
	go func() {
		_, err := awaitJob(ctx, fc, "upload", time.Second, 60, sp.poll, nil)
		done <- err
	}()

	// Wait for awaitJob to park on the timer, then cancel.
	if err := fc.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("awaitJob did not return after cancel")
	}
}
