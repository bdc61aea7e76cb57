// Package journal persists a deployment audit trail in SQLite: one row per
// workflow run, plus an event row for every state transition and poll tick.
// The journal is diagnostics only: a failing journal write never aborts a
// deployment.
package journal

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/brandpush/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS deploy_runs (
	run_id      TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	theme_name  TEXT NOT NULL,
	shared_id   TEXT,
	md5         TEXT,
	locator     TEXT,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT
);

CREATE TABLE IF NOT EXISTS deploy_events (
	event_id   TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES deploy_runs(run_id),
	at         INTEGER NOT NULL,
	kind       TEXT NOT NULL,            -- 'transition' | 'poll'
	state      TEXT NOT NULL,            -- workflow state or job state
	completion REAL,
	message    TEXT
);

CREATE INDEX IF NOT EXISTS idx_deploy_events_run ON deploy_events(run_id, at);
`

// Journal records deployment runs.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and migrates) the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	return New(db, logger), nil
}

// New wraps an already-open database. The schema must be applied by the
// caller (tests use dbopen.OpenMemory with Schema()).
func New(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

// Schema returns the journal DDL for callers that open the database
// themselves.
func Schema() string { return schema }

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// StartRun inserts a run row and returns its id.
func (j *Journal) StartRun(ctx context.Context, themeName string) string {
	runID := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO deploy_runs (run_id, started_at, theme_name) VALUES (?,?,?)`,
		runID, time.Now().Unix(), themeName)
	if err != nil {
		j.logger.Warn("journal: start run failed", "error", err)
	}
	return runID
}

// Transition records a workflow state change.
func (j *Journal) Transition(ctx context.Context, runID, state string) {
	j.event(ctx, runID, "transition", state, 0, "")
}

// PollTick records one observation of a background job.
func (j *Journal) PollTick(ctx context.Context, runID, jobState string, completion float64, message string) {
	j.event(ctx, runID, "poll", jobState, completion, message)
}

func (j *Journal) event(ctx context.Context, runID, kind, state string, completion float64, message string) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO deploy_events (event_id, run_id, at, kind, state, completion, message) VALUES (?,?,?,?,?,?,?)`,
		uuid.NewString(), runID, time.Now().Unix(), kind, state, completion, message)
	if err != nil {
		j.logger.Warn("journal: event write failed", "run_id", runID, "kind", kind, "error", err)
	}
}

// FinishRun closes out a run. Err may be nil for success; md5/locator/shared
// reflect the final report even when persistence failed.
func (j *Journal) FinishRun(ctx context.Context, runID, status, sharedID, md5, locator string, runErr error) {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE deploy_runs SET finished_at = ?, status = ?, shared_id = ?, md5 = ?, locator = ?, error = ? WHERE run_id = ?`,
		time.Now().Unix(), status, sharedID, md5, locator, msg, runID)
	if err != nil {
		j.logger.Warn("journal: finish run failed", "run_id", runID, "error", err)
	}
}

// Run is a journal row for reporting.
type Run struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	ThemeName  string    `json:"theme_name"`
	SharedID   string    `json:"shared_id,omitempty"`
	MD5        string    `json:"md5,omitempty"`
	Locator    string    `json:"locator,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, started_at, COALESCE(finished_at, 0), theme_name,
		       COALESCE(shared_id, ''), COALESCE(md5, ''), COALESCE(locator, ''),
		       status, COALESCE(error, '')
		FROM deploy_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.RunID, &started, &finished, &r.ThemeName,
			&r.SharedID, &r.MD5, &r.Locator, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns a run's events in order.
func (j *Journal) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT at, kind, state, COALESCE(completion, 0), COALESCE(message, '')
		FROM deploy_events WHERE run_id = ? ORDER BY at, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&at, &e.Kind, &e.State, &e.Completion, &e.Message); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Event is one transition or poll observation.
type Event struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Completion float64   `json:"completion"`
	Message    string    `json:"message,omitempty"`
}
