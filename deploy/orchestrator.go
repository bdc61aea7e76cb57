// Package deploy sequences the theme publication workflow: discover the
// current platform context, upload the freshly rendered asset, wait for the
// platform's background jobs, apply the asset to the session, and persist
// the shared pointer so the change survives future sessions.
//
// The workflow is a strictly forward state machine. There is no rollback: a
// persistence failure leaves the asset uploaded and applied, which is
// harmless, since an unpersisted brand config is just an orphaned record.
package deploy

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/brandpush/journal"
	"github.com/hazyhaar/brandpush/platform"
)

// State is a workflow position. States are never re-entered.
type State string

const (
	StateDiscovering    State = "discovering"
	StateUploading      State = "uploading"
	StateAwaitingUpload State = "awaiting_upload_job"
	StateApplying       State = "applying"
	StateAwaitingApply  State = "awaiting_apply_job"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// PlatformClient is the slice of the platform client the orchestrator uses.
type PlatformClient interface {
	UploadTheme(ctx context.Context, state platform.ThemeState, asset []byte) (*platform.AssetRecord, error)
	PollJob(ctx context.Context, progressURL string) (*platform.Job, error)
	ApplyTheme(ctx context.Context, name string, state platform.ThemeState, locator string) (*platform.ApplyResult, error)
	PersistPointer(ctx context.Context, sharedID, md5 string) error
}

// Config configures the orchestrator.
type Config struct {
	// ThemeName labels the new customization on the platform.
	ThemeName string `yaml:"theme_name"`
	// PollInterval between job status reads. Default: 1s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// UploadPollAttempts bounds the upload job wait. Default: 60.
	UploadPollAttempts int `yaml:"upload_poll_attempts"`
	// ApplyPollAttempts bounds the apply/regeneration wait, which the
	// platform takes much longer for. Default: 180.
	ApplyPollAttempts int `yaml:"apply_poll_attempts"`
}

func (c *Config) defaults() {
	if c.ThemeName == "" {
		c.ThemeName = "brandpush deploy"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.UploadPollAttempts <= 0 {
		c.UploadPollAttempts = 60
	}
	if c.ApplyPollAttempts <= 0 {
		c.ApplyPollAttempts = 180
	}
}

// Report is the workflow outcome handed to the operator. On persistence
// failure it still carries the applied identifier and locator: the session
// kept the asset, and a manual retry of the pointer update is safe.
type Report struct {
	RunID      string
	FinalState State
	ThemeName  string
	SharedID   string
	MD5        string
	Locator    string
	PersistErr error
}

// Orchestrator runs one deployment. Single logical thread of control: every
// step's response is fully parsed and validated before the next step starts.
type Orchestrator struct {
	client  PlatformClient
	source  ContextSource
	cfg     Config
	clock   clockwork.Clock
	journal *journal.Journal
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock substitutes the delay clock (tests use a fake).
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithJournal enables the audit trail.
func WithJournal(j *journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// New creates an Orchestrator. One instance per invocation; it is not
// reusable across runs.
func New(client PlatformClient, source ContextSource, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		client: client,
		source: source,
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the workflow with the given asset text. The returned report
// is non-nil whenever the workflow got far enough to have something to say;
// on persistence failure both the report and the error are returned.
func (o *Orchestrator) Run(ctx context.Context, asset []byte) (*Report, error) {
	report := &Report{ThemeName: o.cfg.ThemeName, FinalState: StateFailed}
	report.RunID = o.startRun(ctx)

	fail := func(err error) (*Report, error) {
		o.logger.Error("deploy: workflow failed", "run_id", report.RunID, "error", err)
		o.finishRun(ctx, report, err)
		return report, err
	}

	// Discovering: anchor to the right platform context before any write.
	o.transition(ctx, report, StateDiscovering)
	rc, err := o.source.RuntimeContext(ctx)
	if err != nil {
		return fail(err)
	}
	shared, err := MatchSharedTheme(rc)
	if err != nil {
		return fail(err)
	}
	if len(rc.State.Variables) == 0 {
		return fail(&StatePreconditionError{Reason: "active brand config has no variables; refusing to upload defaults"})
	}
	report.SharedID = shared.ID
	state := rc.State.Clone()
	o.logger.Info("deploy: context discovered",
		"active_md5", rc.ActiveMD5,
		"shared_id", shared.ID,
		"shared_name", shared.Name,
		"variables", len(state.Variables))

	// Uploading: verbatim state plus the new asset.
	o.transition(ctx, report, StateUploading)
	rec, err := o.client.UploadTheme(ctx, state, asset)
	if err != nil {
		return fail(err)
	}
	report.MD5 = rec.MD5
	report.Locator = rec.Locator

	// AwaitingUploadJob: the locator is unusable until the platform's
	// background sync completes.
	o.transition(ctx, report, StateAwaitingUpload)
	if _, err := o.await(ctx, report, "upload", rec.ProgressURL, o.cfg.UploadPollAttempts); err != nil {
		return fail(err)
	}

	// Applying: reference the asset by locator, echo the state again.
	o.transition(ctx, report, StateApplying)
	applied, err := o.client.ApplyTheme(ctx, o.cfg.ThemeName, state, rec.Locator)
	if err != nil {
		return fail(err)
	}

	// AwaitingApplyJob: the platform does not always generate a
	// regeneration job; an empty handle list is documented as "nothing to
	// regenerate" and falls through.
	o.transition(ctx, report, StateAwaitingApply)
	if len(applied.ProgressURLs) == 0 {
		o.logger.Warn("deploy: no regeneration progress returned; continuing", "run_id", report.RunID)
	} else {
		if _, err := o.await(ctx, report, "apply", applied.ProgressURLs[0], o.cfg.ApplyPollAttempts); err != nil {
			return fail(err)
		}
	}

	// Persisting: the one durable write. Failure is reported, never rolled
	// back; the session keeps the applied asset either way.
	o.transition(ctx, report, StatePersisting)
	if err := o.client.PersistPointer(ctx, shared.ID, rec.MD5); err != nil {
		report.PersistErr = err
		o.logger.Error("deploy: pointer persistence failed; asset remains uploaded and applied",
			"run_id", report.RunID,
			"shared_id", shared.ID,
			"md5", rec.MD5,
			"locator", rec.Locator,
			"error", err)
		o.finishRun(ctx, report, err)
		return report, err
	}

	report.FinalState = StateDone
	o.transition(ctx, report, StateDone)
	o.finishRun(ctx, report, nil)
	o.logger.Info("deploy: done; verify on an ordinary page",
		"run_id", report.RunID,
		"theme", report.ThemeName,
		"shared_id", report.SharedID,
		"md5", report.MD5,
		"locator", report.Locator)
	return report, nil
}

func (o *Orchestrator) await(ctx context.Context, report *Report, stage, progressURL string, attempts int) (*platform.Job, error) {
	return awaitJob(ctx, o.clock, stage, o.cfg.PollInterval, attempts,
		func(ctx context.Context) (*platform.Job, error) {
			return o.client.PollJob(ctx, progressURL)
		},
		func(job *platform.Job) {
			o.logger.Info("deploy: job progress",
				"run_id", report.RunID,
				"stage", stage,
				"state", job.WorkflowState,
				"completion", job.Completion,
				"message", job.Message)
			if o.journal != nil {
				o.journal.PollTick(ctx, report.RunID, job.WorkflowState, job.Completion, job.Message)
			}
		})
}

func (o *Orchestrator) startRun(ctx context.Context) string {
	if o.journal == nil {
		return ""
	}
	return o.journal.StartRun(ctx, o.cfg.ThemeName)
}

func (o *Orchestrator) transition(ctx context.Context, report *Report, s State) {
	o.logger.Info("deploy: state", "run_id", report.RunID, "state", string(s))
	if o.journal != nil {
		o.journal.Transition(ctx, report.RunID, string(s))
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, report *Report, err error) {
	if o.journal == nil {
		return
	}
	status := string(StateDone)
	if err != nil {
		status = string(StateFailed)
	}
	o.journal.FinishRun(ctx, report.RunID, status, report.SharedID, report.MD5, report.Locator, err)
}
