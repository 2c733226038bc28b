// Package batch runs the per-user fetch and export loop over a credential set.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/sleepsync/sleepsync/internal/auth"
	"github.com/sleepsync/sleepsync/internal/collector"
	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/export"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/store"
)

const (
	DefaultUserDelay      = 5 * time.Second
	DefaultDaysBack       = 30
	DefaultUpdateDaysBack = 7
)

// TokenManager keeps credentials usable. *auth.Lifecycle implements it.
type TokenManager interface {
	Ensure(ctx context.Context, cred *models.Credential) (auth.State, error)
	Profile(ctx context.Context, cred *models.Credential) (*models.Profile, error)
}

// Fetcher returns all sleep records in a window. *collector.SleepFetcher
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, cred *models.Credential, w collector.Window) ([]models.SleepRecord, error)
}

// Recorder receives run metrics.
type Recorder interface {
	ObserveTokenState(state string)
	ObserveUser(mode, outcome string, records int, elapsed time.Duration)
	ObserveRun(mode string, succeeded, failed int, elapsed time.Duration)
}

// Uploader copies written artifacts elsewhere and returns their locations.
type Uploader interface {
	Upload(ctx context.Context, paths []string) ([]string, error)
}

// Notifier delivers the run report.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Plan describes one run.
type Plan struct {
	Mode Mode
	// Window is used by full runs; zero means the last DaysBack days.
	Window collector.Window
	// ExportMode names the files of full runs: export.ModeBatch or ModeCustom.
	ExportMode string
	// Only limits the run to these emails.
	Only []string
}

// Runner drives users one at a time through token check, fetch and export.
type Runner struct {
	store    store.CredentialStore
	tokens   TokenManager
	fetcher  Fetcher
	writer   *export.Writer
	logger   *logging.Logger
	now      func() time.Time
	sleep    collector.SleepFunc
	newRunID func() string

	delay          time.Duration
	daysBack       int
	updateDaysBack int

	recorder      Recorder
	uploader      Uploader
	notifier      Notifier
	notifyOnError bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithUserDelay sets the pause between users.
func WithUserDelay(d time.Duration) Option {
	return func(r *Runner) { r.delay = d }
}

// WithDays sets the default full window and the update fallback window.
func WithDays(daysBack, updateDaysBack int) Option {
	return func(r *Runner) {
		if daysBack > 0 {
			r.daysBack = daysBack
		}
		if updateDaysBack > 0 {
			r.updateDaysBack = updateDaysBack
		}
	}
}

// WithSleep replaces the wait used for the inter-user delay.
func WithSleep(fn collector.SleepFunc) Option {
	return func(r *Runner) { r.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRecorder attaches run metrics.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithUploader uploads artifacts after the loop.
func WithUploader(u Uploader) Option {
	return func(r *Runner) { r.uploader = u }
}

// WithNotifier sends the summary after the loop. With onlyOnFailure set,
// fully successful runs stay quiet.
func WithNotifier(n Notifier, onlyOnFailure bool) Option {
	return func(r *Runner) {
		r.notifier = n
		r.notifyOnError = onlyOnFailure
	}
}

// NewRunner creates a Runner. st receives the credential set after refreshes
// and at the end of every run.
func NewRunner(st store.CredentialStore, tokens TokenManager, fetcher Fetcher, writer *export.Writer, opts ...Option) *Runner {
	r := &Runner{
		store:          st,
		tokens:         tokens,
		fetcher:        fetcher,
		writer:         writer,
		logger:         logging.Discard(),
		now:            time.Now,
		sleep:          collector.Sleep,
		newRunID:       logging.NewRunID,
		delay:          DefaultUserDelay,
		daysBack:       DefaultDaysBack,
		updateDaysBack: DefaultUpdateDaysBack,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every user in set in email order. Per-user failures are
// collected in the summary and never stop the loop; the returned error is
// reserved for an unusable plan, cancellation and a failed final save.
// Credentials in set are updated in place.
func (r *Runner) Run(ctx context.Context, set models.CredentialSet, plan Plan) (*Summary, error) {
	if plan.Mode == "" {
		plan.Mode = ModeFull
	}
	if plan.Mode != ModeFull && plan.Mode != ModeUpdate {
		return nil, fmt.Errorf("unknown run mode %q", plan.Mode)
	}
	if plan.ExportMode == "" {
		plan.ExportMode = export.ModeBatch
	}

	emails := set.Emails()
	if len(plan.Only) > 0 {
		emails = plan.Only
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("no credentials to process")
	}

	ctx, runID := logging.EnsureRunID(ctx, r.newRunID)
	summary := newSummary(runID, plan.Mode, r.now())

	if plan.Mode == ModeFull {
		if plan.Window.Start.IsZero() {
			plan.Window = collector.LastDays(summary.Started, r.daysBack)
		}
		if err := plan.Window.Validate(); err != nil {
			return nil, err
		}
		summary.Window = plan.Window
	}

	r.logger.InfoWithContext(ctx, "batch run started", "mode", plan.Mode, "users", len(emails), "window", summary.Window.String())

	var runErr error
	for i, email := range emails {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		cred, ok := set[email]
		if !ok || cred == nil {
			summary.fail(email, fmt.Errorf("no stored credential"), true)
		} else {
			r.runUser(ctx, set, email, cred, plan, summary)
		}

		if i < len(emails)-1 && r.delay > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				runErr = err
				break
			}
		}
	}

	// Wrap-up runs even after cancellation. Failed users keep their last
	// known credential.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SaveSet(ctx, set); err != nil {
		r.logger.ErrorWithContext(ctx, "saving credentials failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("save credentials: %w", err)
		}
	}

	if r.uploader != nil && len(summary.Artifacts) > 0 {
		uploaded, err := r.uploader.Upload(ctx, summary.Artifacts)
		if err != nil {
			r.logger.ErrorWithContext(ctx, "artifact upload failed", "error", err)
		}
		summary.Uploaded = uploaded
	}

	summary.Finished = r.now()
	if r.recorder != nil {
		r.recorder.ObserveRun(string(plan.Mode), len(summary.Succeeded), len(summary.Failed), summary.Duration())
	}

	r.logger.InfoWithContext(ctx, "batch run finished",
		"succeeded", len(summary.Succeeded), "failed", len(summary.Failed),
		"records", summary.Total(), "artifacts", len(summary.Artifacts))

	if r.notifier != nil && (!r.notifyOnError || len(summary.Failed) > 0) {
		if err := r.notifier.Notify(ctx, summary.Text()); err != nil {
			r.logger.WarnWithContext(ctx, "run notification failed", "error", err)
		}
	}

	return summary, runErr
}

func (r *Runner) runUser(ctx context.Context, set models.CredentialSet, email string, cred *models.Credential, plan Plan, summary *Summary) {
	if cred.Email == "" {
		cred.Email = email
	}
	logger := r.logger.With("email", email)
	started := r.now()

	records, artifacts, reauth, err := r.processUser(ctx, set, cred, plan, logger)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		summary.fail(email, err, reauth)
		if reauth {
			logger.ErrorWithContext(ctx, "credential needs authorization; re-run `sleepsync authorize`", "error", err)
		} else {
			logger.ErrorWithContext(ctx, "user failed", "error", err)
		}
	} else {
		summary.Succeeded = append(summary.Succeeded, email)
		summary.Records[email] = records
		summary.Artifacts = append(summary.Artifacts, artifacts...)
	}

	if r.recorder != nil {
		r.recorder.ObserveUser(string(plan.Mode), outcome, records, r.now().Sub(started))
	}
}

func (r *Runner) processUser(ctx context.Context, set models.CredentialSet, cred *models.Credential, plan Plan, logger *logging.Logger) (int, []string, bool, error) {
	state, err := r.tokens.Ensure(ctx, cred)
	if r.recorder != nil {
		r.recorder.ObserveTokenState(state.String())
	}
	if err != nil {
		return 0, nil, state.NeedsReauth(), err
	}
	logger.InfoWithContext(ctx, "token ready", "state", state.String(), "expires_in", cred.Remaining(r.now()).Round(time.Second).String())

	if state == auth.Refreshed {
		if err := r.store.SaveSet(ctx, set); err != nil {
			logger.WarnWithContext(ctx, "saving refreshed credential failed", "error", err)
		}
	}

	if plan.Mode == ModeUpdate {
		return r.update(ctx, cred, logger)
	}
	return r.full(ctx, cred, plan, logger)
}

func (r *Runner) full(ctx context.Context, cred *models.Credential, plan Plan, logger *logging.Logger) (int, []string, bool, error) {
	if profile, err := r.tokens.Profile(ctx, cred); err != nil {
		logger.WarnWithContext(ctx, "profile lookup failed; using stored names", "error", err)
	} else {
		cred.ApplyProfile(*profile)
	}

	records, err := r.fetcher.Fetch(ctx, cred, plan.Window)
	if err != nil {
		return 0, nil, isAuthError(err), err
	}
	if len(records) == 0 {
		return 0, nil, false, errors.ErrNoRecords
	}

	artifacts, err := r.writer.WriteFull(export.FullExport{
		Mode:        plan.ExportMode,
		Email:       cred.Email,
		Name:        cred.DisplayName(),
		WhoopUserID: cred.WhoopUserID,
		Start:       plan.Window.Start,
		End:         plan.Window.End,
		Records:     records,
	})
	if err != nil {
		return len(records), artifacts, false, err
	}

	stats := models.Summarize(records)
	logger.InfoWithContext(ctx, "sleep summary",
		"records", stats.Records,
		"avg_duration_hours", fmt.Sprintf("%.2f", stats.AvgDuration.Hours()),
		"avg_performance", fmt.Sprintf("%.1f", stats.AvgPerformance),
		"scored", stats.ScoredRecords)
	return len(records), artifacts, false, nil
}

func (r *Runner) update(ctx context.Context, cred *models.Credential, logger *logging.Logger) (int, []string, bool, error) {
	latest, err := r.writer.LatestStart(cred.Email)
	if err != nil {
		logger.WarnWithContext(ctx, "could not read latest exported record", "error", err)
	}
	window := collector.SinceLatest(r.now(), latest, r.updateDaysBack)
	if window.Empty() {
		logger.InfoWithContext(ctx, "already up to date", "latest", latest.Format(time.RFC3339))
		return 0, nil, false, nil
	}

	records, err := r.fetcher.Fetch(ctx, cred, window)
	if err != nil {
		return 0, nil, isAuthError(err), err
	}
	if len(records) == 0 {
		logger.InfoWithContext(ctx, "no new records", "window", window.String())
		return 0, nil, false, nil
	}

	path, err := r.writer.Append(cred.Email, cred.DisplayName(), cred.WhoopUserID, records)
	if err != nil {
		return len(records), nil, false, err
	}
	return len(records), []string{path}, false, nil
}

func isAuthError(err error) bool {
	var authErr *errors.ErrAuth
	return errors.As(err, &authErr)
}
