package cli

import (
	"fmt"
	"time"

	"github.com/sleepsync/sleepsync/internal/batch"
	"github.com/sleepsync/sleepsync/internal/collector"
	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/export"
	"github.com/sleepsync/sleepsync/internal/store"
	"github.com/spf13/cobra"
)

var fetchFlags struct {
	start  string
	end    string
	days   int
	emails []string
	single bool
}

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Full export of every user for a date window",
	Long: `Check each user's token, fetch all sleep records in the window and
write a flat CSV plus a raw JSON mirror per user.

Without --start the last fetch.days_back days are exported.

Example:
  sleepsync fetch --days 14
  sleepsync fetch --start 2025-01-01 --end 2025-01-31 --email a@example.com
  sleepsync fetch --single --start 2025-01-01`,
	RunE: runFetch,
}

var updateFlags struct {
	emails []string
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Append records newer than the last export (CI mode)",
	Long: `For each user, read the newest start time in their data file and fetch
from the following day up to now. New records are appended; the file is
rewritten when new columns appear.

Credentials come from the configured store; with credentials.backend auto
and WHOOP_BATCH_CREDENTIALS set, the secret value is used.`,
	RunE: runUpdate,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFlags.start, "start", "", "First day to export (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchFlags.end, "end", "", "Last day to export (YYYY-MM-DD, default today)")
	fetchCmd.Flags().IntVar(&fetchFlags.days, "days", 0, "Export the last N days (default fetch.days_back)")
	fetchCmd.Flags().StringSliceVar(&fetchFlags.emails, "email", nil, "Only process these users")
	fetchCmd.Flags().BoolVar(&fetchFlags.single, "single", false, "Use the single-user credential file")
	RootCmd.AddCommand(fetchCmd)

	updateCmd.Flags().StringSliceVar(&updateFlags.emails, "email", nil, "Only process these users")
	RootCmd.AddCommand(updateCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := a.cfg.RequireClient(); err != nil {
		return err
	}

	window, err := fetchWindow(time.Now())
	if err != nil {
		return err
	}

	plan := batch.Plan{
		Mode:       batch.ModeFull,
		Window:     window,
		ExportMode: export.ModeBatch,
		Only:       normalizeEmails(fetchFlags.emails),
	}
	if fetchFlags.single {
		plan.ExportMode = export.ModeCustom
	}
	return runBatch(cmd, a, plan, fetchFlags.single)
}

// fetchWindow resolves --start/--end/--days. A zero window lets the runner
// apply fetch.days_back.
func fetchWindow(now time.Time) (collector.Window, error) {
	switch {
	case fetchFlags.start != "":
		if fetchFlags.days > 0 {
			return collector.Window{}, fmt.Errorf("--days cannot be combined with --start")
		}
		return collector.ExplicitDates(now, fetchFlags.start, fetchFlags.end)
	case fetchFlags.end != "":
		return collector.Window{}, fmt.Errorf("--end requires --start")
	case fetchFlags.days < 0:
		return collector.Window{}, fmt.Errorf("--days cannot be negative")
	case fetchFlags.days > 0:
		return collector.LastDays(now, fetchFlags.days), nil
	default:
		return collector.Window{}, nil
	}
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := a.cfg.RequireClient(); err != nil {
		return err
	}
	return runBatch(cmd, a, batch.Plan{
		Mode: batch.ModeUpdate,
		Only: normalizeEmails(updateFlags.emails),
	}, false)
}

// runBatch loads the credential set, runs the plan and prints the summary.
// The command fails when any user failed so schedulers surface it.
func runBatch(cmd *cobra.Command, a *app, plan batch.Plan, single bool) error {
	ctx := cmd.Context()

	st, err := a.credentialStore(single)
	if err != nil {
		return err
	}
	defer st.Close()

	set, err := st.LoadSet(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no stored credentials; run `sleepsync authorize` first")
	}
	if err != nil {
		return err
	}

	m := a.newMetrics()
	runner, err := a.runner(ctx, st, m)
	if err != nil {
		return err
	}

	summary, runErr := runner.Run(ctx, set, plan)
	a.writeMetrics(m)
	if summary == nil {
		return runErr
	}

	if err := outputSummary(a.out, summary); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d of %d users failed: %w", len(summary.Failed), len(summary.Failed)+len(summary.Succeeded), summary.Err())
	}
	return nil
}
