package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sleepsync/sleepsync/internal/auth"
	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/store"
	"github.com/spf13/cobra"
)

var checkFlags struct {
	probe bool
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"status"},
	Short:   "Check configuration, credential store and tokens",
	Long: `Perform a health check of the SleepSync setup.

This command checks:
- Configuration validity
- OAuth client settings
- Credential store reachability
- Token expiry of every stored user

No API calls are made unless --probe is given, in which case every token is
probed and refreshed where needed.

Example:
  sleepsync check
  sleepsync check --probe --json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkFlags.probe, "probe", false, "Probe and refresh tokens against the API")
	RootCmd.AddCommand(checkCmd)
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return outputCheckResults(cmd.OutOrStdout(), []CheckResult{{
			Name:    "Configuration",
			Status:  "FAIL",
			Message: fmt.Sprintf("Failed to load configuration: %v", err),
		}})
	}

	results := []CheckResult{checkConfig(a), checkClient(a)}
	results = append(results, checkCredentials(cmd.Context(), a, time.Now())...)
	results = append(results, checkExportDir(a))
	return outputCheckResults(a.out, results)
}

func checkConfig(a *app) CheckResult {
	source := globalFlags.Config
	if _, err := os.Stat(source); err != nil {
		source = "defaults and environment"
	}
	return CheckResult{
		Name:    "Configuration",
		Status:  "OK",
		Message: fmt.Sprintf("Configuration valid (version: %s)", a.cfg.Version),
		Details: fmt.Sprintf("Source: %s, Backend: %s", source, a.cfg.Credentials.ResolvedBackend()),
	}
}

func checkClient(a *app) CheckResult {
	result := CheckResult{Name: "OAuth client", Status: "OK", Message: "Client id and secret set"}
	if err := a.cfg.RequireClient(); err != nil {
		result.Status = "FAIL"
		result.Message = err.Error()
		return result
	}
	if a.cfg.Provider.RedirectURI == "" {
		result.Status = "WARNING"
		result.Message = "WHOOP_REDIRECT_URI not set; authorize will not work"
	}
	return result
}

func checkCredentials(ctx context.Context, a *app, now time.Time) []CheckResult {
	result := CheckResult{Name: "Credential store", Status: "OK"}

	st, err := a.credentialStore(false)
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to open credential store: %v", err)
		return []CheckResult{result}
	}
	defer st.Close()

	set, err := st.LoadSet(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		result.Status = "WARNING"
		result.Message = "No credentials stored; run `sleepsync authorize`"
		return []CheckResult{result}
	case err != nil:
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to load credentials: %v", err)
		return []CheckResult{result}
	}
	result.Message = fmt.Sprintf("%d users stored", len(set))
	results := []CheckResult{result}

	var lc *auth.Lifecycle
	if checkFlags.probe && a.cfg.RequireClient() == nil {
		lc = a.lifecycle()
	}
	refreshed := false
	for _, email := range set.Emails() {
		cred := set[email]
		if lc == nil {
			results = append(results, tokenCheck(email, cred, now))
			continue
		}
		state, err := lc.Ensure(ctx, cred)
		r := CheckResult{Name: email, Status: "OK", Message: "Token " + state.String()}
		if err != nil {
			r.Status = "FAIL"
			r.Message = fmt.Sprintf("Token %s: %v", state, err)
			r.Details = "run `sleepsync authorize --reauth --email " + email + "`"
		}
		if state == auth.Refreshed {
			refreshed = true
		}
		results = append(results, r)
	}

	if refreshed {
		if err := st.SaveSet(ctx, set); err != nil {
			results = append(results, CheckResult{
				Name:    "Credential store",
				Status:  "FAIL",
				Message: fmt.Sprintf("Failed to save refreshed tokens: %v", err),
			})
		}
	}
	return results
}

// tokenCheck judges a token from its stored expiry only.
func tokenCheck(email string, cred *models.Credential, now time.Time) CheckResult {
	r := CheckResult{Name: email, Status: "OK"}
	switch {
	case !cred.Expired(now):
		r.Message = "Token valid for " + cred.Remaining(now).Round(time.Minute).String()
	case cred.HasRefreshToken():
		r.Status = "WARNING"
		r.Message = "Token expired; will be refreshed on next run"
	default:
		r.Status = "FAIL"
		r.Message = "Token expired and no refresh token"
		r.Details = "run `sleepsync authorize --reauth --email " + email + "`"
	}
	return r
}

func checkExportDir(a *app) CheckResult {
	root := a.cfg.Export.Root
	result := CheckResult{Name: "Exports", Status: "OK", Details: "Root: " + root}
	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		result.Message = "Export directory will be created on first run"
	case err != nil:
		result.Status = "FAIL"
		result.Message = err.Error()
	case !info.IsDir():
		result.Status = "FAIL"
		result.Message = "Export root is not a directory"
	default:
		mirrors, _ := os.ReadDir(a.cfg.Export.JSONDir)
		result.Message = fmt.Sprintf("Export directory present, %d entries in %s", len(mirrors), a.cfg.Export.JSONDir)
	}
	return result
}

func outputCheckResults(w io.Writer, results []CheckResult) error {
	if globalFlags.JSON {
		if err := writeJSON(w, results); err != nil {
			return err
		}
	} else if err := outputCheckResultsTable(w, results); err != nil {
		return err
	}

	for _, r := range results {
		if r.Status == "FAIL" {
			return fmt.Errorf("health check failed")
		}
	}
	return nil
}

func outputCheckResultsTable(w io.Writer, results []CheckResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE\tDETAILS")

	allPassed := true
	for _, r := range results {
		if r.Status == "FAIL" {
			allPassed = false
		}
		details := r.Details
		if details == "" {
			details = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, statusIcon(r.Status)+" "+r.Status, r.Message, details)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	if allPassed {
		fmt.Fprintln(w, "✓ All checks passed!")
	} else {
		fmt.Fprintln(w, "✗ Some checks failed. Please review the output above.")
	}
	return nil
}
