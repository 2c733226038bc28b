package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sleepsync/sleepsync/internal/batch"
)

// UserResult is one row of the run summary.
type UserResult struct {
	Email   string `json:"email"`
	Status  string `json:"status"`
	Records int    `json:"records"`
	Details string `json:"details,omitempty"`
}

// RunReport is the JSON form of a batch summary.
type RunReport struct {
	RunID     string       `json:"run_id"`
	Mode      string       `json:"mode"`
	Window    string       `json:"window,omitempty"`
	Users     []UserResult `json:"users"`
	Records   int          `json:"records"`
	Artifacts []string     `json:"artifacts"`
	Uploaded  []string     `json:"uploaded,omitempty"`
	Duration  string       `json:"duration"`
}

func newRunReport(s *batch.Summary) RunReport {
	report := RunReport{
		RunID:     s.RunID,
		Mode:      string(s.Mode),
		Records:   s.Total(),
		Artifacts: s.Artifacts,
		Uploaded:  s.Uploaded,
		Duration:  s.Duration().Round(time.Millisecond).String(),
	}
	if !s.Window.Start.IsZero() {
		report.Window = s.Window.String()
	}
	for _, email := range s.Succeeded {
		report.Users = append(report.Users, UserResult{Email: email, Status: "OK", Records: s.Records[email]})
	}
	for _, f := range s.Failed {
		r := UserResult{Email: f.Email, Status: "FAIL", Details: f.Err.Error()}
		if f.Reauth {
			r.Status = "REAUTH"
		}
		report.Users = append(report.Users, r)
	}
	return report
}

func outputSummary(w io.Writer, s *batch.Summary) error {
	report := newRunReport(s)
	if globalFlags.JSON {
		return writeJSON(w, report)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSTATUS\tRECORDS\tDETAILS")
	for _, u := range report.Users {
		details := u.Details
		if details == "" {
			details = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.Email, statusIcon(u.Status)+" "+u.Status, u.Records, details)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s run %s: %d ok, %d failed, %d records in %s\n",
		report.Mode, report.RunID, len(s.Succeeded), len(s.Failed), report.Records, report.Duration)
	for _, path := range report.Artifacts {
		fmt.Fprintf(w, "  wrote %s\n", path)
	}
	for _, uri := range report.Uploaded {
		fmt.Fprintf(w, "  uploaded %s\n", uri)
	}
	if reauth := s.ReauthEmails(); len(reauth) > 0 {
		fmt.Fprintf(w, "\nRe-authorize with: sleepsync authorize --reauth")
		for _, email := range reauth {
			fmt.Fprintf(w, " --email %s", email)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func statusIcon(status string) string {
	switch status {
	case "FAIL", "REAUTH":
		return "✗"
	case "WARNING", "SKIPPED":
		return "!"
	default:
		return "✓"
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
