package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/sleepsync/sleepsync/internal/collector"
	"go.uber.org/multierr"
)

// Mode selects between a full export and an append-only update.
type Mode string

const (
	// ModeFull fetches a window and writes a fresh CSV and JSON mirror per user.
	ModeFull Mode = "full"
	// ModeUpdate fetches from the day after each user's newest exported
	// record and appends to their data file.
	ModeUpdate Mode = "update"
)

// Failure is one user that did not complete.
type Failure struct {
	Email string
	Err   error
	// Reauth means only `sleepsync authorize` can recover this user.
	Reauth bool
}

// Summary is the outcome of a Run.
type Summary struct {
	RunID     string
	Mode      Mode
	Window    collector.Window
	Succeeded []string
	Failed    []Failure
	Records   map[string]int
	Artifacts []string
	Uploaded  []string
	Started   time.Time
	Finished  time.Time
}

func newSummary(runID string, mode Mode, started time.Time) *Summary {
	return &Summary{
		RunID:   runID,
		Mode:    mode,
		Records: make(map[string]int),
		Started: started,
	}
}

func (s *Summary) fail(email string, err error, reauth bool) {
	s.Failed = append(s.Failed, Failure{Email: email, Err: err, Reauth: reauth})
}

// Total is the number of records fetched across users.
func (s *Summary) Total() int {
	n := 0
	for _, c := range s.Records {
		n += c
	}
	return n
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Err combines all per-user failures; nil when every user succeeded.
func (s *Summary) Err() error {
	var err error
	for _, f := range s.Failed {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Email, f.Err))
	}
	return err
}

// ReauthEmails lists users that need interactive authorization.
func (s *Summary) ReauthEmails() []string {
	var out []string
	for _, f := range s.Failed {
		if f.Reauth {
			out = append(out, f.Email)
		}
	}
	return out
}

// Text renders a short plain report for notifications.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sleepsync %s run %s\n", s.Mode, s.RunID)
	fmt.Fprintf(&b, "users: %d ok, %d failed; records: %d; took %s\n",
		len(s.Succeeded), len(s.Failed), s.Total(), s.Duration().Round(time.Second))
	for _, f := range s.Failed {
		line := fmt.Sprintf("- %s: %v", f.Email, f.Err)
		if f.Reauth {
			line += " (run `sleepsync authorize`)"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
