package collector

import (
	"fmt"
	"time"
)

// QueryTimeLayout is the timestamp format the sleep endpoint accepts.
const QueryTimeLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is used for user supplied dates and in export file names.
const DateLayout = "2006-01-02"

// Window is the closed time range a fetch covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// LastDays covers the n days up to now.
func LastDays(now time.Time, n int) Window {
	return Window{Start: now.AddDate(0, 0, -n), End: now}
}

// SinceLatest starts at midnight UTC of the day after latest, so the day
// already exported is not fetched twice. With no latest record it falls back
// to LastDays(now, fallbackDays).
func SinceLatest(now, latest time.Time, fallbackDays int) Window {
	if latest.IsZero() {
		return LastDays(now, fallbackDays)
	}
	l := latest.UTC()
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Window{Start: start, End: now}
}

// ExplicitDates parses YYYY-MM-DD bounds. The end date covers the whole day
// and is capped at now. An empty end means now.
func ExplicitDates(now time.Time, startDate, endDate string) (Window, error) {
	start, err := time.ParseInLocation(DateLayout, startDate, time.UTC)
	if err != nil {
		return Window{}, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}

	end := now
	if endDate != "" {
		day, err := time.ParseInLocation(DateLayout, endDate, time.UTC)
		if err != nil {
			return Window{}, fmt.Errorf("invalid end date %q: %w", endDate, err)
		}
		end = day.Add(24*time.Hour - time.Millisecond)
		if end.After(now) {
			end = now
		}
	}

	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate rejects empty or inverted windows.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds are required")
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("window end %s is before start %s", w.End.Format(DateLayout), w.Start.Format(DateLayout))
	}
	return nil
}

// Empty reports whether there is nothing to fetch, as when an update runs on
// the same day as the latest exported record.
func (w Window) Empty() bool {
	return !w.Start.Before(w.End)
}

// StartParam and EndParam render the bounds for the query string.
func (w Window) StartParam() string { return w.Start.UTC().Format(QueryTimeLayout) }
func (w Window) EndParam() string { return w.End.UTC().Format(QueryTimeLayout) }

func (w Window) String() string {
	return w.Start.UTC().Format(DateLayout) + ".." + w.End.UTC().Format(DateLayout)
}
