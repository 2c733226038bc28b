package export

import (
	"time"
)

// LatestStart returns the newest parseable value of the start column in the
// CSV at path. A missing file, or one without usable start values, yields the
// zero time.
func LatestStart(path string) (time.Time, error) {
	_, rows, err := readCSV(path)
	if err != nil {
		return time.Time{}, err
	}

	var latest time.Time
	for _, row := range rows {
		raw := row["start"]
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest, nil
}
