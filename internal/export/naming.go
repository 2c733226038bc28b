package export

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	// ModeBatch names exports from a multi-user run.
	ModeBatch = "batch"
	// ModeCustom names exports from a single-user run.
	ModeCustom = "custom"

	dateLayout  = "2006-01-02"
	fileDate    = "20060102"
	fileStamp   = "20060102_150405"
	mirrorGlob  = "sleep_data_%s_*.json"
	filePrefix  = "sleep_data_"
	combinedPfx = "combined_sleep_data_expanded_"
)

// SafeIdentity turns an email into a file name fragment: "@" becomes "_at_",
// "." becomes "_", and anything else outside [A-Za-z0-9_-] becomes "_".
func SafeIdentity(email string) string {
	var b strings.Builder
	for _, r := range email {
		switch {
		case r == '@':
			b.WriteString("_at_")
		case r == '.':
			b.WriteByte('_')
		case r == '_' || r == '-',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// BaseName builds sleep_data_<mode>_<safe>[_<start>_<end>]_<stamp>, without
// extension. The date range is omitted when either bound is zero.
func BaseName(mode, email string, start, end, stamp time.Time) string {
	parts := []string{filePrefix + mode, SafeIdentity(email)}
	if !start.IsZero() && !end.IsZero() {
		parts = append(parts, start.Format(fileDate), end.Format(fileDate))
	}
	parts = append(parts, stamp.Format(fileStamp))
	return strings.Join(parts, "_")
}

// DataFileName is the per-user file the updater appends to.
func DataFileName(email string) string {
	return filePrefix + ModeBatch + "_" + SafeIdentity(email) + ".csv"
}

// CombinedFileName is the output name of a combine run.
func CombinedFileName(stamp time.Time) string {
	return combinedPfx + stamp.Format(fileStamp) + ".csv"
}

func isMirrorFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, filePrefix) && strings.HasSuffix(base, ".json")
}
