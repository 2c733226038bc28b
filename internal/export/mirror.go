package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/fileutil"
	"github.com/sleepsync/sleepsync/internal/models"
)

// WriteMirror writes the raw records and their context as indented JSON.
func WriteMirror(m *models.Mirror, path string) error {
	if m.SleepRecords == nil {
		m.SleepRecords = []models.SleepRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode mirror: %w", err)
	}
	return fileutil.WriteAtomic(path, buf.Bytes(), filePerm)
}

// ReadMirror loads a mirror written by WriteMirror. Numbers stay json.Number.
func ReadMirror(path string) (*models.Mirror, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m models.Mirror
	if err := dec.Decode(&m); err != nil {
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	return &m, nil
}

// NewMirror fills the fetch info for records fetched over [start, end] at now.
func NewMirror(email, name string, userID models.UserID, start, end, now time.Time, records []models.SleepRecord) *models.Mirror {
	return &models.Mirror{
		UserInfo: models.MirrorUser{Email: email, WhoopUserID: userID, Name: name},
		FetchInfo: models.MirrorFetch{
			Timestamp:    models.FormatTimestamp(now),
			StartDate:    start.Format(dateLayout),
			EndDate:      end.Format(dateLayout),
			TotalRecords: len(records),
		},
		SleepRecords: records,
	}
}
