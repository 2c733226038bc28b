package export

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sleepsync/sleepsync/internal/config"
	"github.com/sleepsync/sleepsync/internal/fileutil"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/transform"
)

// Writer lays out exports under the configured directories.
type Writer struct {
	layout      config.ExportConfig
	transformer *transform.Transformer
	now         func() time.Time
	logger      *logging.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the time used in file names and fetch info.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// WithTransformer replaces the default flattening rules.
func WithTransformer(t *transform.Transformer) Option {
	return func(w *Writer) { w.transformer = t }
}

// NewWriter creates a Writer for layout. Empty layout fields get defaults.
func NewWriter(layout config.ExportConfig, opts ...Option) *Writer {
	layout.ApplyDefaults()
	w := &Writer{
		layout:      layout,
		transformer: transform.New(transform.DefaultOptions()),
		now:         time.Now,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Layout returns the resolved directories.
func (w *Writer) Layout() config.ExportConfig { return w.layout }

// FullExport is one user's fetch in full mode.
type FullExport struct {
	Mode        string
	Email       string
	Name        string
	WhoopUserID models.UserID
	Start       time.Time
	End         time.Time
	Records     []models.SleepRecord
}

// WriteFull writes the flattened CSV into the export root and the raw JSON
// mirror into the JSON directory. It returns the written paths.
func (w *Writer) WriteFull(fe FullExport) ([]string, error) {
	if fe.Mode == "" {
		fe.Mode = ModeBatch
	}
	now := w.now()
	base := BaseName(fe.Mode, fe.Email, fe.Start, fe.End, now)

	if err := fileutil.EnsureDir(w.layout.Root); err != nil {
		return nil, err
	}
	flat := w.transformer.FlattenAll(fe.Records, transform.Provenance{
		UserEmail:   fe.Email,
		UserName:    fe.Name,
		WhoopUserID: string(fe.WhoopUserID),
	})
	csvPath, err := WriteBatch(flat, filepath.Join(w.layout.Root, base+".csv"))
	if err != nil {
		return nil, err
	}

	mirrorPath := filepath.Join(w.layout.JSONDir, base+".json")
	mirror := NewMirror(fe.Email, fe.Name, fe.WhoopUserID, fe.Start, fe.End, now, fe.Records)
	if err := WriteMirror(mirror, mirrorPath); err != nil {
		return []string{csvPath}, err
	}

	w.logger.Info("export written", "email", fe.Email, "records", len(fe.Records), "csv", csvPath, "json", mirrorPath)
	return []string{csvPath, mirrorPath}, nil
}

// DataPath is the per-user CSV the updater appends to.
func (w *Writer) DataPath(email string) string {
	return filepath.Join(w.layout.DataDir, DataFileName(email))
}

// LatestStart is LatestStart over the user's data file.
func (w *Writer) LatestStart(email string) (time.Time, error) {
	return LatestStart(w.DataPath(email))
}

// Append flattens records and appends them to the user's data file. It
// returns the file path, or "" when there was nothing to append.
func (w *Writer) Append(email, name string, userID models.UserID, records []models.SleepRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	path := w.DataPath(email)
	flat := w.transformer.FlattenAll(records, transform.Provenance{
		UserEmail:   email,
		UserName:    name,
		WhoopUserID: string(userID),
	})
	if err := AppendBatch(flat, path); err != nil {
		return "", fmt.Errorf("append %s: %w", path, err)
	}
	w.logger.Info("records appended", "email", email, "records", len(records), "path", path)
	return path, nil
}
