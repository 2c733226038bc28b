package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/transform"
)

// CombineResult describes one combine run.
type CombineResult struct {
	Path    string   `json:"path"`
	Files   []string `json:"files"`
	Skipped []string `json:"skipped,omitempty"`
	Records int      `json:"records"`
	Columns int      `json:"columns"`
}

// FindMirrors lists batch mirrors in dir, falling back to single-user
// mirrors when there are none.
func FindMirrors(dir string) ([]string, error) {
	for _, mode := range []string{ModeBatch, ModeCustom} {
		files, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf(mirrorGlob, mode)))
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			sort.Strings(files)
			return files, nil
		}
	}
	return nil, nil
}

// Combine re-expands every mirror in the JSON directory and writes a single
// CSV into the combined directory. Unreadable mirrors are skipped and
// reported in the result.
func (w *Writer) Combine(ctx context.Context) (*CombineResult, error) {
	files, err := FindMirrors(w.layout.JSONDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no sleep mirrors in %s: %w", w.layout.JSONDir, errors.ErrNoRecords)
	}

	result := &CombineResult{}
	var all []models.FlatRecord
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := ReadMirror(path)
		if err != nil {
			w.logger.WarnWithContext(ctx, "skipping unreadable mirror", "path", path, "error", err)
			result.Skipped = append(result.Skipped, path)
			continue
		}
		result.Files = append(result.Files, path)
		all = append(all, w.transformer.ReexpandAll(m.SleepRecords, transform.Provenance{
			UserEmail:   m.UserInfo.Email,
			UserName:    m.UserInfo.Name,
			WhoopUserID: string(m.UserInfo.WhoopUserID),
			SourceFile:  filepath.Base(path),
		})...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("mirrors in %s hold no records: %w", w.layout.JSONDir, errors.ErrNoRecords)
	}

	out := filepath.Join(w.layout.CombinedDir, CombinedFileName(w.now()))
	if _, err := WriteBatch(all, out); err != nil {
		return nil, err
	}
	result.Path = out
	result.Records = len(all)
	result.Columns = len(Columns(all))

	w.logger.InfoWithContext(ctx, "combined export written",
		"path", out, "files", len(result.Files), "records", result.Records, "columns", result.Columns)
	return result, nil
}

// Watch calls fn once changes to mirror files in dir have been quiet for
// debounce. It returns after the watcher is set up; the loop stops with ctx.
func Watch(ctx context.Context, dir string, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		timer := time.NewTimer(debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isMirrorFile(event.Name) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					timer.Reset(debounce)
				}
			case <-timer.C:
				fn()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}

// WatchCombine re-runs Combine whenever mirrors change. report receives the
// outcome of every run.
func (w *Writer) WatchCombine(ctx context.Context, debounce time.Duration, report func(*CombineResult, error)) error {
	return Watch(ctx, w.layout.JSONDir, debounce, func() {
		report(w.Combine(ctx))
	})
}
