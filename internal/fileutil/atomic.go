// Package fileutil holds the file helpers shared by the credential store and
// the export writer.
package fileutil

import (
	"os"
	"path/filepath"

	"github.com/sleepsync/sleepsync/internal/errors"
)

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errors.ErrDirectoryCreate{Path: dir, Err: err}
	}
	return nil
}

// WriteAtomic writes data to a temp file beside path and renames it over
// path, so readers never observe a half-written file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	return nil
}
