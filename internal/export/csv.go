// Package export writes flattened sleep records to CSV and JSON files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/fileutil"
	"github.com/sleepsync/sleepsync/internal/models"
)

const filePerm = 0o644

// Columns returns the sorted union of keys across records.
func Columns(records []models.FlatRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// WriteBatch overwrites path with a header of Columns(records) followed by
// one row per record. It returns the written path.
func WriteBatch(records []models.FlatRecord, path string) (string, error) {
	header := Columns(records)
	rows := make([]map[string]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, cells(r))
	}

	data, err := encodeCSV(header, rows)
	if err != nil {
		return "", &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := fileutil.WriteAtomic(path, data, filePerm); err != nil {
		return "", err
	}
	return path, nil
}

// AppendBatch adds records to the CSV at path. A missing or empty file is
// written like WriteBatch. When the records carry columns the existing
// header lacks, the file is rewritten with the widened header and old rows
// padded with empty cells; otherwise rows are appended in the existing
// column order. No records is a no-op.
func AppendBatch(records []models.FlatRecord, path string) error {
	if len(records) == 0 {
		return nil
	}

	header, existing, err := readCSV(path)
	if err != nil {
		return err
	}
	if header == nil {
		_, err := WriteBatch(records, path)
		return err
	}

	known := make(map[string]struct{}, len(header))
	for _, h := range header {
		known[h] = struct{}{}
	}
	widened := false
	for _, col := range Columns(records) {
		if _, ok := known[col]; !ok {
			known[col] = struct{}{}
			widened = true
		}
	}

	rows := make([]map[string]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, cells(r))
	}

	if !widened {
		return appendRows(path, header, rows)
	}

	data, err := encodeCSV(sortedKeys(known), append(existing, rows...))
	if err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	return fileutil.WriteAtomic(path, data, filePerm)
}

func appendRows(path string, header []string, rows []map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write(project(header, row)); err != nil {
			f.Close()
			return &errors.ErrFileWrite{Path: path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	return nil
}

// readCSV returns the header and rows of the CSV at path. A missing or
// empty file yields a nil header.
func readCSV(path string) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, &errors.ErrFileRead{Path: path, Err: err}
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &errors.ErrFileRead{Path: path, Err: err}
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func encodeCSV(header []string, rows []map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write(project(header, row)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// project orders row by header; absent columns are empty.
func project(header []string, row map[string]string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = row[col]
	}
	return out
}

func cells(r models.FlatRecord) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = Cell(v)
	}
	return out
}

// Cell renders a flattened value as CSV text. nil is the empty string.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
