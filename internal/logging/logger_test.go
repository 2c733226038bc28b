package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelInfo), WithService("svc"))

	logger.Debug("skip")
	if buf.Len() != 0 {
		t.Fatalf("expected no output for debug at info level")
	}

	logger.Info("hello", "run_id", "abc", "foo", "bar", "num", 1)
	entry := decodeLastLog(t, buf.Bytes())

	if entry["message"] != "hello" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["run_id"] != "abc" {
		t.Fatalf("unexpected run id: %v", entry["run_id"])
	}
	if entry["service"] != "svc" {
		t.Fatalf("unexpected service: %v", entry["service"])
	}

	fields := entry["fields"].(map[string]interface{})
	if fields["foo"] != "bar" {
		t.Fatalf("expected foo field")
	}
	if int(fields["num"].(float64)) != 1 {
		t.Fatalf("expected num field")
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))
	ctx := WithRunID(context.Background(), "ctxid")

	logger.InfoWithContext(ctx, "skip")
	if buf.Len() != 0 {
		t.Fatalf("expected no output for info at warn level")
	}

	logger.WarnWithContext(ctx, "warned", "k", "v")
	entry := decodeLastLog(t, buf.Bytes())
	if entry["run_id"] != "ctxid" {
		t.Fatalf("unexpected context run id")
	}
}

func TestLoggerWithChildFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))
	child := logger.With("user", "a@example.com")

	child.Info("fetched", "records", 3)
	entry := decodeLastLog(t, buf.Bytes())
	fields := entry["fields"].(map[string]interface{})
	if fields["user"] != "a@example.com" {
		t.Fatalf("expected inherited user field, got %v", fields["user"])
	}
	if int(fields["records"].(float64)) != 3 {
		t.Fatalf("expected records field")
	}

	logger.Info("parent")
	entry = decodeLastLog(t, buf.Bytes())
	if _, ok := entry["fields"]; ok {
		t.Fatalf("parent logger should not carry child fields")
	}
}

func TestLoggerErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	logger.Error("failed", "error", errors.New("boom"))
	entry := decodeLastLog(t, buf.Bytes())
	fields := entry["fields"].(map[string]interface{})
	if fields["error"] != "boom" {
		t.Fatalf("expected error message field, got %v", fields["error"])
	}
}

func TestLoggerMarshalError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("bad", "field", func() {})
	if buf.Len() != 0 {
		t.Fatalf("expected no output when marshal fails")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}

	if level, err := ParseLevel("loud"); err == nil || level != LevelInfo {
		t.Fatalf("expected error and info fallback, got %v %v", level, err)
	}
}

func TestParseFields(t *testing.T) {
	cid, fields := parseFields([]interface{}{"run_id", "cid", "foo", 1, 42, "bad"})
	if cid != "cid" {
		t.Fatalf("unexpected run id: %s", cid)
	}
	if fields["foo"] != 1 {
		t.Fatalf("expected foo field")
	}
	if len(fields) != 1 {
		t.Fatalf("unexpected fields length: %d", len(fields))
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
}

func decodeLastLog(t *testing.T, data []byte) map[string]interface{} {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 {
		t.Fatalf("no log output")
	}
	line := lines[len(lines)-1]
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	return entry
}
