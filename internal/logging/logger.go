package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// ParseLevel maps a config string onto a LogLevel. Unknown values yield an error
// and LevelInfo.
func ParseLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if level == "warning" {
		level = LevelWarn
	}
	if _, ok := levelRank[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger provides structured JSON logging with run ID support.
// Loggers derived with With share the parent's writer and lock.
type Logger struct {
	mu      *sync.Mutex
	output  io.Writer
	level   LogLevel
	service string
	base    map[string]interface{}
}

// LoggerOption is a function that configures a Logger
type LoggerOption func(*Logger)

// WithOutput sets the output writer for the logger
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) {
		l.output = w
	}
}

// WithLevel sets the minimum log level
func WithLevel(level LogLevel) LoggerOption {
	return func(l *Logger) {
		l.level = level
	}
}

// WithService sets the service name for logs
func WithService(service string) LoggerOption {
	return func(l *Logger) {
		l.service = service
	}
}

// NewLogger creates a new Logger with the specified options.
// Logs go to stderr so that stdout stays free for command output.
func NewLogger(opts ...LoggerOption) *Logger {
	logger := &Logger{
		mu:      &sync.Mutex{},
		output:  os.Stderr,
		level:   LevelInfo,
		service: "sleepsync",
	}

	for _, opt := range opts {
		opt(logger)
	}

	return logger
}

// Discard returns a logger that drops everything. Used by tests and as the
// fallback when a component is built without a logger.
func Discard() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelFatal))
}

// With returns a child logger that attaches the given key/value pairs to
// every entry it writes.
func (l *Logger) With(fields ...interface{}) *Logger {
	_, extra := parseFields(fields)
	merged := make(map[string]interface{}, len(l.base)+len(extra))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &Logger{
		mu:      l.mu,
		output:  l.output,
		level:   l.level,
		service: l.service,
		base:    merged,
	}
}

// logEntry represents a structured log entry
type logEntry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         LogLevel               `json:"level"`
	Service       string                 `json:"service"`
	Message       string                 `json:"message"`
	RunID         string                 `json:"run_id,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// outputLog writes a log entry to the output
func (l *Logger) outputLog(entry logEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	entry.Service = l.service

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("failed to marshal log entry: %v", err)
		return
	}

	fmt.Fprintln(l.output, string(data))
}

// shouldLog checks if a log level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.level]
}

// log outputs a log message with the specified level and fields
func (l *Logger) log(level LogLevel, message string, runID string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	if len(l.base) > 0 {
		if fields == nil {
			fields = make(map[string]interface{}, len(l.base))
		}
		for k, v := range l.base {
			if _, set := fields[k]; !set {
				fields[k] = v
			}
		}
	}

	l.outputLog(logEntry{
		Level:         level,
		Message:       message,
		RunID:         runID,
		Fields:        fields,
	})

	if level == LevelFatal {
		os.Exit(1)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	runID, fieldMap := parseFields(fields)
	l.log(LevelDebug, message, runID, fieldMap)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...interface{}) {
	runID, fieldMap := parseFields(fields)
	l.log(LevelInfo, message, runID, fieldMap)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	runID, fieldMap := parseFields(fields)
	l.log(LevelWarn, message, runID, fieldMap)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	runID, fieldMap := parseFields(fields)
	l.log(LevelError, message, runID, fieldMap)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...interface{}) {
	runID, fieldMap := parseFields(fields)
	l.log(LevelFatal, message, runID, fieldMap)
}

// DebugWithContext logs a debug message with run ID from context
func (l *Logger) DebugWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, fieldMap := parseFields(fields)
	l.log(LevelDebug, message, RunID(ctx), fieldMap)
}

// InfoWithContext logs an info message with run ID from context
func (l *Logger) InfoWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, fieldMap := parseFields(fields)
	l.log(LevelInfo, message, RunID(ctx), fieldMap)
}

// WarnWithContext logs a warning message with run ID from context
func (l *Logger) WarnWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, fieldMap := parseFields(fields)
	l.log(LevelWarn, message, RunID(ctx), fieldMap)
}

// ErrorWithContext logs an error message with run ID from context
func (l *Logger) ErrorWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, fieldMap := parseFields(fields)
	l.log(LevelError, message, RunID(ctx), fieldMap)
}

// parseFields parses variable number of key-value pairs into a map
// Expected format: key1, value1, key2, value2, ...
// error values are stored as their message so they survive JSON encoding.
func parseFields(fields []interface{}) (string, map[string]interface{}) {
	runID := ""
	fieldMap := make(map[string]interface{})

	for i := 0; i < len(fields); i++ {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}

		if key == "run_id" && i+1 < len(fields) {
			if id, ok := fields[i+1].(string); ok {
				runID = id
			}
		} else if i+1 < len(fields) {
			if err, isErr := fields[i+1].(error); isErr && err != nil {
				fieldMap[key] = err.Error()
			} else {
				fieldMap[key] = fields[i+1]
			}
		}
		i++ // Skip the value
	}

	return runID, fieldMap
}
