package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// ErrConfigMissing reports required client settings that are absent.
// It aborts a run before any network call is made.
type ErrConfigMissing struct {
	Keys []string
}

func (e *ErrConfigMissing) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

type ErrFileWrite struct {
	Path string
	Err  error
}

func (e *ErrFileWrite) Error() string {
	return fmt.Sprintf("failed to write file %s: %v", e.Path, e.Err)
}

func (e *ErrFileWrite) Unwrap() error {
	return e.Err
}

// Upstream API errors

// ErrAuth is returned for 401 and 403 responses. It is never retried.
type ErrAuth struct {
	Endpoint string
	Status   int
}

func (e *ErrAuth) Error() string {
	switch e.Status {
	case 401:
		return fmt.Sprintf("%s: 401 unauthorized, token may be expired", e.Endpoint)
	case 403:
		return fmt.Sprintf("%s: 403 forbidden, check app permissions and scopes", e.Endpoint)
	default:
		return fmt.Sprintf("%s: auth rejected with status %d", e.Endpoint, e.Status)
	}
}

// Expired reports whether the provider rejected the token itself (401)
// rather than its permissions (403).
func (e *ErrAuth) Expired() bool {
	return e.Status == 401
}

// ErrUpstream is any other non-2xx response. Body holds a diagnostic snippet.
type ErrUpstream struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *ErrUpstream) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.Status, e.Body)
}

// ErrTransport wraps network-level failures.
type ErrTransport struct {
	Endpoint string
	Err      error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Endpoint, e.Err)
}

func (e *ErrTransport) Unwrap() error {
	return e.Err
}

var (
	// ErrNoRefreshToken means the credential cannot heal itself and the user
	// has to go through interactive authorization again.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNoRecords is reported when a full export returns nothing to write.
	ErrNoRecords = errors.New("no sleep records returned")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
