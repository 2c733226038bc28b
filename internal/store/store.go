package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/sleepsync/sleepsync/internal/config"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
	"go.uber.org/multierr"
)

// ErrNotFound is returned when no credentials have been stored yet.
var ErrNotFound = stderrors.New("no stored credentials")

// CredentialStore persists the multi-user credential set. The set is loaded
// and saved as a whole; there is no locking, one batch runs at a time.
type CredentialStore interface {
	LoadSet(ctx context.Context) (models.CredentialSet, error)
	SaveSet(ctx context.Context, set models.CredentialSet) error
	Close() error
}

// SingleCredentialStore persists the credential of a single-user setup.
type SingleCredentialStore interface {
	Load(ctx context.Context) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
}

// Open returns the credential set store selected by cfg.
func Open(cfg config.CredentialsConfig, logger *logging.Logger) (CredentialStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	switch cfg.ResolvedBackend() {
	case config.BackendFile:
		return NewFileStore(cfg.BatchPath), nil
	case config.BackendEnv:
		return NewEnvStore(cfg.EnvVar, cfg.Secret, cfg.SpillPath, logger), nil
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown credential backend %q", cfg.Backend)
	}
}

// validateSet reports every entry missing a required field, in email order.
func validateSet(set models.CredentialSet) error {
	var errs error
	for _, email := range set.Emails() {
		errs = multierr.Append(errs, set[email].Validate())
	}
	return errs
}
