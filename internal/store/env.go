package store

import (
	"context"
	"strings"

	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
)

// EnvStore reads the credential set from a secret injected into the
// environment. The secret cannot be written back from inside the run, so
// SaveSet writes an optional spill file and otherwise tells the operator
// to update the secret.
type EnvStore struct {
	name   string
	value  string
	spill  *FileStore
	logger *logging.Logger
}

// NewEnvStore creates a store over the secret named name with the given value.
// spillPath may be empty.
func NewEnvStore(name, value, spillPath string, logger *logging.Logger) *EnvStore {
	s := &EnvStore{name: name, value: value, logger: logger}
	if spillPath != "" {
		s.spill = NewFileStore(spillPath)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

func (s *EnvStore) LoadSet(ctx context.Context) (models.CredentialSet, error) {
	if strings.TrimSpace(s.value) == "" {
		return nil, ErrNotFound
	}
	return decodeSet([]byte(s.value), "$"+s.name)
}

func (s *EnvStore) SaveSet(ctx context.Context, set models.CredentialSet) error {
	if s.spill == nil {
		s.logger.WarnWithContext(ctx, "credentials updated in memory only; update the secret to keep refreshed tokens",
			"secret", s.name, "users", len(set))
		return nil
	}
	if err := s.spill.SaveSet(ctx, set); err != nil {
		return err
	}
	s.logger.InfoWithContext(ctx, "credentials written to spill file; propagate it to the secret",
		"secret", s.name, "path", s.spill.Path())
	return nil
}

func (s *EnvStore) Close() error { return nil }
