package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/fileutil"
	"github.com/sleepsync/sleepsync/internal/models"
)

// FileStore keeps the credential set in an indented JSON file keyed by email.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// LoadSet reads the whole set. A missing file yields ErrNotFound.
func (s *FileStore) LoadSet(ctx context.Context) (models.CredentialSet, error) {
	data, err := readFile(s.path)
	if err != nil {
		return nil, err
	}
	return decodeSet(data, s.path)
}

// SaveSet replaces the file contents with set.
func (s *FileStore) SaveSet(ctx context.Context, set models.CredentialSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return fileutil.WriteAtomic(s.path, data, 0o600)
}

func (s *FileStore) Close() error { return nil }

// SingleFileStore keeps one credential in a JSON file.
type SingleFileStore struct {
	path string
}

// NewSingleFileStore creates a single-user store backed by path.
func NewSingleFileStore(path string) *SingleFileStore {
	return &SingleFileStore{path: path}
}

func (s *SingleFileStore) Load(ctx context.Context) (*models.Credential, error) {
	data, err := readFile(s.path)
	if err != nil {
		return nil, err
	}
	var cred models.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, &errors.ErrFileRead{Path: s.path, Err: err}
	}
	return &cred, nil
}

func (s *SingleFileStore) Save(ctx context.Context, cred *models.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return fileutil.WriteAtomic(s.path, data, 0o600)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	return data, nil
}

func decodeSet(data []byte, source string) (models.CredentialSet, error) {
	set := models.CredentialSet{}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, &errors.ErrFileRead{Path: source, Err: err}
	}
	set.Normalize()
	if err := validateSet(set); err != nil {
		return nil, &errors.ErrFileRead{Path: source, Err: err}
	}
	return set, nil
}

// SingleSetStore presents a single-user store as a one-entry credential set
// so the batch runner can drive it.
type SingleSetStore struct {
	single SingleCredentialStore
}

// NewSingleSetStore wraps single.
func NewSingleSetStore(single SingleCredentialStore) *SingleSetStore {
	return &SingleSetStore{single: single}
}

func (s *SingleSetStore) LoadSet(ctx context.Context) (models.CredentialSet, error) {
	cred, err := s.single.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cred.Email == "" {
		return nil, fmt.Errorf("single-user credential has no email")
	}
	return models.CredentialSet{cred.Email: cred}, nil
}

// SaveSet writes the only entry back. Sets of any other size are rejected.
func (s *SingleSetStore) SaveSet(ctx context.Context, set models.CredentialSet) error {
	if len(set) != 1 {
		return fmt.Errorf("single-user store holds exactly one credential, got %d", len(set))
	}
	for email, cred := range set {
		if cred.Email == "" {
			cred.Email = email
		}
		return s.single.Save(ctx, cred)
	}
	return nil
}

func (s *SingleSetStore) Close() error { return nil }
