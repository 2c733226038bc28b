package store

import (
	"context"
	"sync"

	"github.com/sleepsync/sleepsync/internal/models"
)

// MemoryStore keeps the credential set in memory. It backs dry runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	set   models.CredentialSet
	saves int
}

// NewMemoryStore creates a store seeded with a copy of set.
func NewMemoryStore(set models.CredentialSet) *MemoryStore {
	s := &MemoryStore{}
	if set != nil {
		s.set = set.Clone()
	}
	return s
}

func (s *MemoryStore) LoadSet(ctx context.Context) (models.CredentialSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.set) == 0 {
		return nil, ErrNotFound
	}
	return s.set.Clone(), nil
}

func (s *MemoryStore) SaveSet(ctx context.Context, set models.CredentialSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = set.Clone()
	s.saves++
	return nil
}

// Saves reports how many times SaveSet was called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }
