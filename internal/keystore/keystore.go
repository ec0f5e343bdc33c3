// Package keystore provides the shared external-identifier mapping store.
// Registrations against the same (record type, key) pair are serialized via
// an exclusive per-key lock so two concurrently processed rows can never
// both win a new key; readers of already-committed mappings take no lock.
package keystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/repository"

	"github.com/google/uuid"
)

// Store wraps the external-id repository with per-key mutual exclusion.
type Store struct {
	repo repository.ExternalIDRepository

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry is reference counted so the map holds entries only for keys
// some caller currently holds or waits on.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// New creates a keystore over the given repository.
func New(repo repository.ExternalIDRepository) *Store {
	return &Store{
		repo:  repo,
		locks: make(map[string]*lockEntry),
	}
}

// Lock acquires the exclusive lock for (recordType, key) and returns the
// unlock function. Callers hold the lock for the duration of the owning
// row's resolution plus commit.
func (s *Store) Lock(recordType, key string) func() {
	lockKey := recordType + "\x00" + key

	s.mu.Lock()
	entry, ok := s.locks[lockKey]
	if !ok {
		entry = &lockEntry{}
		s.locks[lockKey] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// Lookup returns the record id registered for (recordType, key), if any.
func (s *Store) Lookup(ctx context.Context, recordType, key string) (uuid.UUID, bool, error) {
	return s.repo.Lookup(ctx, recordType, key)
}

// Register durably associates key with a record id. Registering the same
// pair again with the same id is a no-op; a different id is a conflict.
// Callers must hold the per-key lock.
func (s *Store) Register(ctx context.Context, mapping domain.ExternalIDMapping) error {
	existing, found, err := s.repo.Lookup(ctx, mapping.RecordType, mapping.Key)
	if err != nil {
		return fmt.Errorf("failed to look up external key: %w", err)
	}
	if found {
		if existing == mapping.RecordID {
			return nil
		}
		return fmt.Errorf("%w: %s %q", repository.ErrKeyConflict, mapping.RecordType, mapping.Key)
	}
	return s.repo.Register(ctx, mapping)
}

// DeleteBySubmission removes every mapping a submission registered; used by
// reversal so the keys become available again.
func (s *Store) DeleteBySubmission(ctx context.Context, submissionID uuid.UUID) error {
	return s.repo.DeleteBySubmission(ctx, submissionID)
}
