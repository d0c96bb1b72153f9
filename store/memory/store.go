// Package memory provides in-memory implementations of store.Ledger and store.LockStore.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Store is an in-memory ledger and lock store for tests and dry tooling.
// It provides thread-safe access using a sync.RWMutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]migrator.LedgerEntry // migrationID -> entry
	locks   map[string]migrator.LockRecord  // operation -> lease
	now     func() time.Time
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		entries: make(map[string]migrator.LedgerEntry),
		locks:   make(map[string]migrator.LockRecord),
		now:     time.Now,
	}
}

var (
	_ store.Ledger    = (*Store)(nil)
	_ store.LockStore = (*Store)(nil)
)

// Upsert writes the entry keyed by its migration id.
func (s *Store) Upsert(ctx context.Context, entry migrator.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *migrator.LedgerEntry
	if e, ok := s.entries[entry.ID]; ok {
		existing = &e
	}

	merged := store.MergeEntry(existing, entry, s.now())
	merged.Warnings = append([]string(nil), merged.Warnings...)
	s.entries[entry.ID] = merged
	return nil
}

// Get returns the entry for a migration id.
// Returns store.ErrEntryNotFound if no entry exists.
func (s *Store) Get(ctx context.Context, id string) (migrator.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return migrator.LedgerEntry{}, store.ErrEntryNotFound
	}
	return entry, nil
}

// List returns every entry ordered by version ascending.
func (s *Store) List(ctx context.Context) ([]migrator.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]migrator.LedgerEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		result = append(result, entry)
	}
	store.SortEntries(result)
	return result, nil
}

// Insert creates a lease record.
// Returns store.ErrLockExists if the operation already has a record.
func (s *Store) Insert(ctx context.Context, lock migrator.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[lock.Operation]; ok {
		return store.ErrLockExists
	}
	for _, existing := range s.locks {
		if existing.ID == lock.ID {
			return store.ErrLockExists
		}
	}
	s.locks[lock.Operation] = lock
	return nil
}

// PurgeExpired removes the operation's record if it expired at or before now.
func (s *Store) PurgeExpired(ctx context.Context, operation string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[operation]
	if !ok || !lock.Expired(now) {
		return 0, nil
	}
	delete(s.locks, operation)
	return 1, nil
}

// Renew moves the expiry of the record held by the lease token.
// Returns store.ErrLockNotFound if the token holds no record.
func (s *Store) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for op, lock := range s.locks {
		if lock.ID == id {
			lock.ExpiresAt = expiresAt
			s.locks[op] = lock
			return nil
		}
	}
	return store.ErrLockNotFound
}

// Delete removes the record held by the lease token, if any.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for op, lock := range s.locks {
		if lock.ID == id {
			delete(s.locks, op)
			return nil
		}
	}
	return nil
}

// Current returns the record for an operation.
// Returns store.ErrLockNotFound if no record exists.
func (s *Store) Current(ctx context.Context, operation string) (migrator.LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, ok := s.locks[operation]
	if !ok {
		return migrator.LockRecord{}, store.ErrLockNotFound
	}
	return lock, nil
}
