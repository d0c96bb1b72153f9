package store

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// MockLedger is a configurable mock implementation of Ledger for use in tests.
// It tracks method calls and lets tests inject errors.
// Without Func overrides it behaves like an empty ledger that accepts writes.
type MockLedger struct {
	mu sync.RWMutex

	// UpsertFunc is called by Upsert if set.
	UpsertFunc func(ctx context.Context, entry migrator.LedgerEntry) error

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, id string) (migrator.LedgerEntry, error)

	// ListFunc is called by List if set.
	ListFunc func(ctx context.Context) ([]migrator.LedgerEntry, error)

	// Call tracking
	UpsertCalls []migrator.LedgerEntry
	GetCalls    []string
	ListCalls   int
}

// NewMockLedger creates a new mock ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

// Upsert implements Ledger.
func (m *MockLedger) Upsert(ctx context.Context, entry migrator.LedgerEntry) error {
	m.mu.Lock()
	m.UpsertCalls = append(m.UpsertCalls, entry)
	m.mu.Unlock()

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, entry)
	}
	return nil
}

// Get implements Ledger.
func (m *MockLedger) Get(ctx context.Context, id string) (migrator.LedgerEntry, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, id)
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return migrator.LedgerEntry{}, ErrEntryNotFound
}

// List implements Ledger.
func (m *MockLedger) List(ctx context.Context) ([]migrator.LedgerEntry, error) {
	m.mu.Lock()
	m.ListCalls++
	m.mu.Unlock()

	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []migrator.LedgerEntry{}, nil
}

// Upserts returns a copy of the recorded Upsert calls.
func (m *MockLedger) Upserts() []migrator.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]migrator.LedgerEntry, len(m.UpsertCalls))
	copy(out, m.UpsertCalls)
	return out
}

// Reset clears all recorded calls.
func (m *MockLedger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = nil
	m.GetCalls = nil
	m.ListCalls = 0
}

// MockLockStore is a configurable mock implementation of LockStore for use in tests.
type MockLockStore struct {
	mu sync.RWMutex

	// InsertFunc is called by Insert if set.
	InsertFunc func(ctx context.Context, lock migrator.LockRecord) error

	// PurgeExpiredFunc is called by PurgeExpired if set.
	PurgeExpiredFunc func(ctx context.Context, operation string, now time.Time) (int64, error)

	// RenewFunc is called by Renew if set.
	RenewFunc func(ctx context.Context, id string, expiresAt time.Time) error

	// DeleteFunc is called by Delete if set.
	DeleteFunc func(ctx context.Context, id string) error

	// CurrentFunc is called by Current if set.
	CurrentFunc func(ctx context.Context, operation string) (migrator.LockRecord, error)

	// Call tracking
	InsertCalls       []migrator.LockRecord
	PurgeExpiredCalls []PurgeExpiredCall
	RenewCalls        []RenewCall
	DeleteCalls       []string
	CurrentCalls      []string
}

// Call tracking structs
type PurgeExpiredCall struct {
	Operation string
	Now       time.Time
}

type RenewCall struct {
	ID        string
	ExpiresAt time.Time
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{}
}

// Insert implements LockStore.
func (m *MockLockStore) Insert(ctx context.Context, lock migrator.LockRecord) error {
	m.mu.Lock()
	m.InsertCalls = append(m.InsertCalls, lock)
	m.mu.Unlock()

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, lock)
	}
	return nil
}

// PurgeExpired implements LockStore.
func (m *MockLockStore) PurgeExpired(ctx context.Context, operation string, now time.Time) (int64, error) {
	m.mu.Lock()
	m.PurgeExpiredCalls = append(m.PurgeExpiredCalls, PurgeExpiredCall{Operation: operation, Now: now})
	m.mu.Unlock()

	if m.PurgeExpiredFunc != nil {
		return m.PurgeExpiredFunc(ctx, operation, now)
	}
	return 0, nil
}

// Renew implements LockStore.
func (m *MockLockStore) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	m.RenewCalls = append(m.RenewCalls, RenewCall{ID: id, ExpiresAt: expiresAt})
	m.mu.Unlock()

	if m.RenewFunc != nil {
		return m.RenewFunc(ctx, id, expiresAt)
	}
	return nil
}

// Delete implements LockStore.
func (m *MockLockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, id)
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// Current implements LockStore.
func (m *MockLockStore) Current(ctx context.Context, operation string) (migrator.LockRecord, error) {
	m.mu.Lock()
	m.CurrentCalls = append(m.CurrentCalls, operation)
	m.mu.Unlock()

	if m.CurrentFunc != nil {
		return m.CurrentFunc(ctx, operation)
	}
	return migrator.LockRecord{}, ErrLockNotFound
}

// Reset clears all recorded calls.
func (m *MockLockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls = nil
	m.PurgeExpiredCalls = nil
	m.RenewCalls = nil
	m.DeleteCalls = nil
	m.CurrentCalls = nil
}

var (
	_ Ledger    = (*MockLedger)(nil)
	_ LockStore = (*MockLockStore)(nil)
)
