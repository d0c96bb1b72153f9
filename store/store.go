package store

import (
	"context"
	"sort"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// Ledger persists the execution record of every migration.
// Implementations must be safe for concurrent access.
type Ledger interface {
	// Upsert writes the entry keyed by its migration id.
	// CreatedAt is set on first write and never changed afterwards.
	// RolledBackAt and RollbackReason are kept unless the new entry provides them.
	Upsert(ctx context.Context, entry migrator.LedgerEntry) error

	// Get returns the entry for a migration id.
	// Returns ErrEntryNotFound if no entry exists.
	Get(ctx context.Context, id string) (migrator.LedgerEntry, error)

	// List returns every entry ordered by version ascending.
	// Returns an empty slice if the ledger is empty.
	List(ctx context.Context) ([]migrator.LedgerEntry, error)
}

// LockStore persists leases. At most one record exists per operation.
type LockStore interface {
	// Insert creates the record.
	// Returns ErrLockExists if a record for the operation already exists.
	Insert(ctx context.Context, lock migrator.LockRecord) error

	// PurgeExpired removes records for the operation that expired at or before now.
	// Returns the number of records removed.
	PurgeExpired(ctx context.Context, operation string, now time.Time) (int64, error)

	// Renew moves the expiry of the record with the given lease token.
	// Returns ErrLockNotFound if the token no longer holds a record.
	Renew(ctx context.Context, id string, expiresAt time.Time) error

	// Delete removes the record with the given lease token. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// Current returns the record for an operation.
	// Returns ErrLockNotFound if no record exists.
	Current(ctx context.Context, operation string) (migrator.LockRecord, error)
}

// MergeEntry applies the upsert rules to an existing entry.
// existing is nil when the id has never been written.
func MergeEntry(existing *migrator.LedgerEntry, next migrator.LedgerEntry, now time.Time) migrator.LedgerEntry {
	if existing == nil {
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		return next
	}

	next.CreatedAt = existing.CreatedAt
	if next.RolledBackAt == nil {
		next.RolledBackAt = existing.RolledBackAt
	}
	if next.RollbackReason == "" {
		next.RollbackReason = existing.RollbackReason
	}
	return next
}

// SortEntries orders entries by version ascending, then by id.
func SortEntries(entries []migrator.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := migrator.CompareVersions(entries[i].Version, entries[j].Version); c != 0 {
			return c < 0
		}
		return entries[i].ID < entries[j].ID
	})
}
