package store

import "errors"

var (
	// ErrEntryNotFound indicates no ledger entry exists for the migration id.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrLockExists indicates a lease record already exists for the operation.
	ErrLockExists = errors.New("lock already exists")

	// ErrLockNotFound indicates the lease record does not exist.
	ErrLockNotFound = errors.New("lock not found")
)
