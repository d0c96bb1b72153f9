// Package sqlstore implements store.Ledger and store.LockStore on a relational
// database reached through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlsplit"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Store keeps the ledger and the leases in two tables of the target database.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	ledgerTable string
	locksTable  string
	now         func() time.Time
}

var (
	_ store.Ledger    = (*Store)(nil)
	_ store.LockStore = (*Store)(nil)
)

// New creates a store with default table names.
func New(db *sql.DB, dialect Dialect) *Store {
	s, _ := NewWithConfig(db, dialect, DefaultTableConfig())
	return s
}

// NewWithConfig creates a store with custom table names.
func NewWithConfig(db *sql.DB, dialect Dialect, config TableConfig) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table configuration: %w", err)
	}
	return &Store{
		db:          db,
		dialect:     dialect,
		ledgerTable: config.LedgerTable,
		locksTable:  config.LocksTable,
		now:         time.Now,
	}, nil
}

// Dialect returns the SQL flavour of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateTables creates the ledger and locks tables if they do not exist.
func (s *Store) CreateTables(ctx context.Context) error {
	ddl := s.dialect.CreateTablesSQL(TableConfig{LedgerTable: s.ledgerTable, LocksTable: s.locksTable})
	for _, stmt := range sqlsplit.Split(ddl) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create migration tables: %w", err)
		}
	}
	return nil
}

// Upsert writes the entry keyed by its migration id.
func (s *Store) Upsert(ctx context.Context, entry migrator.LedgerEntry) error {
	warnings := entry.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warns, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, s.dialect.upsertSQL(s.ledgerTable),
		entry.ID,
		entry.Version,
		entry.Name,
		nullString(entry.Description),
		entry.Filename,
		entry.Checksum,
		string(entry.Status),
		string(entry.Direction),
		s.dialect.nullTimeArg(&entry.AppliedAt),
		s.dialect.nullTimeArg(entry.RolledBackAt),
		entry.Duration.Milliseconds(),
		nullString(entry.ErrorMessage),
		nullString(entry.AppliedBy),
		nullString(entry.RollbackReason),
		entry.AffectedRows,
		string(warns),
		s.dialect.timeArg(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry for a migration id.
// Returns store.ErrEntryNotFound if no entry exists.
func (s *Store) Get(ctx context.Context, id string) (migrator.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = %s`, ledgerColumns, s.ledgerTable, s.dialect.Placeholder(1))

	entry, err := scanLedgerEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return migrator.LedgerEntry{}, store.ErrEntryNotFound
	}
	if err != nil {
		return migrator.LedgerEntry{}, fmt.Errorf("failed to get ledger entry %s: %w", id, err)
	}
	return entry, nil
}

// List returns every entry ordered by version ascending.
func (s *Store) List(ctx context.Context) ([]migrator.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, ledgerColumns, s.ledgerTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []migrator.LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	store.SortEntries(entries)
	return entries, nil
}

// Insert creates a lease record.
// Returns store.ErrLockExists if the operation already has a record.
func (s *Store) Insert(ctx context.Context, lock migrator.LockRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.locksTable, lockColumns, s.dialect.placeholders(5))

	_, err := s.db.ExecContext(ctx, query,
		lock.ID,
		lock.Operation,
		s.dialect.timeArg(lock.AcquiredAt),
		s.dialect.timeArg(lock.ExpiresAt),
		lock.AcquiredBy,
	)
	if isUniqueViolation(err) {
		return store.ErrLockExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert lock for %s: %w", lock.Operation, err)
	}
	return nil
}

// PurgeExpired removes the operation's records that expired at or before now.
func (s *Store) PurgeExpired(ctx context.Context, operation string, now time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE operation = %s AND expires_at <= %s`,
		s.locksTable, s.dialect.Placeholder(1), s.dialect.Placeholder(2))

	result, err := s.db.ExecContext(ctx, query, operation, s.dialect.timeArg(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired locks for %s: %w", operation, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

// Renew moves the expiry of the record held by the lease token.
// Returns store.ErrLockNotFound if the token holds no record.
func (s *Store) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET expires_at = %s WHERE id = %s`,
		s.locksTable, s.dialect.Placeholder(1), s.dialect.Placeholder(2))

	result, err := s.db.ExecContext(ctx, query, s.dialect.timeArg(expiresAt), id)
	if err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrLockNotFound
	}
	return nil
}

// Delete removes the record held by the lease token, if any.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.locksTable, s.dialect.Placeholder(1))

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// Current returns the record for an operation.
// Returns store.ErrLockNotFound if no record exists.
func (s *Store) Current(ctx context.Context, operation string) (migrator.LockRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE operation = %s`, lockColumns, s.locksTable, s.dialect.Placeholder(1))

	lock, err := scanLockRecord(s.db.QueryRowContext(ctx, query, operation))
	if errors.Is(err, sql.ErrNoRows) {
		return migrator.LockRecord{}, store.ErrLockNotFound
	}
	if err != nil {
		return migrator.LockRecord{}, fmt.Errorf("failed to get lock for %s: %w", operation, err)
	}
	return lock, nil
}
