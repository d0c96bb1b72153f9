package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// nullTime scans timestamps stored natively or as text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into a timestamp", src)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const ledgerColumns = "id, version, name, description, filename, checksum, status, direction, applied_at, rolled_back_at, duration_ms, error_message, applied_by, rollback_reason, affected_rows, warnings, created_at"

// scanLedgerEntry maps one ledger row. Unknown enum values are rejected.
func scanLedgerEntry(row rowScanner) (migrator.LedgerEntry, error) {
	var (
		e                                                   migrator.LedgerEntry
		status, direction                                   string
		description, errorMessage, appliedBy, reason, warns sql.NullString
		appliedAt, rolledBackAt, createdAt                  nullTime
		durationMS                                          int64
	)

	err := row.Scan(
		&e.ID,
		&e.Version,
		&e.Name,
		&description,
		&e.Filename,
		&e.Checksum,
		&status,
		&direction,
		&appliedAt,
		&rolledBackAt,
		&durationMS,
		&errorMessage,
		&appliedBy,
		&reason,
		&e.AffectedRows,
		&warns,
		&createdAt,
	)
	if err != nil {
		return migrator.LedgerEntry{}, err
	}

	e.Status = migrator.Status(status)
	switch e.Status {
	case migrator.StatusPending, migrator.StatusRunning, migrator.StatusCompleted, migrator.StatusFailed, migrator.StatusRolledBack:
	default:
		return migrator.LedgerEntry{}, fmt.Errorf("malformed ledger row %s: unknown status %q", e.ID, status)
	}

	e.Direction = migrator.Direction(direction)
	if e.Direction != migrator.DirectionUp && e.Direction != migrator.DirectionDown {
		return migrator.LedgerEntry{}, fmt.Errorf("malformed ledger row %s: unknown direction %q", e.ID, direction)
	}

	if warns.Valid && warns.String != "" {
		if err := json.Unmarshal([]byte(warns.String), &e.Warnings); err != nil {
			return migrator.LedgerEntry{}, fmt.Errorf("malformed ledger row %s: invalid warnings: %w", e.ID, err)
		}
	}

	e.Description = description.String
	e.ErrorMessage = errorMessage.String
	e.AppliedBy = appliedBy.String
	e.RollbackReason = reason.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if appliedAt.Valid {
		e.AppliedAt = appliedAt.Time
	}
	if rolledBackAt.Valid {
		t := rolledBackAt.Time
		e.RolledBackAt = &t
	}
	e.CreatedAt = createdAt.Time

	return e, nil
}

const lockColumns = "id, operation, acquired_at, expires_at, acquired_by"

func scanLockRecord(row rowScanner) (migrator.LockRecord, error) {
	var (
		l                     migrator.LockRecord
		acquiredAt, expiresAt nullTime
	)
	if err := row.Scan(&l.ID, &l.Operation, &acquiredAt, &expiresAt, &l.AcquiredBy); err != nil {
		return migrator.LockRecord{}, err
	}
	if !acquiredAt.Valid || !expiresAt.Valid {
		return migrator.LockRecord{}, fmt.Errorf("malformed lock row %s: missing timestamps", l.ID)
	}
	l.AcquiredAt = acquiredAt.Time
	l.ExpiresAt = expiresAt.Time
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
