// Package integrity detects drift between applied migrations and their current definitions.
package integrity

import (
	"context"
	"fmt"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Validator compares ledger checksums against loaded definitions.
type Validator struct {
	ledger store.Ledger
}

// New creates a Validator reading from the given ledger.
func New(ledger store.Ledger) *Validator {
	return &Validator{ledger: ledger}
}

// Validate reports every completed ledger entry whose definition is missing or changed.
// The result is Valid when no issues were found. The error is reserved for ledger failures.
func (v *Validator) Validate(ctx context.Context, migrations []migrator.Migration) (migrator.ValidationResult, error) {
	entries, err := v.ledger.List(ctx)
	if err != nil {
		return migrator.ValidationResult{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	return Check(entries, migrations), nil
}

// Check is the pure form of Validate.
func Check(entries []migrator.LedgerEntry, migrations []migrator.Migration) migrator.ValidationResult {
	byID := make(map[string]migrator.Migration, len(migrations))
	for _, m := range migrations {
		byID[m.ID] = m
	}

	var issues []string
	for _, entry := range entries {
		if entry.Status != migrator.StatusCompleted {
			continue
		}
		m, ok := byID[entry.ID]
		if !ok {
			issues = append(issues, fmt.Sprintf("migration %s (version %s) is applied but its definition is missing", entry.ID, entry.Version))
			continue
		}
		if m.Checksum != entry.Checksum {
			issues = append(issues, fmt.Sprintf("migration %s (version %s) was modified after being applied: applied checksum %s, current checksum %s",
				entry.ID, entry.Version, entry.Checksum, m.Checksum))
		}
	}

	return migrator.ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// Err returns an IntegrityError for an invalid result, nil otherwise.
func Err(result migrator.ValidationResult) error {
	if result.Valid {
		return nil
	}
	return &migrator.IntegrityError{Issues: result.Issues}
}
