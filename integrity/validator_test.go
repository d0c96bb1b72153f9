package integrity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

func ledgerWith(entries ...migrator.LedgerEntry) *store.MockLedger {
	l := store.NewMockLedger()
	l.ListFunc = func(ctx context.Context) ([]migrator.LedgerEntry, error) {
		return entries, nil
	}
	return l
}

func TestValidate_Clean(t *testing.T) {
	migrations := []migrator.Migration{
		{ID: "001_a", Version: "001", Checksum: "aaa"},
		{ID: "002_b", Version: "002", Checksum: "bbb"},
	}
	v := New(ledgerWith(migrator.LedgerEntry{ID: "001_a", Version: "001", Checksum: "aaa", Status: migrator.StatusCompleted}))

	result, err := v.Validate(context.Background(), migrations)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
	assert.NoError(t, Err(result))
}

func TestValidate_Drift(t *testing.T) {
	migrations := []migrator.Migration{{ID: "001_a", Version: "001", Checksum: "new"}}
	v := New(ledgerWith(migrator.LedgerEntry{ID: "001_a", Version: "001", Checksum: "old", Status: migrator.StatusCompleted}))

	result, err := v.Validate(context.Background(), migrations)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], "001_a")
	assert.Contains(t, result.Issues[0], "old")
	assert.Contains(t, result.Issues[0], "new")

	err = Err(result)
	assert.True(t, errors.Is(err, migrator.ErrIntegrity))
}

func TestValidate_MissingDefinition(t *testing.T) {
	v := New(ledgerWith(migrator.LedgerEntry{ID: "003_gone", Version: "003", Checksum: "x", Status: migrator.StatusCompleted}))

	result, err := v.Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Issues[0], "003_gone")
}

func TestValidate_IgnoresNonCompleted(t *testing.T) {
	v := New(ledgerWith(
		migrator.LedgerEntry{ID: "001_a", Checksum: "old", Status: migrator.StatusFailed},
		migrator.LedgerEntry{ID: "002_b", Checksum: "old", Status: migrator.StatusRolledBack},
	))

	result, err := v.Validate(context.Background(), []migrator.Migration{{ID: "001_a", Checksum: "new"}})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidate_LedgerError(t *testing.T) {
	l := store.NewMockLedger()
	l.ListFunc = func(ctx context.Context) ([]migrator.LedgerEntry, error) {
		return nil, errors.New("connection refused")
	}

	_, err := New(l).Validate(context.Background(), nil)
	assert.Error(t, err)
}
