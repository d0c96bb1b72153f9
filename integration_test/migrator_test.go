//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/engine"
	"github.com/getpup/pupsourcing-migrator/pkg/migrator"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

var definitions = fstest.MapFS{
	"001_create_customers.sql": {Data: []byte(`-- @description: customers
-- +migrate Up
CREATE TABLE it_customers (id BIGSERIAL PRIMARY KEY, email TEXT NOT NULL);
-- +migrate Down
DROP TABLE it_customers;
`)},
	"002_create_orders.sql": {Data: []byte(`-- @depends: 001_create_customers
-- +migrate Up
CREATE TABLE it_orders (id BIGSERIAL PRIMARY KEY, customer_id BIGINT REFERENCES it_customers (id));
-- +migrate Down
DROP TABLE it_orders;
`)},
}

func newMigrator(t *testing.T, db *sql.DB, files fstest.MapFS, holderID string) *engine.Engine {
	t.Helper()

	m, err := migrator.New(
		migrator.WithDatabase(db),
		migrator.WithDialect(sqlstore.Postgres),
		migrator.WithMigrationsFS(files),
		migrator.WithHolderID(holderID),
		migrator.WithLockTimeout(30*time.Second),
		migrator.WithMetricsEnabled(false),
	)
	require.NoError(t, err)
	return m
}

func prepare(t *testing.T) *sql.DB {
	t.Helper()

	db := getTestDB(t)
	setupTables(t, db)
	cleanupTables(t, db)
	t.Cleanup(func() {
		cleanupTables(t, db)
		_ = db.Close()
	})
	return db
}

func apply(ctx context.Context, m *engine.Engine, target string, direction rootpkg.Direction) ([]rootpkg.MigrationResult, error) {
	plan, err := m.CreateMigrationPlan(ctx, target, direction)
	if err != nil {
		return nil, err
	}
	return m.ExecutePlan(ctx, plan, rootpkg.ExecuteOptions{Actor: "integration"})
}

func TestApplyAndRollback(t *testing.T) {
	db := prepare(t)
	ctx := context.Background()
	m := newMigrator(t, db, definitions, "runner-a")

	results, err := apply(ctx, m, "", rootpkg.DirectionUp)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, tableExists(t, db, "it_customers"))
	assert.True(t, tableExists(t, db, "it_orders"))

	applied, err := m.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "integration", applied[0].AppliedBy)
	assert.NotEmpty(t, applied[0].Checksum)

	results, err = apply(ctx, m, "001", rootpkg.DirectionDown)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "002_create_orders", results[0].MigrationID)
	assert.False(t, tableExists(t, db, "it_orders"))
	assert.True(t, tableExists(t, db, "it_customers"))

	stats, err := m.GetMigrationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.RolledBack)

	validation, err := m.ValidateMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, validation.Valid)
}

func TestFailedStepLeavesNoPartialSchema(t *testing.T) {
	db := prepare(t)
	ctx := context.Background()

	files := fstest.MapFS{
		"001_create_customers.sql": definitions["001_create_customers.sql"],
		"002_half_broken.sql": {Data: []byte(`-- +migrate Up
CREATE TABLE it_orders (id BIGSERIAL PRIMARY KEY);
ALTER TABLE it_orders ADD COLUMN customer_id BIGINT REFERENCES no_such_table (id);
`)},
	}
	m := newMigrator(t, db, files, "runner-a")

	results, err := apply(ctx, m, "", rootpkg.DirectionUp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rootpkg.ErrExecution))
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[1].RollbackRequired)

	// The whole step ran in one transaction.
	assert.False(t, tableExists(t, db, "it_orders"))

	history, err := m.GetMigrationHistory(ctx)
	require.NoError(t, err)
	statuses := map[string]rootpkg.Status{}
	for _, e := range history {
		statuses[e.ID] = e.Status
	}
	assert.Equal(t, rootpkg.StatusCompleted, statuses["001_create_customers"])
	assert.Equal(t, rootpkg.StatusFailed, statuses["002_half_broken"])
}

func TestConcurrentRunnersApplyOnce(t *testing.T) {
	db := prepare(t)
	ctx := context.Background()

	files := fstest.MapFS{
		"001_create_customers.sql": {Data: []byte(`-- +migrate Up
SELECT pg_sleep(1);
CREATE TABLE it_customers (id BIGSERIAL PRIMARY KEY);
`)},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		applied int
	)
	for i, holder := range []string{"runner-a", "runner-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 200 * time.Millisecond)
			results, err := apply(ctx, newMigrator(t, db, files, holder), "", rootpkg.DirectionUp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			applied += len(results)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], rootpkg.ErrLockContention), "unexpected error: %v", errs[0])

	var locks int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migration_locks").Scan(&locks))
	assert.Equal(t, 0, locks)
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	db := prepare(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, sqlstore.New(db, sqlstore.Postgres).Insert(ctx, rootpkg.LockRecord{
		ID:         uuid.NewString(),
		Operation:  "migrate",
		AcquiredAt: stale,
		ExpiresAt:  stale.Add(time.Minute),
		AcquiredBy: "crashed-runner",
	}))

	results, err := apply(ctx, newMigrator(t, db, definitions, "runner-a"), "", rootpkg.DirectionUp)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
