package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db") + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s := New(openSQLite(t), SQLite)
	require.NoError(t, s.CreateTables(context.Background()))
	return s
}

func TestCreateTables_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTables(context.Background()))
}

func TestNewWithConfig_RejectsUnsafeNames(t *testing.T) {
	_, err := NewWithConfig(nil, SQLite, TableConfig{LedgerTable: "ledger; DROP TABLE x", LocksTable: "locks"})
	assert.Error(t, err)

	_, err = NewWithConfig(nil, SQLite, TableConfig{LedgerTable: "same", LocksTable: "same"})
	assert.Error(t, err)

	_, err = NewWithConfig(nil, Postgres, TableConfig{LedgerTable: "ops.schema_migrations", LocksTable: "ops.locks"})
	assert.NoError(t, err)
}

func TestLedger_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	applied := time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC)

	entry := migrator.LedgerEntry{
		ID:           "001_create_users",
		Version:      "001",
		Name:         "create_users",
		Description:  "Create users table",
		Filename:     "001_create_users.sql",
		Checksum:     "abc123",
		Status:       migrator.StatusCompleted,
		Direction:    migrator.DirectionUp,
		AppliedAt:    applied,
		Duration:     1500 * time.Millisecond,
		AppliedBy:    "ci",
		AffectedRows: 3,
		Warnings:     []string{"slow"},
	}
	require.NoError(t, s.Upsert(ctx, entry))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.Version, got.Version)
	assert.Equal(t, entry.Description, got.Description)
	assert.Equal(t, entry.Checksum, got.Checksum)
	assert.Equal(t, migrator.StatusCompleted, got.Status)
	assert.Equal(t, migrator.DirectionUp, got.Direction)
	assert.True(t, applied.Equal(got.AppliedAt))
	assert.Equal(t, entry.Duration, got.Duration)
	assert.Equal(t, "ci", got.AppliedBy)
	assert.Equal(t, int64(3), got.AffectedRows)
	assert.Equal(t, []string{"slow"}, got.Warnings)
	assert.Nil(t, got.RolledBackAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestLedger_UpsertKeepsCreatedAtAndRollbackFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	entry := migrator.LedgerEntry{ID: "001_a", Version: "001", Name: "a", Filename: "001_a.sql", Checksum: "x",
		Status: migrator.StatusCompleted, Direction: migrator.DirectionUp, AppliedAt: base}
	require.NoError(t, s.Upsert(ctx, entry))

	rolledBack := base.Add(time.Hour)
	entry.Status = migrator.StatusRolledBack
	entry.Direction = migrator.DirectionDown
	entry.RolledBackAt = &rolledBack
	entry.RollbackReason = "operator request"
	s.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, s.Upsert(ctx, entry))

	entry.Status = migrator.StatusCompleted
	entry.Direction = migrator.DirectionUp
	entry.RolledBackAt = nil
	entry.RollbackReason = ""
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, s.Upsert(ctx, entry))

	got, err := s.Get(ctx, "001_a")
	require.NoError(t, err)
	assert.Equal(t, migrator.StatusCompleted, got.Status)
	assert.True(t, base.Equal(got.CreatedAt))
	require.NotNil(t, got.RolledBackAt)
	assert.True(t, rolledBack.Equal(*got.RolledBackAt))
	assert.Equal(t, "operator request", got.RollbackReason)
}

func TestLedger_GetMissing(t *testing.T) {
	_, err := newTestStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestLedger_ListOrderedByVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"10", "2", "001"} {
		require.NoError(t, s.Upsert(ctx, migrator.LedgerEntry{ID: v + "_m", Version: v, Name: "m", Filename: v + "_m.sql",
			Checksum: "x", Status: migrator.StatusPending, Direction: migrator.DirectionUp}))
	}

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "001_m", entries[0].ID)
	assert.Equal(t, "2_m", entries[1].ID)
	assert.Equal(t, "10_m", entries[2].ID)
}

func TestLedger_MalformedRowFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `INSERT INTO schema_migrations (id, version, name, filename, checksum, status, direction, created_at)
		VALUES ('1_x', '1', 'x', '1_x.sql', 'c', 'exploded', 'up', '2026-01-01 00:00:00.000000')`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "1_x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrEntryNotFound)

	_, err = s.List(ctx)
	assert.Error(t, err)
}

func lease(op string, expires time.Time) migrator.LockRecord {
	return migrator.LockRecord{
		ID:         uuid.NewString(),
		Operation:  op,
		AcquiredAt: expires.Add(-time.Minute),
		ExpiresAt:  expires,
		AcquiredBy: "test",
	}
}

func TestLocks_InsertConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	first := lease("migrate", expires)
	require.NoError(t, s.Insert(ctx, first))
	assert.ErrorIs(t, s.Insert(ctx, lease("migrate", expires)), store.ErrLockExists)
	require.NoError(t, s.Insert(ctx, lease("backup", expires)))

	got, err := s.Current(ctx, "migrate")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "test", got.AcquiredBy)
	assert.True(t, first.ExpiresAt.Truncate(time.Microsecond).Equal(got.ExpiresAt))
}

func TestLocks_PurgeExpiredScopedToOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, lease("migrate", now.Add(-time.Second))))
	require.NoError(t, s.Insert(ctx, lease("backup", now.Add(-time.Second))))
	require.NoError(t, s.Insert(ctx, lease("other", now.Add(time.Hour))))

	n, err := s.PurgeExpired(ctx, "migrate", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Current(ctx, "migrate")
	assert.ErrorIs(t, err, store.ErrLockNotFound)
	_, err = s.Current(ctx, "backup")
	assert.NoError(t, err)

	n, err = s.PurgeExpired(ctx, "other", now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLocks_RenewAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	l := lease("migrate", now.Add(time.Minute))
	require.NoError(t, s.Insert(ctx, l))

	later := now.Add(time.Hour)
	require.NoError(t, s.Renew(ctx, l.ID, later))
	got, err := s.Current(ctx, "migrate")
	require.NoError(t, err)
	assert.True(t, later.Truncate(time.Microsecond).Equal(got.ExpiresAt))

	assert.ErrorIs(t, s.Renew(ctx, "stale-token", later), store.ErrLockNotFound)

	require.NoError(t, s.Delete(ctx, "stale-token"))
	_, err = s.Current(ctx, "migrate")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, l.ID))
	require.NoError(t, s.Delete(ctx, l.ID))
	_, err = s.Current(ctx, "migrate")
	assert.ErrorIs(t, err, store.ErrLockNotFound)
}

func TestLocks_ConcurrentInsertSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Insert(ctx, lease("migrate", expires))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrLockExists):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.Equal(t, "?", MySQL.Placeholder(3))
	assert.Equal(t, "?", SQLite.Placeholder(1))

	assert.True(t, Postgres.SupportsTransactionalDDL())
	assert.True(t, SQLite.SupportsTransactionalDDL())
	assert.False(t, MySQL.SupportsTransactionalDDL())

	for driver, want := range map[string]Dialect{
		"postgres": Postgres, "pgx": Postgres, "mysql": MySQL, "sqlite": SQLite, "sqlite3": SQLite,
	} {
		got, err := DialectForDriver(driver)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DialectForDriver("oracle")
	assert.Error(t, err)
}

func TestDialect_UpsertSQL(t *testing.T) {
	pg := Postgres.upsertSQL("schema_migrations")
	assert.Contains(t, pg, "ON CONFLICT (id) DO UPDATE")
	assert.Contains(t, pg, "$17")
	assert.Contains(t, pg, "rolled_back_at = COALESCE(excluded.rolled_back_at, l.rolled_back_at)")
	assert.NotContains(t, pg, "created_at = ")

	my := MySQL.upsertSQL("schema_migrations")
	assert.Contains(t, my, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, my, "rollback_reason = COALESCE(VALUES(rollback_reason), rollback_reason)")
	assert.NotContains(t, my, "$1")
}

func TestDialect_CreateTablesSQL(t *testing.T) {
	cfg := DefaultTableConfig()
	for _, d := range []Dialect{Postgres, MySQL, SQLite} {
		ddl := d.CreateTablesSQL(cfg)
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS schema_migrations")
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS schema_migration_locks")
		assert.Contains(t, ddl, "duration_ms")
	}
	assert.Contains(t, Postgres.CreateTablesSQL(TableConfig{LedgerTable: "ops.ledger", LocksTable: "ops.locks"}), "idx_ops_ledger_status")
}

func TestNullTime_Scan(t *testing.T) {
	want := time.Date(2026, 5, 6, 7, 8, 9, 123456000, time.UTC)
	for _, src := range []interface{}{
		want,
		"2026-05-06 07:08:09.123456",
		[]byte("2026-05-06 07:08:09.123456"),
		"2026-05-06T07:08:09.123456Z",
	} {
		var n nullTime
		require.NoError(t, n.Scan(src))
		assert.True(t, n.Valid)
		assert.True(t, want.Equal(n.Time), "%v", src)
	}

	var n nullTime
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)
	assert.Error(t, n.Scan(42))
	assert.Error(t, n.Scan("yesterday"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))

	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "42P01"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, isUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isUniqueViolation(&mysql.MySQLError{Number: 1146}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: schema_migration_locks.operation")))
}
