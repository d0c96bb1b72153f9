//go:build integration

package migrations_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlsplit"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

func applyGenerated(t *testing.T, db *sql.DB, dialect sqlstore.Dialect, config migrations.Config) *sqlstore.Store {
	t.Helper()

	config.OutputFolder = t.TempDir()
	config.OutputFilename = "bookkeeping.sql"
	require.NoError(t, migrations.Generate(dialect, &config))

	content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	require.NoError(t, err)
	for _, stmt := range sqlsplit.Split(string(content)) {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	s, err := sqlstore.NewWithConfig(db, dialect, config.Tables(dialect))
	require.NoError(t, err)
	return s
}

func roundTrip(t *testing.T, s *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()

	entry := migrator.LedgerEntry{ID: "001_it", Version: "001", Name: "it", Checksum: "c", Status: migrator.StatusCompleted, Direction: migrator.DirectionUp}
	require.NoError(t, s.Upsert(ctx, entry))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Checksum, got.Checksum)
}

func TestIntegrationPostgres(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	defer db.Close()

	config := migrations.DefaultConfig()
	config.SchemaName = "migrator_gen_test"
	t.Cleanup(func() {
		_, _ = db.Exec("DROP SCHEMA IF EXISTS migrator_gen_test CASCADE")
	})

	roundTrip(t, applyGenerated(t, db, sqlstore.Postgres, config))
}

func TestIntegrationMySQL(t *testing.T) {
	dbURL := os.Getenv("MYSQL_URL")
	if dbURL == "" {
		t.Skip("MYSQL_URL not set, skipping MySQL integration test")
	}

	db, err := sql.Open("mysql", dbURL)
	require.NoError(t, err)
	defer db.Close()

	config := migrations.DefaultConfig()
	config.LedgerTable = "gen_test_migrations"
	config.LocksTable = "gen_test_locks"
	t.Cleanup(func() {
		for _, stmt := range sqlsplit.Split(sqlstore.MySQL.DropTablesSQL(config.Tables(sqlstore.MySQL))) {
			_, _ = db.Exec(stmt)
		}
	})

	roundTrip(t, applyGenerated(t, db, sqlstore.MySQL, config))
}

func TestIntegrationSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "gen.db"))
	require.NoError(t, err)
	defer db.Close()

	roundTrip(t, applyGenerated(t, db, sqlstore.SQLite, migrations.DefaultConfig()))
}
