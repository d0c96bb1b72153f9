//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/getpup/pupsourcing-migrator/pkg/migrator"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

// targetTables are the tables the test migrations create.
var targetTables = []string{"it_orders", "it_customers"}

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

// setupTables creates the migrator tables using the default configuration.
func setupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	if err := migrator.Bootstrap(context.Background(), db, sqlstore.Postgres, sqlstore.DefaultTableConfig()); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
}

// cleanupTables empties the migrator tables and drops the target tables.
// Errors are logged but don't fail the test (cleanup is best-effort).
func cleanupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := sqlstore.DefaultTableConfig()
	for _, table := range []string{config.LedgerTable, config.LocksTable} {
		if _, err := db.Exec("TRUNCATE " + table); err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
	for _, table := range targetTables {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE"); err != nil {
			t.Logf("warning: failed to drop %s: %v", table, err)
		}
	}
}

// teardownTables drops the migrator tables using the default configuration.
// Errors are logged but don't fail the test.
func teardownTables(t *testing.T, db *sql.DB) {
	t.Helper()

	if _, err := db.Exec(sqlstore.Postgres.DropTablesSQL(sqlstore.DefaultTableConfig())); err != nil {
		t.Logf("warning: failed to drop tables: %v", err)
	}
}

// tableExists reports whether a table is visible on the search path.
func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()

	var name sql.NullString
	if err := db.QueryRow("SELECT to_regclass($1)::text", table).Scan(&name); err != nil {
		t.Fatalf("failed to look up %s: %v", table, err)
	}
	return name.Valid
}
