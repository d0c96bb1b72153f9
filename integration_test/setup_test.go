//go:build integration

package integration_test

import (
	"testing"
)

// TestSetupHelpers validates that the integration test helper functions work correctly.
// This test requires a PostgreSQL database to be available via DATABASE_URL.
func TestSetupHelpers(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	// Creating the tables twice is a no-op.
	setupTables(t, db)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query ledger table: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migration_locks").Scan(&count); err != nil {
		t.Fatalf("failed to query locks table: %v", err)
	}

	cleanupTables(t, db)

	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query ledger table after cleanup: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows in ledger table after cleanup, got %d", count)
	}

	teardownTables(t, db)

	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err == nil {
		t.Error("expected error querying dropped ledger table, but got none")
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migration_locks").Scan(&count); err == nil {
		t.Error("expected error querying dropped locks table, but got none")
	}
}
