// Command migrate-gen generates the SQL migration file that creates the
// migrator's bookkeeping tables.
//
// Usage:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -schema ops -ledger-table ledger -locks-table leases
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName     = flag.String("schema", "", "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)")
		ledgerTable    = flag.String("ledger-table", "schema_migrations", "Name of the execution ledger table")
		locksTable     = flag.String("locks-table", "schema_migration_locks", "Name of the lease table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.LedgerTable = *ledgerTable
	config.LocksTable = *locksTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	dialect, err := sqlstore.DialectForDriver(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
}
