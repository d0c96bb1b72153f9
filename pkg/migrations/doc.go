// Package migrations generates the SQL that creates the migrator's bookkeeping
// tables (the execution ledger and the lease table) for PostgreSQL,
// MySQL/MariaDB and SQLite. Use it when schema changes must ship as reviewed
// files instead of being created at startup by migrator.Bootstrap.
package migrations
