package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

// Config configures generation of the bookkeeping migration.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName optionally places the tables in a schema (PostgreSQL) or database (MySQL).
	// For SQLite it becomes a table name prefix (e.g., ops_schema_migrations).
	SchemaName string

	// LedgerTable is the name of the execution ledger table
	LedgerTable string

	// LocksTable is the name of the lease table
	LocksTable string
}

// DefaultConfig returns the default configuration for bookkeeping migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	tables := sqlstore.DefaultTableConfig()
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_migrator_bookkeeping.sql", timestamp),
		LedgerTable:    tables.LedgerTable,
		LocksTable:     tables.LocksTable,
	}
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if config.SchemaName != "" {
		if err := sqlstore.ValidateIdentifier(config.SchemaName, "SchemaName"); err != nil {
			return err
		}
	}
	if err := sqlstore.ValidateIdentifier(config.LedgerTable, "LedgerTable"); err != nil {
		return err
	}
	if err := sqlstore.ValidateIdentifier(config.LocksTable, "LocksTable"); err != nil {
		return err
	}
	if config.OutputFilename == "" {
		return fmt.Errorf("OutputFilename cannot be empty")
	}
	return nil
}

// Tables returns the table names as the store sees them for dialect.
func (c Config) Tables(dialect sqlstore.Dialect) sqlstore.TableConfig {
	if c.SchemaName == "" {
		return sqlstore.TableConfig{LedgerTable: c.LedgerTable, LocksTable: c.LocksTable}
	}
	if dialect == sqlstore.SQLite {
		return sqlstore.TableConfig{
			LedgerTable: c.SchemaName + "_" + c.LedgerTable,
			LocksTable:  c.SchemaName + "_" + c.LocksTable,
		}
	}
	return sqlstore.TableConfig{
		LedgerTable: c.SchemaName + "." + c.LedgerTable,
		LocksTable:  c.SchemaName + "." + c.LocksTable,
	}
}

// Render returns the migration file content for dialect.
func Render(dialect sqlstore.Dialect, config *Config) (string, error) {
	if err := validateConfig(config); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}
	tables := config.Tables(dialect)
	if err := tables.Validate(); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	var database string
	var schema string
	switch dialect {
	case sqlstore.Postgres:
		database = "PostgreSQL"
		if config.SchemaName != "" {
			schema = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;\n\n", config.SchemaName)
		}
	case sqlstore.MySQL:
		database = "MySQL/MariaDB"
		if config.SchemaName != "" {
			schema = fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s\n    DEFAULT CHARACTER SET utf8mb4\n    DEFAULT COLLATE utf8mb4_unicode_ci;\n\n", config.SchemaName)
		}
	case sqlstore.SQLite:
		database = "SQLite"
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}

	return fmt.Sprintf(`-- Schema Migration Bookkeeping
-- Generated: %s
-- Database: %s

%s%s`,
		time.Now().Format(time.RFC3339),
		database,
		schema,
		dialect.CreateTablesSQL(tables),
	), nil
}

// Generate writes the migration file for dialect.
func Generate(dialect sqlstore.Dialect, config *Config) error {
	content, err := Render(dialect, config)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(sqlstore.Postgres, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(sqlstore.MySQL, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(sqlstore.SQLite, config)
}
