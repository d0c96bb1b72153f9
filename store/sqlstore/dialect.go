package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Dialect selects the SQL flavour of the target store.
type Dialect string

const (
	// Postgres targets PostgreSQL (lib/pq or pgx stdlib drivers).
	Postgres Dialect = "postgres"

	// MySQL targets MySQL and MariaDB.
	MySQL Dialect = "mysql"

	// SQLite targets SQLite (mattn/go-sqlite3 or modernc.org/sqlite).
	SQLite Dialect = "sqlite"
)

// sqliteTimeLayout is fixed width so stored values sort lexically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ValidateIdentifier ensures a table name contains only safe characters for SQL.
// A single schema qualifier ("schema.table") is allowed.
func ValidateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter or underscore and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx", "pq":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

// Placeholder returns the bind parameter for the n-th argument (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SupportsTransactionalDDL reports whether schema changes can be rolled back with a transaction.
func (d Dialect) SupportsTransactionalDDL() bool {
	return d != MySQL
}

// timeArg converts a time into a bind argument.
func (d Dialect) timeArg(t time.Time) interface{} {
	if d == SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// nullTimeArg binds zero or nil times as NULL.
func (d Dialect) nullTimeArg(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return d.timeArg(*t)
}

func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// TableConfig configures the table names used by the store.
type TableConfig struct {
	// LedgerTable is the name of the table storing migration history.
	LedgerTable string

	// LocksTable is the name of the table storing leases.
	LocksTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		LedgerTable: "schema_migrations",
		LocksTable:  "schema_migration_locks",
	}
}

// Validate checks both table names.
func (c TableConfig) Validate() error {
	if err := ValidateIdentifier(c.LedgerTable, "LedgerTable"); err != nil {
		return err
	}
	if err := ValidateIdentifier(c.LocksTable, "LocksTable"); err != nil {
		return err
	}
	if c.LedgerTable == c.LocksTable {
		return fmt.Errorf("LedgerTable and LocksTable must differ")
	}
	return nil
}

func indexName(table, suffix string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix
}

// CreateTablesSQL returns idempotent DDL for the ledger and locks tables.
func (d Dialect) CreateTablesSQL(cfg TableConfig) string {
	switch d {
	case MySQL:
		return fmt.Sprintf(`-- Ledger of applied and rolled back migrations
CREATE TABLE IF NOT EXISTS %[1]s (
    id VARCHAR(255) NOT NULL PRIMARY KEY,
    version VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT NULL,
    filename VARCHAR(255) NOT NULL,
    checksum CHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL,
    direction VARCHAR(8) NOT NULL,
    applied_at DATETIME(6) NULL,
    rolled_back_at DATETIME(6) NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    error_message TEXT NULL,
    applied_by VARCHAR(255) NULL,
    rollback_reason TEXT NULL,
    affected_rows BIGINT NOT NULL DEFAULT 0,
    warnings TEXT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX %[2]s (status),
    INDEX %[3]s (version)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Leases guarding migration runs; operation is unique so a second holder conflicts
CREATE TABLE IF NOT EXISTS %[4]s (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    operation VARCHAR(255) NOT NULL,
    acquired_at DATETIME(6) NOT NULL,
    expires_at DATETIME(6) NOT NULL,
    acquired_by VARCHAR(255) NOT NULL,
    UNIQUE KEY %[5]s (operation),
    INDEX %[6]s (expires_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`,
			cfg.LedgerTable, indexName(cfg.LedgerTable, "status"), indexName(cfg.LedgerTable, "version"),
			cfg.LocksTable, indexName(cfg.LocksTable, "operation"), indexName(cfg.LocksTable, "expires"))

	case SQLite:
		return fmt.Sprintf(`-- Ledger of applied and rolled back migrations
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT NOT NULL PRIMARY KEY,
    version TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    filename TEXT NOT NULL,
    checksum TEXT NOT NULL,
    status TEXT NOT NULL,
    direction TEXT NOT NULL,
    applied_at TEXT,
    rolled_back_at TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    applied_by TEXT,
    rollback_reason TEXT,
    affected_rows INTEGER NOT NULL DEFAULT 0,
    warnings TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (status);

-- Leases guarding migration runs; operation is unique so a second holder conflicts
CREATE TABLE IF NOT EXISTS %[3]s (
    id TEXT NOT NULL PRIMARY KEY,
    operation TEXT NOT NULL UNIQUE,
    acquired_at TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    acquired_by TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS %[4]s ON %[3]s (expires_at);
`,
			cfg.LedgerTable, indexName(cfg.LedgerTable, "status"),
			cfg.LocksTable, indexName(cfg.LocksTable, "expires"))

	default:
		return fmt.Sprintf(`-- Ledger of applied and rolled back migrations
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    filename TEXT NOT NULL,
    checksum TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'rolled_back')),
    direction TEXT NOT NULL CHECK (direction IN ('up', 'down')),
    applied_at TIMESTAMPTZ,
    rolled_back_at TIMESTAMPTZ,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    error_message TEXT,
    applied_by TEXT,
    rollback_reason TEXT,
    affected_rows BIGINT NOT NULL DEFAULT 0,
    warnings TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (status);

-- Leases guarding migration runs; operation is unique so a second holder conflicts
CREATE TABLE IF NOT EXISTS %[3]s (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL UNIQUE,
    acquired_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    acquired_by TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS %[4]s ON %[3]s (expires_at);
`,
			cfg.LedgerTable, indexName(cfg.LedgerTable, "status"),
			cfg.LocksTable, indexName(cfg.LocksTable, "expires"))
	}
}

// DropTablesSQL returns DDL removing both tables.
func (d Dialect) DropTablesSQL(cfg TableConfig) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\nDROP TABLE IF EXISTS %s;\n", cfg.LocksTable, cfg.LedgerTable)
}

// upsertSQL writes a ledger row, keeping created_at and unset rollback fields.
func (d Dialect) upsertSQL(table string) string {
	const columns = "id, version, name, description, filename, checksum, status, direction, applied_at, rolled_back_at, duration_ms, error_message, applied_by, rollback_reason, affected_rows, warnings, created_at"
	updated := []string{"version", "name", "description", "filename", "checksum", "status", "direction", "applied_at", "duration_ms", "error_message", "applied_by", "affected_rows", "warnings"}
	kept := []string{"rolled_back_at", "rollback_reason"}

	var set []string
	switch d {
	case MySQL:
		for _, c := range updated {
			set = append(set, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		for _, c := range kept {
			set = append(set, fmt.Sprintf("%s = COALESCE(VALUES(%s), %s)", c, c, c))
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			table, columns, d.placeholders(17), strings.Join(set, ", "))
	default:
		for _, c := range updated {
			set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		for _, c := range kept {
			set = append(set, fmt.Sprintf("%s = COALESCE(excluded.%s, l.%s)", c, c, c))
		}
		return fmt.Sprintf("INSERT INTO %s AS l (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
			table, columns, d.placeholders(17), strings.Join(set, ", "))
	}
}
