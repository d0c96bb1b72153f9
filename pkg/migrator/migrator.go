// Package migrator wires every component of the schema migration engine behind
// functional options.
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/config"
	"github.com/getpup/pupsourcing-migrator/engine"
	"github.com/getpup/pupsourcing-migrator/executor"
	"github.com/getpup/pupsourcing-migrator/loader"
	"github.com/getpup/pupsourcing-migrator/lock"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing-migrator/store/redislock"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

// Re-export core types from root package
type (
	// Migration is a loaded migration definition.
	Migration = rootpkg.Migration

	// Plan is an ordered, validated set of migrations.
	Plan = rootpkg.Plan

	// MigrationResult is the outcome of one executed step.
	MigrationResult = rootpkg.MigrationResult

	// ExecuteOptions control a plan execution.
	ExecuteOptions = rootpkg.ExecuteOptions

	// Direction is up (apply) or down (rollback).
	Direction = rootpkg.Direction
)

// Option configures a Migrator.
type Option func(*options)

// options holds the internal configuration for creating a Migrator.
type options struct {
	db                *sql.DB
	dialect           sqlstore.Dialect
	tableConfig       sqlstore.TableConfig
	dir               string
	fsys              fs.FS
	ledger            store.Ledger
	lockStore         store.LockStore
	redisClient       redis.UniversalClient
	redisPrefix       string
	runner            executor.Runner
	backup            engine.BackupCreator
	lockTimeout       time.Duration
	operation         string
	holderID          string
	validateChecksums bool
	failOnDrift       bool
	autoBackup        bool
	backupBlocking    bool
	dryRun            bool
	logger            rootpkg.Logger
	metricsEnabled    bool
	tracer            trace.Tracer
}

// New creates a Migrator with the given options.
//
// Required options:
//   - WithDatabase: target store connection (or both WithLedger and WithRunner)
//   - WithMigrationsDir or WithMigrationsFS: migration source
//
// Optional configuration (with defaults):
//   - WithDialect: SQL dialect (default: postgres)
//   - WithTableNames: bookkeeping tables (default: schema_migrations, schema_migration_locks)
//   - WithLockTimeout: lease duration (default: 5m)
//   - WithOperation: lease name (default: migrate)
//   - WithValidateChecksums: integrity check before apply plans (default: true)
//   - WithRedisLocks or WithLockStore: lease store (default: the SQL lock table)
//   - WithBackup, WithAutoBackup, WithBackupBlocking: backup gating (default: off)
//   - WithLogger: logger for observability (default: nil)
//   - WithMetricsEnabled: enable Prometheus metrics (default: true)
//
// Example:
//
//	m, err := migrator.New(
//	    migrator.WithDatabase(db),
//	    migrator.WithDialect(sqlstore.Postgres),
//	    migrator.WithMigrationsDir("migrations"),
//	)
//
// Returns an error if any required option is missing.
func New(opts ...Option) (*engine.Engine, error) {
	cfg := &options{
		dialect:           sqlstore.Postgres,
		tableConfig:       sqlstore.DefaultTableConfig(),
		lockTimeout:       5 * time.Minute,
		operation:         "migrate",
		validateChecksums: true,
		metricsEnabled:    true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.dir == "" && cfg.fsys == nil {
		return nil, fmt.Errorf("migration source is required: use WithMigrationsDir or WithMigrationsFS option")
	}
	if cfg.db == nil && (cfg.ledger == nil || cfg.runner == nil || (cfg.lockStore == nil && cfg.redisClient == nil)) {
		return nil, fmt.Errorf("database is required: use WithDatabase option")
	}

	var sqlStore *sqlstore.Store
	if cfg.db != nil {
		s, err := sqlstore.NewWithConfig(cfg.db, cfg.dialect, cfg.tableConfig)
		if err != nil {
			return nil, err
		}
		sqlStore = s
	}

	if cfg.ledger == nil {
		cfg.ledger = sqlStore
	}
	if cfg.lockStore == nil {
		if cfg.redisClient != nil {
			cfg.lockStore = redislock.New(redislock.Config{Client: cfg.redisClient, KeyPrefix: cfg.redisPrefix})
		} else {
			cfg.lockStore = sqlStore
		}
	}
	if cfg.runner == nil {
		cfg.runner = executor.New(executor.Config{
			DB:      cfg.db,
			Ledger:  cfg.ledger,
			Dialect: cfg.dialect,
			Logger:  cfg.logger,
			Tracer:  cfg.tracer,
		})
	}

	var collector *metrics.Collector
	if cfg.metricsEnabled {
		collector = metrics.NewCollector(cfg.operation)
	}

	return engine.New(engine.Config{
		Source: loader.New(loader.Config{Dir: cfg.dir, FS: cfg.fsys, Logger: cfg.logger}),
		Ledger: cfg.ledger,
		Locks: lock.New(lock.Config{
			Store:   cfg.lockStore,
			Timeout: cfg.lockTimeout,
			Logger:  cfg.logger,
		}),
		Runner:            cfg.runner,
		Backup:            cfg.backup,
		Operation:         cfg.operation,
		HolderID:          cfg.holderID,
		ValidateChecksums: cfg.validateChecksums,
		FailOnDrift:       cfg.failOnDrift,
		AutoBackup:        cfg.autoBackup,
		BackupBlocking:    cfg.backupBlocking,
		DryRun:            cfg.dryRun,
		Logger:            cfg.logger,
		Collector:         collector,
		Tracer:            cfg.tracer,
	}), nil
}

// FromConfig translates a loaded configuration into options.
// Connection, backup and Redis wiring stay with the caller.
func FromConfig(c config.Config) ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	dialect, err := c.Dialect()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithDialect(dialect),
		WithMigrationsDir(c.MigrationsDirectory),
		WithTableNames(c.TableName, c.LockTableName),
		WithLockTimeout(c.LockTimeout),
		WithOperation(c.Operation),
		WithValidateChecksums(c.ValidateChecksums),
		WithFailOnDrift(c.FailOnDrift),
		WithAutoBackup(c.AutoBackup),
		WithBackupBlocking(c.BackupBlocking),
		WithDryRun(c.DryRun),
	}, nil
}

// WithDatabase sets the target store connection. The ledger and lock tables live there too.
func WithDatabase(db *sql.DB) Option {
	return func(c *options) {
		c.db = db
	}
}

// WithDialect sets the SQL dialect of the target store.
func WithDialect(dialect sqlstore.Dialect) Option {
	return func(c *options) {
		c.dialect = dialect
	}
}

// WithTableNames sets custom names for the ledger and lock tables.
func WithTableNames(ledgerTable, locksTable string) Option {
	return func(c *options) {
		c.tableConfig = sqlstore.TableConfig{LedgerTable: ledgerTable, LocksTable: locksTable}
	}
}

// WithMigrationsDir loads migrations from a directory on disk.
func WithMigrationsDir(dir string) Option {
	return func(c *options) {
		c.dir = dir
	}
}

// WithMigrationsFS loads migrations from a file system, such as an embed.FS.
func WithMigrationsFS(fsys fs.FS) Option {
	return func(c *options) {
		c.fsys = fsys
	}
}

// WithLedger sets a custom ledger.
func WithLedger(ledger store.Ledger) Option {
	return func(c *options) {
		c.ledger = ledger
	}
}

// WithLockStore sets a custom lease store.
func WithLockStore(locks store.LockStore) Option {
	return func(c *options) {
		c.lockStore = locks
	}
}

// WithRedisLocks keeps leases in Redis instead of the lock table.
func WithRedisLocks(client redis.UniversalClient, keyPrefix string) Option {
	return func(c *options) {
		c.redisClient = client
		c.redisPrefix = keyPrefix
	}
}

// WithRunner sets a custom step executor.
func WithRunner(runner executor.Runner) Option {
	return func(c *options) {
		c.runner = runner
	}
}

// WithBackup sets the backup coordinator used when a plan requires a backup.
func WithBackup(backup engine.BackupCreator) Option {
	return func(c *options) {
		c.backup = backup
	}
}

// WithLockTimeout sets the lease duration.
func WithLockTimeout(timeout time.Duration) Option {
	return func(c *options) {
		c.lockTimeout = timeout
	}
}

// WithOperation sets the lease name. Runs sharing an operation exclude each other.
func WithOperation(operation string) Option {
	return func(c *options) {
		c.operation = operation
	}
}

// WithHolderID sets the identity recorded in lock records.
func WithHolderID(holderID string) Option {
	return func(c *options) {
		c.holderID = holderID
	}
}

// WithValidateChecksums enables the integrity check before apply plans.
func WithValidateChecksums(enabled bool) Option {
	return func(c *options) {
		c.validateChecksums = enabled
	}
}

// WithFailOnDrift turns integrity issues into plan errors.
func WithFailOnDrift(enabled bool) Option {
	return func(c *options) {
		c.failOnDrift = enabled
	}
}

// WithAutoBackup creates a backup before plans that require one.
func WithAutoBackup(enabled bool) Option {
	return func(c *options) {
		c.autoBackup = enabled
	}
}

// WithBackupBlocking aborts runs whose backup fails.
func WithBackupBlocking(enabled bool) Option {
	return func(c *options) {
		c.backupBlocking = enabled
	}
}

// WithDryRun forces every plan execution into dry-run mode.
func WithDryRun(enabled bool) Option {
	return func(c *options) {
		c.dryRun = enabled
	}
}

// WithLogger sets a logger for observability.
func WithLogger(logger rootpkg.Logger) Option {
	return func(c *options) {
		c.logger = logger
	}
}

// WithMetricsEnabled enables or disables Prometheus metrics.
func WithMetricsEnabled(enabled bool) Option {
	return func(c *options) {
		c.metricsEnabled = enabled
	}
}

// WithTracer sets the OpenTelemetry tracer for plan and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *options) {
		c.tracer = tracer
	}
}

// Bootstrap creates the ledger and lock tables in db.
// It is safe to run on every startup.
//
// Example:
//
//	if err := migrator.Bootstrap(ctx, db, sqlstore.Postgres, sqlstore.DefaultTableConfig()); err != nil {
//	    log.Fatal(err)
//	}
func Bootstrap(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect, tables sqlstore.TableConfig) error {
	s, err := sqlstore.NewWithConfig(db, dialect, tables)
	if err != nil {
		return err
	}
	if err := s.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create bookkeeping tables: %w", err)
	}
	return nil
}
