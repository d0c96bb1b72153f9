// Package migrator defines the domain types, error taxonomy and contracts of the
// schema migration orchestrator: loaded migration definitions, execution plans,
// ledger entries and leases.
//
// The components live in sub-packages (loader, integrity, planner, lock, backup,
// executor, engine) and are wired together by pkg/migrator.
package migrator

import "context"

// Logger is the structured logging contract used by every component.
// Implementations take alternating key/value pairs after the message.
// A nil Logger disables logging.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...interface{})
	Info(ctx context.Context, msg string, keysAndValues ...interface{})
	Warn(ctx context.Context, msg string, keysAndValues ...interface{})
	Error(ctx context.Context, msg string, keysAndValues ...interface{})
}

// ExecuteOptions control a plan execution.
type ExecuteOptions struct {
	// DryRun previews the plan without touching the ledger, the lock store or the target store.
	DryRun bool

	// Force keeps executing after a failed step.
	Force bool

	// Actor is recorded as applied_by in the ledger.
	Actor string
}

// Migrator is the programmatic surface consumed by operator tooling.
type Migrator interface {
	// LoadMigrations reads every migration definition from the configured source, ordered by version.
	LoadMigrations(ctx context.Context) ([]Migration, error)

	// GetAppliedMigrations returns ledger entries with status completed, ordered by version.
	GetAppliedMigrations(ctx context.Context) ([]LedgerEntry, error)

	// GetPendingMigrations returns loaded migrations that are not completed, ordered by version.
	GetPendingMigrations(ctx context.Context) ([]Migration, error)

	// CreateMigrationPlan computes the ordered plan for a direction and optional target version.
	CreateMigrationPlan(ctx context.Context, targetVersion string, direction Direction) (Plan, error)

	// ExecutePlan runs a plan under the orchestration lease.
	ExecutePlan(ctx context.Context, plan Plan, opts ExecuteOptions) ([]MigrationResult, error)

	// GetMigrationHistory returns every ledger entry, most recent first.
	GetMigrationHistory(ctx context.Context) ([]LedgerEntry, error)

	// GetMigrationStats summarizes the ledger against the loaded migrations.
	GetMigrationStats(ctx context.Context) (Stats, error)

	// ValidateMigrations compares the ledger checksums against the loaded definitions.
	ValidateMigrations(ctx context.Context) (ValidationResult, error)
}
