package executor

import (
	"context"

	"github.com/getpup/pupsourcing-migrator"
)

// Options control a single step.
type Options struct {
	// DryRun reports what would run without touching the ledger or the store.
	DryRun bool

	// Actor is recorded as applied_by.
	Actor string

	// Reason is recorded as the rollback reason of a down step.
	Reason string
}

// Runner executes one migration in one direction.
// This interface allows for mock implementations in tests.
type Runner interface {
	// Execute never returns an error directly: failures are reported in the
	// result and recorded in the ledger first.
	Execute(ctx context.Context, m migrator.Migration, direction migrator.Direction, opts Options) migrator.MigrationResult
}
