// Package executor runs migration bodies against the target store and
// records each step in the ledger.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlsplit"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

const tracerName = "github.com/getpup/pupsourcing-migrator/executor"

// Config configures the migration executor.
type Config struct {
	// DB is the target store (required unless every call is a dry run).
	DB *sql.DB

	// Ledger records every step (required).
	Ledger store.Ledger

	// Dialect decides whether bodies run inside a transaction (default: postgres).
	Dialect sqlstore.Dialect

	// Logger is an optional logger for observability.
	Logger migrator.Logger

	// Tracer creates step spans (default: the global tracer provider).
	Tracer trace.Tracer

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Executor executes migration bodies one step at a time.
type Executor struct {
	config Config
}

// Compile-time check that Executor implements Runner.
var _ Runner = (*Executor)(nil)

// New creates a new Executor with the given configuration.
func New(cfg Config) *Executor {
	if cfg.Dialect == "" {
		cfg.Dialect = sqlstore.Postgres
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{config: cfg}
}

// Execute runs one step: running is recorded before the body executes and
// the terminal status is recorded before the result is returned.
func (e *Executor) Execute(ctx context.Context, m migrator.Migration, direction migrator.Direction, opts Options) migrator.MigrationResult {
	ctx, span := e.config.Tracer.Start(ctx, "migrator.execute", trace.WithAttributes(
		attribute.String("migration.id", m.ID),
		attribute.String("migration.version", m.Version),
		attribute.String("migration.direction", string(direction)),
		attribute.Bool("migration.dry_run", opts.DryRun),
	))
	defer span.End()

	start := e.config.Now()
	result := migrator.MigrationResult{
		MigrationID: m.ID,
		Version:     m.Version,
		Direction:   direction,
		AppliedAt:   start,
		DryRun:      opts.DryRun,
	}

	statements := sqlsplit.Split(m.Body(direction))

	if opts.DryRun {
		result.Success = true
		result.Warnings = append(result.Warnings, fmt.Sprintf("dry run: %d statement(s) not executed", len(statements)))
		if len(statements) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("migration has no %s statements", direction))
		}
		if e.config.Logger != nil {
			e.config.Logger.Info(ctx, "Dry run step", "migration", m.ID, "direction", direction, "statements", len(statements))
		}
		return result
	}

	entry := migrator.NewLedgerEntry(m)
	entry.Status = migrator.StatusRunning
	entry.Direction = direction
	entry.AppliedAt = start
	entry.AppliedBy = opts.Actor

	// A rollback keeps who applied the migration and when.
	if direction == migrator.DirectionDown {
		prev, err := e.config.Ledger.Get(ctx, m.ID)
		switch {
		case err == nil:
			entry.AppliedAt = prev.AppliedAt
			entry.AppliedBy = prev.AppliedBy
		case !errors.Is(err, store.ErrEntryNotFound):
			return e.fail(ctx, span, result, fmt.Errorf("failed to read ledger entry: %w", err))
		}
	}

	if err := e.config.Ledger.Upsert(ctx, entry); err != nil {
		return e.fail(ctx, span, result, fmt.Errorf("failed to record running status: %w", err))
	}

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "Executing migration", "migration", m.ID, "version", m.Version, "direction", direction)
	}

	var (
		affected int64
		warnings []string
		err      error
	)
	switch {
	case len(statements) == 0:
		err = fmt.Errorf("migration has no %s statements", direction)
	case e.config.DB == nil:
		err = fmt.Errorf("no target database configured")
	case e.config.Dialect.SupportsTransactionalDDL():
		affected, err = e.runInTx(ctx, statements)
	default:
		warnings = append(warnings, "statements ran without a transaction; a failure may leave partial changes")
		affected, err = e.runDirect(ctx, statements)
	}

	end := e.config.Now()
	result.Duration = end.Sub(start)
	result.AffectedRows = affected
	result.Warnings = warnings

	entry.Duration = result.Duration
	entry.AffectedRows = affected
	entry.Warnings = warnings

	if err != nil {
		entry.Status = migrator.StatusFailed
		entry.ErrorMessage = err.Error()
		if lerr := e.config.Ledger.Upsert(ctx, entry); lerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to record failed status: %w", lerr))
		}
		return e.fail(ctx, span, result, err)
	}

	entry.Status = migrator.StatusCompleted
	if direction == migrator.DirectionDown {
		entry.Status = migrator.StatusRolledBack
		entry.RolledBackAt = &end
		entry.RollbackReason = opts.Reason
	}
	if err := e.config.Ledger.Upsert(ctx, entry); err != nil {
		return e.fail(ctx, span, result, fmt.Errorf("body succeeded but recording %s status failed: %w", entry.Status, err))
	}

	result.Success = true
	span.SetAttributes(attribute.Int64("migration.affected_rows", affected))
	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "Migration step completed",
			"migration", m.ID, "direction", direction, "duration", result.Duration, "affectedRows", affected)
	}
	return result
}

func (e *Executor) fail(ctx context.Context, span trace.Span, result migrator.MigrationResult, err error) migrator.MigrationResult {
	execErr := &migrator.ExecutionError{
		MigrationID: result.MigrationID,
		Version:     result.Version,
		Direction:   result.Direction,
		Err:         err,
	}
	result.Success = false
	result.Err = execErr
	result.Error = execErr.Error()
	result.RollbackRequired = result.Direction == migrator.DirectionUp

	span.RecordError(execErr)
	span.SetStatus(codes.Error, err.Error())
	if e.config.Logger != nil {
		e.config.Logger.Error(ctx, "Migration step failed", "migration", result.MigrationID, "direction", result.Direction, "error", err)
	}
	return result
}

// runInTx executes every statement in one transaction.
func (e *Executor) runInTx(ctx context.Context, statements []string) (int64, error) {
	tx, err := e.config.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var affected int64
	for i, stmt := range statements {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("statement %d: %w", i+1, err)
		}
		affected += rowsAffected(res)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return affected, nil
}

// runDirect executes statements one by one; earlier statements stay applied on failure.
func (e *Executor) runDirect(ctx context.Context, statements []string) (int64, error) {
	var affected int64
	for i, stmt := range statements {
		res, err := e.config.DB.ExecContext(ctx, stmt)
		if err != nil {
			return affected, fmt.Errorf("statement %d: %w", i+1, err)
		}
		affected += rowsAffected(res)
	}
	return affected, nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil || n < 0 {
		return 0
	}
	return n
}
