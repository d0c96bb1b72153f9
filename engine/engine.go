// Package engine runs migration plans under a lease and exposes the
// programmatic surface used by operator tooling.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/executor"
	"github.com/getpup/pupsourcing-migrator/integrity"
	"github.com/getpup/pupsourcing-migrator/lock"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/planner"
	"github.com/getpup/pupsourcing-migrator/store"
)

const tracerName = "github.com/getpup/pupsourcing-migrator/engine"

// Source provides migration definitions. *loader.Loader implements it.
type Source interface {
	Load(ctx context.Context) ([]migrator.Migration, error)
}

// BackupCreator creates a backup of the target store. *backup.Coordinator implements it.
type BackupCreator interface {
	CreateBackup(ctx context.Context) (string, error)
}

// Config holds configuration for the Engine.
type Config struct {
	// Source loads migration definitions (required).
	Source Source

	// Ledger is the execution history (required).
	Ledger store.Ledger

	// Locks grants the orchestration lease (required for non-dry runs).
	Locks *lock.Coordinator

	// Runner executes individual steps (required).
	Runner executor.Runner

	// Backup creates backups before risky plans (optional).
	Backup BackupCreator

	// Operation names the guarded lease (default: "migrate").
	Operation string

	// HolderID identifies this process in lock records (default: lock.DefaultHolderID()).
	HolderID string

	// ValidateChecksums runs the integrity check before building apply plans.
	ValidateChecksums bool

	// FailOnDrift turns integrity issues into a plan error instead of plan warnings.
	FailOnDrift bool

	// AutoBackup creates a backup before plans that require one.
	AutoBackup bool

	// BackupBlocking aborts the run when backup creation fails.
	// When false a failed backup only produces a warning.
	BackupBlocking bool

	// DryRun forces every ExecutePlan call into dry-run mode.
	DryRun bool

	// ReleaseTimeout bounds lease release after the run (default: 10s).
	ReleaseTimeout time.Duration

	// Logger is for observability (optional).
	Logger migrator.Logger

	// Collector records Prometheus metrics (optional).
	Collector *metrics.Collector

	// Tracer creates plan spans (default: the global tracer provider).
	Tracer trace.Tracer

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Engine coordinates loading, planning and executing migrations for one target store.
type Engine struct {
	config Config
}

// Compile-time check that Engine implements the programmatic surface.
var _ migrator.Migrator = (*Engine)(nil)

// New creates a new Engine with the given configuration.
func New(cfg Config) *Engine {
	if cfg.Operation == "" {
		cfg.Operation = "migrate"
	}
	if cfg.HolderID == "" {
		cfg.HolderID = lock.DefaultHolderID()
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 10 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{config: cfg}
}

// LoadMigrations reads every migration definition, ordered by version.
func (e *Engine) LoadMigrations(ctx context.Context) ([]migrator.Migration, error) {
	migrations, err := e.config.Source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	sort.SliceStable(migrations, func(i, j int) bool {
		return migrator.CompareVersions(migrations[i].Version, migrations[j].Version) < 0
	})
	return migrations, nil
}

// GetAppliedMigrations returns completed ledger entries ordered by version.
func (e *Engine) GetAppliedMigrations(ctx context.Context) ([]migrator.LedgerEntry, error) {
	entries, err := e.config.Ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	applied := make([]migrator.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == migrator.StatusCompleted {
			applied = append(applied, entry)
		}
	}
	store.SortEntries(applied)
	return applied, nil
}

// GetPendingMigrations returns loaded migrations without a completed ledger entry.
func (e *Engine) GetPendingMigrations(ctx context.Context) ([]migrator.Migration, error) {
	migrations, entries, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	completed := completedIDs(entries)
	pending := make([]migrator.Migration, 0, len(migrations))
	for _, m := range migrations {
		if !completed[m.ID] {
			pending = append(pending, m)
		}
	}

	if e.config.Collector != nil {
		e.config.Collector.SetPending(len(pending))
	}
	return pending, nil
}

// CreateMigrationPlan computes the plan for direction, bounded by targetVersion when non-empty.
// Apply plans run the integrity check first when ValidateChecksums is set.
func (e *Engine) CreateMigrationPlan(ctx context.Context, targetVersion string, direction migrator.Direction) (migrator.Plan, error) {
	migrations, entries, err := e.snapshot(ctx)
	if err != nil {
		return migrator.Plan{}, err
	}

	var drift []string
	if e.config.ValidateChecksums && direction == migrator.DirectionUp {
		result := integrity.Check(entries, migrations)
		if e.config.Collector != nil {
			e.config.Collector.SetDriftIssues(len(result.Issues))
		}
		if !result.Valid {
			if e.config.FailOnDrift {
				return migrator.Plan{}, integrity.Err(result)
			}
			drift = result.Issues
		}
	}

	plan, err := planner.Build(migrations, entries, planner.Options{
		Direction:     direction,
		TargetVersion: targetVersion,
		Now:           e.config.Now,
	})
	if err != nil {
		return migrator.Plan{}, err
	}
	plan.Warnings = append(plan.Warnings, drift...)

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "Migration plan created",
			"direction", direction, "target", targetVersion, "steps", len(plan.Migrations),
			"requiresDowntime", plan.RequiresDowntime, "backupRequired", plan.BackupRequired)
	}
	return plan, nil
}

// ExecutePlan runs plan steps in order under the orchestration lease.
// It stops at the first failed step unless opts.Force is set. All results
// are returned; if any step failed the error wraps migrator.ErrExecution.
// The lease is released on every exit path.
func (e *Engine) ExecutePlan(ctx context.Context, plan migrator.Plan, opts migrator.ExecuteOptions) (results []migrator.MigrationResult, err error) {
	dryRun := opts.DryRun || e.config.DryRun
	start := e.config.Now()

	ctx, span := e.config.Tracer.Start(ctx, "migrator.execute_plan", trace.WithAttributes(
		attribute.String("plan.direction", string(plan.Direction)),
		attribute.String("plan.target_version", plan.TargetVersion),
		attribute.Int("plan.steps", len(plan.Migrations)),
		attribute.Bool("plan.dry_run", dryRun),
		attribute.Bool("plan.force", opts.Force),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.observePlan(plan.Direction, dryRun, err, start)
	}()

	results = make([]migrator.MigrationResult, 0, len(plan.Migrations))
	if plan.Empty() {
		if e.config.Logger != nil {
			e.config.Logger.Info(ctx, "Nothing to migrate", "direction", plan.Direction)
		}
		return results, nil
	}

	for _, w := range plan.Warnings {
		if e.config.Logger != nil {
			e.config.Logger.Warn(ctx, "Plan warning", "warning", w)
		}
	}

	stepOpts := executor.Options{DryRun: dryRun, Actor: opts.Actor}
	if plan.Direction == migrator.DirectionDown {
		stepOpts.Reason = rollbackReason(plan)
	}

	if dryRun {
		for _, m := range plan.Migrations {
			results = append(results, e.config.Runner.Execute(ctx, m, plan.Direction, stepOpts))
		}
		return results, nil
	}

	lease, err := e.config.Locks.Acquire(ctx, e.config.Operation, e.config.HolderID)
	if err != nil {
		if errors.Is(err, migrator.ErrLockContention) && e.config.Collector != nil {
			e.config.Collector.IncLockContention()
		}
		return nil, err
	}

	keeper := e.config.Locks.Keep(ctx, lease)
	defer func() {
		keeper.Stop()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ReleaseTimeout)
		defer cancel()
		if rerr := e.config.Locks.Release(releaseCtx, keeper.Lease()); rerr != nil && e.config.Logger != nil {
			e.config.Logger.Error(ctx, "Failed to release lock; it will expire on its own", "operation", e.config.Operation, "error", rerr)
		}
	}()

	if err := e.checkFresh(ctx, plan); err != nil {
		if e.config.Logger != nil {
			e.config.Logger.Error(ctx, "Plan no longer matches the ledger", "error", err)
		}
		return results, err
	}

	if err := e.backup(ctx, plan); err != nil {
		return results, err
	}

	var failures []migrator.MigrationResult
	for _, m := range plan.Migrations {
		select {
		case <-keeper.Lost():
			if e.config.Collector != nil {
				e.config.Collector.IncLeaseLost()
			}
			return results, fmt.Errorf("stopped before %s: %w", m.ID, keeper.Err())
		default:
		}
		if ctx.Err() != nil {
			return results, fmt.Errorf("stopped before %s: %w", m.ID, ctx.Err())
		}

		result, err := e.step(ctx, m, plan.Migrations, plan.Direction, stepOpts)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if e.config.Collector != nil {
			e.config.Collector.ObserveStep(result)
		}

		if result.Success {
			continue
		}
		failures = append(failures, result)
		if !opts.Force {
			if e.config.Logger != nil {
				e.config.Logger.Error(ctx, "Plan halted after failed step", "migration", m.ID, "error", result.Error)
			}
			break
		}
		if e.config.Logger != nil {
			e.config.Logger.Warn(ctx, "Step failed, continuing because force is set", "migration", m.ID, "error", result.Error)
		}
	}

	if len(failures) > 0 {
		return results, failureErr(failures, opts.Force)
	}

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "Plan executed", "direction", plan.Direction, "steps", len(results))
	}
	return results, nil
}

// checkFresh re-reads the ledger under the lease and verifies every planned
// step still meets its precondition: not completed for up, completed for down.
func (e *Engine) checkFresh(ctx context.Context, plan migrator.Plan) error {
	entries, err := e.config.Ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	status := make(map[string]migrator.Status, len(entries))
	for _, entry := range entries {
		status[entry.ID] = entry.Status
	}

	for _, m := range plan.Migrations {
		current, ok := status[m.ID]
		if !ok {
			current = migrator.StatusPending
		}
		if (current == migrator.StatusCompleted) == (plan.Direction == migrator.DirectionDown) {
			continue
		}
		return &migrator.PlanError{
			Direction:     plan.Direction,
			TargetVersion: plan.TargetVersion,
			MigrationID:   m.ID,
			Reason:        fmt.Sprintf("ledger status is now %s; re-plan", current),
			Err:           migrator.ErrStalePlan,
		}
	}
	return nil
}

// step executes one migration. Apply steps whose dependencies are not
// completed in the ledger are recorded as failed without running.
func (e *Engine) step(ctx context.Context, m migrator.Migration, planned []migrator.Migration, direction migrator.Direction, opts executor.Options) (migrator.MigrationResult, error) {
	if direction != migrator.DirectionUp || len(m.Dependencies) == 0 {
		return e.config.Runner.Execute(ctx, m, direction, opts), nil
	}

	entries, err := e.config.Ledger.List(ctx)
	if err != nil {
		return migrator.MigrationResult{}, fmt.Errorf("failed to read ledger before %s: %w", m.ID, err)
	}
	unmet := planner.UnmetDependencies(m, planned, entries)
	if len(unmet) == 0 {
		return e.config.Runner.Execute(ctx, m, direction, opts), nil
	}

	execErr := &migrator.ExecutionError{
		MigrationID: m.ID,
		Version:     m.Version,
		Direction:   direction,
		Err: &migrator.UnsatisfiedDependencyError{
			MigrationID: m.ID,
			Version:     m.Version,
			Dependency:  unmet[0],
			Reason:      "dependency is not completed; step not started",
		},
	}
	now := e.config.Now()
	result := migrator.MigrationResult{
		MigrationID: m.ID,
		Version:     m.Version,
		Direction:   direction,
		AppliedAt:   now,
		Err:         execErr,
	}

	entry := migrator.NewLedgerEntry(m)
	entry.Status = migrator.StatusFailed
	entry.Direction = direction
	entry.AppliedAt = now
	entry.AppliedBy = opts.Actor
	entry.ErrorMessage = execErr.Error()
	if err := e.config.Ledger.Upsert(ctx, entry); err != nil {
		execErr.Err = errors.Join(execErr.Err, fmt.Errorf("failed to record failed status: %w", err))
	}
	result.Error = execErr.Error()
	return result, nil
}

// backup creates a backup when the plan requires one.
// A failure aborts the run only when BackupBlocking is set.
func (e *Engine) backup(ctx context.Context, plan migrator.Plan) error {
	if !plan.BackupRequired {
		return nil
	}
	if !e.config.AutoBackup || e.config.Backup == nil {
		if e.config.Logger != nil {
			e.config.Logger.Warn(ctx, "Plan requires a backup but automatic backups are disabled")
		}
		return nil
	}

	start := e.config.Now()
	path, err := e.config.Backup.CreateBackup(ctx)
	if e.config.Collector != nil {
		e.config.Collector.ObserveBackup(err, e.config.Now().Sub(start))
	}
	if err == nil {
		if e.config.Logger != nil {
			e.config.Logger.Info(ctx, "Backup created", "path", path)
		}
		return nil
	}

	if e.config.BackupBlocking {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if e.config.Logger != nil {
		e.config.Logger.Error(ctx, "BACKUP FAILED: continuing without a backup", "error", err)
	}
	return nil
}

func (e *Engine) observePlan(direction migrator.Direction, dryRun bool, err error, start time.Time) {
	if e.config.Collector == nil {
		return
	}
	outcome := "success"
	switch {
	case dryRun:
		outcome = "dry_run"
	case err != nil:
		outcome = "failure"
	}
	e.config.Collector.ObservePlanRun(direction, outcome, e.config.Now().Sub(start))
}

// GetMigrationHistory returns every ledger entry, most recent first.
func (e *Engine) GetMigrationHistory(ctx context.Context) ([]migrator.LedgerEntry, error) {
	entries, err := e.config.Ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := lastActivity(entries[i]), lastActivity(entries[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return migrator.CompareVersions(entries[i].Version, entries[j].Version) > 0
	})
	return entries, nil
}

// GetMigrationStats summarizes the ledger against the loaded migrations.
func (e *Engine) GetMigrationStats(ctx context.Context) (migrator.Stats, error) {
	migrations, entries, err := e.snapshot(ctx)
	if err != nil {
		return migrator.Stats{}, err
	}

	stats := migrator.Stats{Total: len(migrations)}
	completed := completedIDs(entries)
	for _, m := range migrations {
		if !completed[m.ID] {
			stats.Pending++
		}
	}

	for _, entry := range entries {
		switch entry.Status {
		case migrator.StatusCompleted:
			stats.Applied++
			stats.TotalDuration += entry.Duration
			if stats.LastAppliedVersion == "" || migrator.CompareVersions(entry.Version, stats.LastAppliedVersion) > 0 {
				stats.LastAppliedVersion = entry.Version
			}
			if entry.AppliedAt.After(stats.LastAppliedAt) {
				stats.LastAppliedAt = entry.AppliedAt
			}
		case migrator.StatusFailed:
			stats.Failed++
		case migrator.StatusRolledBack:
			stats.RolledBack++
		}
	}
	if stats.Applied > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Applied)
	}
	return stats, nil
}

// ValidateMigrations compares ledger checksums against the loaded definitions.
func (e *Engine) ValidateMigrations(ctx context.Context) (migrator.ValidationResult, error) {
	migrations, err := e.LoadMigrations(ctx)
	if err != nil {
		return migrator.ValidationResult{}, err
	}

	result, err := integrity.New(e.config.Ledger).Validate(ctx, migrations)
	if err != nil {
		return migrator.ValidationResult{}, err
	}
	if e.config.Collector != nil {
		e.config.Collector.SetDriftIssues(len(result.Issues))
	}
	if !result.Valid && e.config.Logger != nil {
		e.config.Logger.Warn(ctx, "Migration drift detected", "issues", len(result.Issues))
	}
	return result, nil
}

func (e *Engine) snapshot(ctx context.Context) ([]migrator.Migration, []migrator.LedgerEntry, error) {
	migrations, err := e.LoadMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	entries, err := e.config.Ledger.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return migrations, entries, nil
}

func completedIDs(entries []migrator.LedgerEntry) map[string]bool {
	ids := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Status == migrator.StatusCompleted {
			ids[entry.ID] = true
		}
	}
	return ids
}

func lastActivity(entry migrator.LedgerEntry) time.Time {
	if entry.RolledBackAt != nil && entry.RolledBackAt.After(entry.AppliedAt) {
		return *entry.RolledBackAt
	}
	return entry.AppliedAt
}

func rollbackReason(plan migrator.Plan) string {
	if plan.TargetVersion == "" {
		return "rollback of all applied migrations"
	}
	return "rollback to version " + plan.TargetVersion
}

func failureErr(failures []migrator.MigrationResult, force bool) error {
	first := failures[0]
	err := first.Err
	if err == nil {
		err = &migrator.ExecutionError{
			MigrationID: first.MigrationID,
			Version:     first.Version,
			Direction:   first.Direction,
			Err:         errors.New(first.Error),
		}
	}
	if !errors.Is(err, migrator.ErrExecution) {
		err = fmt.Errorf("%w: %w", migrator.ErrExecution, err)
	}
	if force {
		return fmt.Errorf("%d step(s) failed: %w", len(failures), err)
	}
	return fmt.Errorf("plan halted: %w", err)
}
