package migrator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLoad indicates a migration definition could not be parsed.
	// Load errors are isolated to the offending item.
	ErrLoad = errors.New("invalid migration definition")

	// ErrPlan indicates a plan could not be built.
	ErrPlan = errors.New("cannot build migration plan")

	// ErrStalePlan indicates the ledger changed between planning and execution.
	// Wrapped in a *PlanError; the caller should re-plan.
	ErrStalePlan = errors.New("plan is stale")

	// ErrUnsatisfiedDependency indicates a migration dependency is neither applied nor scheduled before it.
	ErrUnsatisfiedDependency = errors.New("unsatisfied migration dependency")

	// ErrLockContention indicates another holder owns the orchestration lease.
	// Callers may retry at their own discretion.
	ErrLockContention = errors.New("migration lock is held by another process")

	// ErrLeaseLost indicates the lease expired or was taken over while a plan was running.
	ErrLeaseLost = errors.New("migration lease lost")

	// ErrExecution indicates a migration body failed.
	ErrExecution = errors.New("migration execution failed")

	// ErrIntegrity indicates checksum drift between the ledger and the loaded definitions.
	ErrIntegrity = errors.New("migration integrity check failed")

	// ErrMigrationNotFound indicates a referenced migration is not loaded.
	ErrMigrationNotFound = errors.New("migration not found")
)

// LoadError describes a migration file that was skipped.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skipping %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("skipping %s: %s", e.Path, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// PlanError aborts plan construction.
type PlanError struct {
	Direction     Direction
	TargetVersion string
	MigrationID   string
	Reason        string
	Err           error
}

func (e *PlanError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot build %s plan", e.Direction)
	if e.TargetVersion != "" {
		fmt.Fprintf(&b, " to version %s", e.TargetVersion)
	}
	if e.MigrationID != "" {
		fmt.Fprintf(&b, ": migration %s", e.MigrationID)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PlanError) Unwrap() error { return e.Err }

func (e *PlanError) Is(target error) bool { return target == ErrPlan }

// UnsatisfiedDependencyError names the offending migration/dependency pair.
type UnsatisfiedDependencyError struct {
	MigrationID string
	Version     string
	Dependency  string
	Reason      string
}

func (e *UnsatisfiedDependencyError) Error() string {
	msg := fmt.Sprintf("migration %s (version %s) depends on %s", e.MigrationID, e.Version, e.Dependency)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *UnsatisfiedDependencyError) Is(target error) bool { return target == ErrUnsatisfiedDependency }

// LockContentionError reports the current holder of a contended lease.
type LockContentionError struct {
	Operation string
	HeldBy    string
	ExpiresAt time.Time
}

func (e *LockContentionError) Error() string {
	if e.HeldBy == "" {
		return fmt.Sprintf("lock %q is held by another process", e.Operation)
	}
	return fmt.Sprintf("lock %q is held by %s until %s", e.Operation, e.HeldBy, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *LockContentionError) Is(target error) bool { return target == ErrLockContention }

// ExecutionError is recorded in the ledger before it is returned.
type ExecutionError struct {
	MigrationID string
	Version     string
	Direction   Direction
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration %s (version %s, %s) failed: %v", e.MigrationID, e.Version, e.Direction, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// IntegrityError carries drift issues. It is advisory unless the caller decides otherwise.
type IntegrityError struct {
	Issues []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("migration integrity check failed: %s", strings.Join(e.Issues, "; "))
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
