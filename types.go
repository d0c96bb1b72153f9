package migrator

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the direction a migration is executed in.
type Direction string

const (
	// DirectionUp applies a migration.
	DirectionUp Direction = "up"

	// DirectionDown rolls a migration back.
	DirectionDown Direction = "down"
)

// ParseDirection converts user input into a Direction.
// It accepts "up"/"apply" and "down"/"rollback" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "apply":
		return DirectionUp, nil
	case "down", "rollback":
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("unknown direction %q: expected up or down", s)
	}
}

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	// StatusPending indicates the migration is known but has not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the migration body is executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the migration was applied successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the last execution attempt failed.
	StatusFailed Status = "failed"

	// StatusRolledBack indicates a previously completed migration was reverted.
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether the status ends an execution attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// Migration is a loaded migration definition. It is never mutated after loading.
type Migration struct {
	// ID is "<version>_<name>" and is unique within a source.
	ID string `json:"id"`

	// Version orders migrations; see CompareVersions.
	Version string `json:"version"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Filename is the source file the migration was loaded from.
	Filename string `json:"filename"`

	// Checksum is the hex SHA-256 of the raw definition.
	Checksum string `json:"checksum"`

	// Dependencies lists ids (or bare versions) that must be applied first.
	Dependencies []string `json:"dependencies,omitempty"`

	UpSQL   string `json:"-"`
	DownSQL string `json:"-"`

	Tags              []string      `json:"tags,omitempty"`
	Author            string        `json:"author,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiresDowntime  bool          `json:"requires_downtime"`
	BackupRequired    bool          `json:"backup_required"`
}

// Body returns the statements for the given direction.
func (m Migration) Body(direction Direction) string {
	if direction == DirectionDown {
		return m.DownSQL
	}
	return m.UpSQL
}

// Reversible reports whether the migration has a down section.
func (m Migration) Reversible() bool {
	return strings.TrimSpace(m.DownSQL) != ""
}

// MigrationResult is the outcome of executing one migration in one direction.
type MigrationResult struct {
	MigrationID string        `json:"migration_id"`
	Version     string        `json:"version"`
	Direction   Direction     `json:"direction"`
	Duration    time.Duration `json:"duration"`
	AppliedAt   time.Time     `json:"applied_at"`
	Success     bool          `json:"success"`

	// Error is the message of Err, kept for serialization.
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`

	AffectedRows int64    `json:"affected_rows"`
	Warnings     []string `json:"warnings,omitempty"`

	// RollbackRequired is set when an apply failed and must be unwound by an operator.
	RollbackRequired bool `json:"rollback_required"`

	DryRun bool `json:"dry_run,omitempty"`
}

// Plan is an ordered, validated set of migrations for a single run.
type Plan struct {
	Migrations        []Migration   `json:"migrations"`
	Direction         Direction     `json:"direction"`
	TargetVersion     string        `json:"target_version,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiresDowntime  bool          `json:"requires_downtime"`
	BackupRequired    bool          `json:"backup_required"`
	Warnings          []string      `json:"warnings,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Empty reports whether the plan has nothing to execute.
func (p Plan) Empty() bool {
	return len(p.Migrations) == 0
}

// IDs returns the migration ids in execution order.
func (p Plan) IDs() []string {
	ids := make([]string, len(p.Migrations))
	for i, m := range p.Migrations {
		ids[i] = m.ID
	}
	return ids
}

// LockRecord is a time-bounded lease on an operation.
type LockRecord struct {
	// ID is the lease token. Only the holder knows it.
	ID string `json:"id"`

	// Operation is the guarded operation. At most one unexpired record exists per operation.
	Operation string `json:"operation"`

	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	AcquiredBy string    `json:"acquired_by"`
}

// Expired reports whether the lease is no longer valid at now.
func (l LockRecord) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LedgerEntry is the persisted execution record of a migration.
type LedgerEntry struct {
	ID             string        `json:"id"`
	Version        string        `json:"version"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Filename       string        `json:"filename"`
	Checksum       string        `json:"checksum"`
	Status         Status        `json:"status"`
	Direction      Direction     `json:"direction"`
	AppliedAt      time.Time     `json:"applied_at"`
	RolledBackAt   *time.Time    `json:"rolled_back_at,omitempty"`
	Duration       time.Duration `json:"duration"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	AppliedBy      string        `json:"applied_by"`
	RollbackReason string        `json:"rollback_reason,omitempty"`
	AffectedRows   int64         `json:"affected_rows"`
	Warnings       []string      `json:"warnings,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewLedgerEntry seeds a ledger entry from a migration definition.
func NewLedgerEntry(m Migration) LedgerEntry {
	return LedgerEntry{
		ID:          m.ID,
		Version:     m.Version,
		Name:        m.Name,
		Description: m.Description,
		Filename:    m.Filename,
		Checksum:    m.Checksum,
		Status:      StatusPending,
	}
}

// ValidationResult is the outcome of an integrity check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// Stats summarizes the ledger against the loaded migrations.
type Stats struct {
	Total              int           `json:"total"`
	Applied            int           `json:"applied"`
	Pending            int           `json:"pending"`
	Failed             int           `json:"failed"`
	RolledBack         int           `json:"rolled_back"`
	LastAppliedVersion string        `json:"last_applied_version,omitempty"`
	LastAppliedAt      time.Time     `json:"last_applied_at"`
	TotalDuration      time.Duration `json:"total_duration"`
	AverageDuration    time.Duration `json:"average_duration"`
}
