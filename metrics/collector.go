package metrics

import (
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// Collector wraps metrics and provides helper methods with a pre-filled target label.
type Collector struct {
	target string
}

// NewCollector creates a new Collector for the given target store.
func NewCollector(target string) *Collector {
	return &Collector{target: target}
}

// ObserveStep records one executed step.
func (c *Collector) ObserveStep(result migrator.MigrationResult) {
	direction := string(result.Direction)
	status := "success"
	if !result.Success {
		status = "failure"
	}
	StepsTotal.WithLabelValues(c.target, direction, status).Inc()
	StepDuration.WithLabelValues(c.target, direction).Observe(result.Duration.Seconds())
	if result.AffectedRows > 0 {
		AffectedRowsTotal.WithLabelValues(c.target).Add(float64(result.AffectedRows))
	}
	if result.Success {
		LastAppliedTimestamp.WithLabelValues(c.target).Set(float64(result.AppliedAt.Add(result.Duration).Unix()))
	}
}

// ObservePlanRun records a finished plan execution. outcome is "success", "failure" or "dry_run".
func (c *Collector) ObservePlanRun(direction migrator.Direction, outcome string, d time.Duration) {
	PlanRunsTotal.WithLabelValues(c.target, string(direction), outcome).Inc()
	PlanDuration.WithLabelValues(c.target, string(direction)).Observe(d.Seconds())
}

// IncLockContention increments the lock contention counter.
func (c *Collector) IncLockContention() {
	LockContentionTotal.WithLabelValues(c.target).Inc()
}

// IncLeaseLost increments the lease lost counter.
func (c *Collector) IncLeaseLost() {
	LeaseLostTotal.WithLabelValues(c.target).Inc()
}

// ObserveBackup records a backup attempt.
func (c *Collector) ObserveBackup(err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	BackupsTotal.WithLabelValues(c.target, outcome).Inc()
	BackupDuration.WithLabelValues(c.target).Observe(d.Seconds())
}

// SetPending sets the pending migrations gauge.
func (c *Collector) SetPending(count int) {
	PendingMigrations.WithLabelValues(c.target).Set(float64(count))
}

// SetDriftIssues sets the drift issues gauge.
func (c *Collector) SetDriftIssues(count int) {
	DriftIssues.WithLabelValues(c.target).Set(float64(count))
}
