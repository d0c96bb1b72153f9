// Package metrics exposes Prometheus metrics for migration runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StepsTotal counts executed migration steps by direction and outcome.
var StepsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_steps_total",
		Help: "Total migration steps executed",
	},
	[]string{"target", "direction", "status"},
)

// StepDuration tracks how long each migration step took.
var StepDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_step_duration_seconds",
		Help:    "Migration step duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
	},
	[]string{"target", "direction"},
)

// AffectedRowsTotal counts rows changed by migration bodies.
var AffectedRowsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_affected_rows_total",
		Help: "Total rows affected by migration bodies",
	},
	[]string{"target"},
)

// PlanRunsTotal counts plan executions by direction and outcome.
var PlanRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_plan_runs_total",
		Help: "Total plan executions",
	},
	[]string{"target", "direction", "outcome"},
)

// PlanDuration tracks end-to-end plan execution time.
var PlanDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_plan_duration_seconds",
		Help:    "Plan execution duration",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"target", "direction"},
)

// LockContentionTotal counts failed lease acquisitions.
var LockContentionTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_lock_contention_total",
		Help: "Total lock acquisitions rejected because another holder owns the lease",
	},
	[]string{"target"},
)

// LeaseLostTotal counts runs aborted because the lease expired or was taken over.
var LeaseLostTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_lease_lost_total",
		Help: "Total runs that lost their lease",
	},
	[]string{"target"},
)

// BackupsTotal counts backup attempts by outcome.
var BackupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_backups_total",
		Help: "Total backup attempts",
	},
	[]string{"target", "outcome"},
)

// BackupDuration tracks backup creation time.
var BackupDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_backup_duration_seconds",
		Help:    "Backup creation duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	},
	[]string{"target"},
)

// PendingMigrations reports the number of loaded migrations not yet applied.
var PendingMigrations = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_pending_migrations",
		Help: "Loaded migrations not yet applied",
	},
	[]string{"target"},
)

// DriftIssues reports the number of integrity issues found by the last validation.
var DriftIssues = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_drift_issues",
		Help: "Integrity issues found by the last validation",
	},
	[]string{"target"},
)

// LastAppliedTimestamp reports when the last migration step succeeded, as a unix timestamp.
var LastAppliedTimestamp = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_last_applied_timestamp_seconds",
		Help: "Unix time of the last successful migration step",
	},
	[]string{"target"},
)
