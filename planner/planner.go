// Package planner computes ordered, validated migration plans.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// Options select the plan to build.
type Options struct {
	Direction migrator.Direction

	// TargetVersion bounds the plan. For up plans, versions at or below the
	// target are applied. For down plans, versions above it are rolled back.
	// Empty means no bound.
	TargetVersion string

	// Now stamps Plan.CreatedAt (default: time.Now).
	Now func() time.Time
}

// Build computes the plan for the loaded migrations against the ledger.
// It never returns a partially valid plan: any inconsistency is an error.
func Build(migrations []migrator.Migration, entries []migrator.LedgerEntry, opts Options) (migrator.Plan, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	idx := newIndex(migrations, entries)

	var (
		plan migrator.Plan
		err  error
	)
	switch opts.Direction {
	case migrator.DirectionUp:
		plan, err = buildApply(idx, opts)
	case migrator.DirectionDown:
		plan, err = buildRollback(idx, opts)
	default:
		return migrator.Plan{}, &migrator.PlanError{
			Direction:     opts.Direction,
			TargetVersion: opts.TargetVersion,
			Reason:        fmt.Sprintf("unknown direction %q", opts.Direction),
		}
	}
	if err != nil {
		return migrator.Plan{}, err
	}

	plan.Direction = opts.Direction
	plan.TargetVersion = opts.TargetVersion
	plan.CreatedAt = opts.Now().UTC()
	aggregate(&plan)
	return plan, nil
}

type index struct {
	migrations []migrator.Migration
	byID       map[string]migrator.Migration
	byVersion  map[string]migrator.Migration
	entries    map[string]migrator.LedgerEntry
	completed  map[string]bool
}

func newIndex(migrations []migrator.Migration, entries []migrator.LedgerEntry) *index {
	sorted := make([]migrator.Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return migrator.CompareVersions(sorted[i].Version, sorted[j].Version) < 0
	})

	idx := &index{
		migrations: sorted,
		byID:       make(map[string]migrator.Migration, len(sorted)),
		byVersion:  make(map[string]migrator.Migration, len(sorted)),
		entries:    make(map[string]migrator.LedgerEntry, len(entries)),
		completed:  make(map[string]bool),
	}
	for _, m := range sorted {
		idx.byID[m.ID] = m
		if _, ok := idx.byVersion[versionKey(m.Version)]; !ok {
			idx.byVersion[versionKey(m.Version)] = m
		}
	}
	for _, e := range entries {
		idx.entries[e.ID] = e
		if e.Status == migrator.StatusCompleted {
			idx.completed[e.ID] = true
		}
	}
	return idx
}

// resolve maps a dependency reference to a migration id.
// References match an id first, then a version.
func (idx *index) resolve(ref string) (string, bool) {
	if m, ok := idx.byID[ref]; ok {
		return m.ID, true
	}
	if m, ok := idx.byVersion[versionKey(ref)]; ok {
		return m.ID, true
	}
	if _, ok := idx.entries[ref]; ok {
		return ref, true
	}
	for id, e := range idx.entries {
		if versionKey(e.Version) == versionKey(ref) {
			return id, true
		}
	}
	return "", false
}

func buildApply(idx *index, opts Options) (migrator.Plan, error) {
	var plan migrator.Plan

	scheduled := make(map[string]bool)
	for _, m := range idx.migrations {
		if idx.completed[m.ID] || !migrator.VersionAtOrBelow(m.Version, opts.TargetVersion) {
			continue
		}

		for _, ref := range m.Dependencies {
			depID, ok := idx.resolve(ref)
			switch {
			case !ok:
				return migrator.Plan{}, unsatisfied(opts, m, ref, "dependency is not a known migration")
			case depID == m.ID:
				return migrator.Plan{}, unsatisfied(opts, m, ref, "migration depends on itself")
			case idx.completed[depID], scheduled[depID]:
				continue
			}

			dep, loaded := idx.byID[depID]
			switch {
			case !loaded:
				return migrator.Plan{}, unsatisfied(opts, m, ref, "dependency is not applied and its definition is not loaded")
			case !migrator.VersionAtOrBelow(dep.Version, opts.TargetVersion):
				return migrator.Plan{}, unsatisfied(opts, m, ref, fmt.Sprintf("dependency is beyond target version %s", opts.TargetVersion))
			default:
				return migrator.Plan{}, unsatisfied(opts, m, ref, "dependency is ordered after the migration that needs it")
			}
		}

		if e, ok := idx.entries[m.ID]; ok {
			switch e.Status {
			case migrator.StatusFailed:
				if e.Direction == migrator.DirectionDown {
					plan.Warnings = append(plan.Warnings, fmt.Sprintf("rollback of %s failed; its up body is likely still applied", m.ID))
					break
				}
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("migration %s previously failed and will be retried", m.ID))
			case migrator.StatusRunning:
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("migration %s was left running by an interrupted run", m.ID))
			}
		}

		scheduled[m.ID] = true
		plan.Migrations = append(plan.Migrations, m)
	}

	return plan, nil
}

func buildRollback(idx *index, opts Options) (migrator.Plan, error) {
	var candidates []migrator.LedgerEntry
	for id := range idx.completed {
		e := idx.entries[id]
		if opts.TargetVersion != "" && migrator.VersionAtOrBelow(e.Version, opts.TargetVersion) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if c := migrator.CompareVersions(candidates[i].Version, candidates[j].Version); c != 0 {
			return c > 0
		}
		return candidates[i].ID > candidates[j].ID
	})

	var plan migrator.Plan
	for _, e := range candidates {
		m, ok := idx.byID[e.ID]
		if !ok {
			return migrator.Plan{}, &migrator.PlanError{
				Direction:     migrator.DirectionDown,
				TargetVersion: opts.TargetVersion,
				MigrationID:   e.ID,
				Reason:        fmt.Sprintf("version %s is applied but its definition is not loaded", e.Version),
			}
		}
		if !m.Reversible() {
			return migrator.Plan{}, &migrator.PlanError{
				Direction:     migrator.DirectionDown,
				TargetVersion: opts.TargetVersion,
				MigrationID:   m.ID,
				Reason:        fmt.Sprintf("version %s has no down section", m.Version),
			}
		}
		plan.Migrations = append(plan.Migrations, m)
	}

	// A migration may only be rolled back once nothing still applied depends on it.
	remaining := make(map[string]bool, len(idx.completed))
	for id := range idx.completed {
		remaining[id] = true
	}
	for _, m := range plan.Migrations {
		delete(remaining, m.ID)
		if dependents := dependentsOf(idx, m.ID, remaining); len(dependents) > 0 {
			return migrator.Plan{}, planErr(opts, &migrator.UnsatisfiedDependencyError{
				MigrationID: dependents[0].ID,
				Version:     dependents[0].Version,
				Dependency:  m.ID,
				Reason:      "dependency would be rolled back while the migration stays applied",
			})
		}
	}

	if len(plan.Migrations) > 0 {
		plan.Warnings = append(plan.Warnings, "rollback may cause data loss")
	}
	return plan, nil
}

// dependentsOf returns the migrations in set that depend on id, ordered by id.
func dependentsOf(idx *index, id string, set map[string]bool) []migrator.Migration {
	var out []migrator.Migration
	for other := range set {
		m, ok := idx.byID[other]
		if !ok {
			continue
		}
		for _, ref := range m.Dependencies {
			if depID, ok := idx.resolve(ref); ok && depID == id {
				out = append(out, m)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func aggregate(plan *migrator.Plan) {
	var downtime, backup []string
	for _, m := range plan.Migrations {
		plan.EstimatedDuration += m.EstimatedDuration
		if m.RequiresDowntime {
			plan.RequiresDowntime = true
			downtime = append(downtime, m.ID)
		}
		if m.BackupRequired {
			plan.BackupRequired = true
			backup = append(backup, m.ID)
		}
	}
	if len(downtime) > 0 {
		plan.Warnings = append(plan.Warnings, "downtime required: "+strings.Join(downtime, ", "))
	}
	if len(backup) > 0 {
		plan.Warnings = append(plan.Warnings, "backup required: "+strings.Join(backup, ", "))
	}
}

func unsatisfied(opts Options, m migrator.Migration, dependency, reason string) error {
	return planErr(opts, &migrator.UnsatisfiedDependencyError{
		MigrationID: m.ID,
		Version:     m.Version,
		Dependency:  dependency,
		Reason:      reason,
	})
}

func planErr(opts Options, err error) error {
	return &migrator.PlanError{Direction: opts.Direction, TargetVersion: opts.TargetVersion, Err: err}
}

func versionKey(v string) string {
	t := strings.TrimLeft(v, "0")
	if t == "" {
		return "0"
	}
	return t
}

// UnmetDependencies returns the dependency references of m that are not
// completed according to entries. References resolve the same way Build
// resolves them.
func UnmetDependencies(m migrator.Migration, migrations []migrator.Migration, entries []migrator.LedgerEntry) []string {
	idx := newIndex(migrations, entries)

	var unmet []string
	for _, ref := range m.Dependencies {
		depID, ok := idx.resolve(ref)
		if !ok || !idx.completed[depID] {
			unmet = append(unmet, ref)
		}
	}
	return unmet
}
