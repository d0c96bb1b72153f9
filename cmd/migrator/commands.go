package main

import (
	"context"
	"fmt"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/config"
	"github.com/getpup/pupsourcing-migrator/integrity"
)

func dispatch(ctx context.Context, m rootpkg.Migrator, command string, f cliFlags, cfg config.Config, out *printer) error {
	switch command {
	case "status":
		return status(ctx, m, out)
	case "pending":
		pending, err := m.GetPendingMigrations(ctx)
		if err != nil {
			return err
		}
		return out.migrations(pending)
	case "plan":
		direction, err := rootpkg.ParseDirection(f.direction)
		if err != nil {
			return err
		}
		plan, err := m.CreateMigrationPlan(ctx, f.target, direction)
		if err != nil {
			return err
		}
		return out.plan(plan)
	case "up":
		return execute(ctx, m, rootpkg.DirectionUp, f.target, f, cfg, out)
	case "down":
		if f.target == "" {
			return fmt.Errorf("down requires -target (use -target 0 to roll back everything)")
		}
		return execute(ctx, m, rootpkg.DirectionDown, f.target, f, cfg, out)
	case "validate":
		result, err := m.ValidateMigrations(ctx)
		if err != nil {
			return err
		}
		if err := out.validation(result); err != nil {
			return err
		}
		if cfg.FailOnDrift {
			return integrity.Err(result)
		}
		return nil
	case "history":
		history, err := m.GetMigrationHistory(ctx)
		if err != nil {
			return err
		}
		return out.history(history)
	case "stats":
		stats, err := m.GetMigrationStats(ctx)
		if err != nil {
			return err
		}
		return out.stats(stats)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func status(ctx context.Context, m rootpkg.Migrator, out *printer) error {
	stats, err := m.GetMigrationStats(ctx)
	if err != nil {
		return err
	}
	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return err
	}
	return out.status(stats, pending)
}

// execute plans and runs one direction. Results are printed even when a step failed.
func execute(ctx context.Context, m rootpkg.Migrator, direction rootpkg.Direction, target string, f cliFlags, cfg config.Config, out *printer) error {
	plan, err := m.CreateMigrationPlan(ctx, target, direction)
	if err != nil {
		return err
	}
	if plan.Empty() {
		return out.message(fmt.Sprintf("Nothing to %s", verb(direction)))
	}

	results, execErr := m.ExecutePlan(ctx, plan, rootpkg.ExecuteOptions{
		DryRun: cfg.DryRun,
		Force:  f.force,
		Actor:  cfg.Actor,
	})
	if err := out.results(plan, results); err != nil {
		return err
	}
	return execErr
}

func verb(direction rootpkg.Direction) string {
	if direction == rootpkg.DirectionDown {
		return "roll back"
	}
	return "apply"
}
