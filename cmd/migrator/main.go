// Command migrator plans, applies and rolls back schema migrations.
//
// Usage:
//
//	migrator [flags] <status|pending|plan|up|down|validate|history|stats>
//
// Examples:
//
//	migrator -driver postgres -dsn "$DATABASE_URL" -dir migrations up
//	migrator -config migrator.yaml plan -direction down -target 003
//	migrator -config migrator.yaml -dry-run up
//
// Exit codes: 0 on success, 1 on any fatal error, 2 when another process holds
// the migration lock, 3 when drift is detected and failOnDrift is set.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
