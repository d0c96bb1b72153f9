package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/backup"
	"github.com/getpup/pupsourcing-migrator/config"
	"github.com/getpup/pupsourcing-migrator/engine"
	"github.com/getpup/pupsourcing-migrator/logging"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/pkg/migrator"
	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

const (
	exitOK         = 0
	exitError      = 1
	exitContention = 2
	exitDrift      = 3
)

type cliFlags struct {
	configPath  string
	driver      string
	dsn         string
	dir         string
	target      string
	direction   string
	actor       string
	metricsAddr string
	force       bool
	dryRun      bool
	jsonOut     bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, string, error) {
	var f cliFlags
	fs := flag.NewFlagSet("migrator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.driver, "driver", "", "Database driver: postgres, pgx, mysql, sqlite, sqlite3")
	fs.StringVar(&f.dsn, "dsn", "", "Database connection string")
	fs.StringVar(&f.dir, "dir", "", "Migrations directory")
	fs.StringVar(&f.target, "target", "", "Target version (down: versions above it are rolled back, 0 rolls back everything)")
	fs.StringVar(&f.direction, "direction", "up", "Plan direction for the plan command: up or down")
	fs.StringVar(&f.actor, "actor", "", "Name recorded as applied_by")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	fs.BoolVar(&f.force, "force", false, "Keep executing after a failed step")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Preview without touching the database")
	fs.BoolVar(&f.jsonOut, "json", false, "Print results as JSON")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: migrator [flags] <status|pending|plan|up|down|validate|history|stats>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return f, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return f, "", fmt.Errorf("expected exactly one command")
	}
	return f, fs.Arg(0), nil
}

// resolveConfig layers flags over the file and environment.
func resolveConfig(f cliFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.driver != "" {
		cfg.Driver = f.driver
	}
	if f.dsn != "" {
		cfg.DSN = f.dsn
	}
	if f.dir != "" {
		cfg.MigrationsDirectory = f.dir
	}
	if f.actor != "" {
		cfg.Actor = f.actor
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	if f.dryRun {
		cfg.DryRun = true
	}
	if cfg.Actor == "" {
		cfg.Actor = "migrator-cli"
	}
	if cfg.DSN == "" {
		return cfg, fmt.Errorf("dsn is required: use -dsn, the config file or MIGRATOR_DSN")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, command, err := parseFlags(args, stderr)
	if err != nil {
		return exitError
	}

	cfg, err := resolveConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return exitError
	}

	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to create logger: %v\n", err)
		return exitError
	}
	defer logger.Sync()

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return exitError
	}
	defer db.Close()

	m, cleanup, err := build(ctx, cfg, db, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer cleanup()

	out := newPrinter(stdout, f.jsonOut)
	err = dispatch(ctx, m, command, f, cfg, out)
	return exitCode(err, cfg, stderr)
}

// build wires the engine from configuration.
func build(ctx context.Context, cfg config.Config, db *sql.DB, logger *logging.Logger) (*engine.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, cleanup, err
	}
	if err := migrator.Bootstrap(ctx, db, dialect, cfg.Tables()); err != nil {
		return nil, cleanup, err
	}

	opts, err := migrator.FromConfig(cfg)
	if err != nil {
		return nil, cleanup, err
	}
	opts = append(opts, migrator.WithDatabase(db), migrator.WithLogger(logger))

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, migrator.WithRedisLocks(client, ""))
	}

	if cfg.AutoBackup {
		coordinator, err := newBackup(ctx, cfg, dialect, db, logger)
		if err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, migrator.WithBackup(coordinator))
	}

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr)
		if err := server.Start(); err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	m, err := migrator.New(opts...)
	if err != nil {
		return nil, cleanup, err
	}
	return m, cleanup, nil
}

func newBackup(ctx context.Context, cfg config.Config, dialect sqlstore.Dialect, db *sql.DB, logger *logging.Logger) (*backup.Coordinator, error) {
	var dumper backup.Dumper
	switch dialect {
	case sqlstore.Postgres:
		dumper = backup.PostgresDumper{DSN: cfg.DSN}
	case sqlstore.MySQL:
		dumper = backup.MySQLDumper{DSN: cfg.DSN}
	default:
		dumper = backup.SQLiteDumper{DB: db}
	}

	bcfg := backup.Config{
		Directory: cfg.BackupDirectory,
		Prefix:    cfg.BackupPrefix,
		Dumper:    dumper,
		Logger:    logger,
	}
	if cfg.BackupBucket != "" {
		uploader, err := backup.NewS3Uploader(ctx, cfg.BackupBucket, "", cfg.BackupRegion)
		if err != nil {
			return nil, err
		}
		bcfg.Uploader = uploader
	}
	return backup.New(bcfg), nil
}

func exitCode(err error, cfg config.Config, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, rootpkg.ErrLockContention):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitContention
	case errors.Is(err, rootpkg.ErrIntegrity) && cfg.FailOnDrift:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDrift
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}
