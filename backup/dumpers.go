package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// CommandRunner runs an external program with extra environment variables.
type CommandRunner func(ctx context.Context, name string, args, env []string) error

// ExecRunner runs commands with os/exec and reports stderr on failure.
func ExecRunner(ctx context.Context, name string, args, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// SQLiteDumper copies a SQLite database with VACUUM INTO.
type SQLiteDumper struct {
	DB *sql.DB
}

// Extension returns the file suffix for SQLite copies.
func (d SQLiteDumper) Extension() string { return ".sqlite" }

// Dump writes a consistent copy of the database to path.
// path must not exist yet.
func (d SQLiteDumper) Dump(ctx context.Context, path string) error {
	query := "VACUUM INTO '" + strings.ReplaceAll(path, "'", "''") + "'"
	if _, err := d.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

// PostgresDumper runs pg_dump in custom format.
type PostgresDumper struct {
	// DSN is a libpq connection string or URL.
	DSN string

	// Binary is the pg_dump executable (default: "pg_dump").
	Binary string

	// Run executes the command (default: ExecRunner).
	Run CommandRunner
}

// Extension returns the file suffix for pg_dump custom-format archives.
func (d PostgresDumper) Extension() string { return ".dump" }

// Dump runs pg_dump against DSN and writes the archive to path.
func (d PostgresDumper) Dump(ctx context.Context, path string) error {
	bin, run := d.Binary, d.Run
	if bin == "" {
		bin = "pg_dump"
	}
	if run == nil {
		run = ExecRunner
	}
	return run(ctx, bin, []string{"--format=custom", "--no-owner", "--file=" + path, "--dbname=" + d.DSN}, nil)
}

// MySQLDumper runs mysqldump for the database named in a go-sql-driver DSN.
type MySQLDumper struct {
	// DSN uses the go-sql-driver/mysql format, e.g. "user:pass@tcp(host:3306)/db".
	DSN string

	// Binary is the mysqldump executable (default: "mysqldump").
	Binary string

	// Run executes the command (default: ExecRunner).
	Run CommandRunner
}

// Extension returns the file suffix for mysqldump output.
func (d MySQLDumper) Extension() string { return ".sql" }

// Dump runs mysqldump with credentials taken from DSN and writes the
// SQL script to path.
func (d MySQLDumper) Dump(ctx context.Context, path string) error {
	cfg, err := mysql.ParseDSN(d.DSN)
	if err != nil {
		return fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return fmt.Errorf("mysql dsn has no database name")
	}

	bin, run := d.Binary, d.Run
	if bin == "" {
		bin = "mysqldump"
	}
	if run == nil {
		run = ExecRunner
	}

	args := []string{"--single-transaction", "--routines", "--triggers", "--result-file=" + path}
	if cfg.User != "" {
		args = append(args, "--user="+cfg.User)
	}
	switch cfg.Net {
	case "unix":
		args = append(args, "--socket="+cfg.Addr)
	default:
		host, port, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		args = append(args, "--host="+host)
		if port != "" {
			args = append(args, "--port="+port)
		}
	}
	args = append(args, cfg.DBName)

	var env []string
	if cfg.Passwd != "" {
		env = append(env, "MYSQL_PWD="+cfg.Passwd)
	}
	return run(ctx, bin, args, env)
}
