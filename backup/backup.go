// Package backup takes a store-level backup before risky migration plans.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// Dumper writes a full backup of the target store to a local file.
type Dumper interface {
	// Dump writes the backup to path. The file must not exist yet.
	Dump(ctx context.Context, path string) error

	// Extension is the file suffix of the produced backup, including the dot.
	Extension() string
}

// Uploader ships a local backup file off-host and returns its location.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Config holds configuration for the backup Coordinator.
type Config struct {
	// Directory receives backup files (default: "backups").
	Directory string

	// Prefix starts every backup file name (default: "backup").
	Prefix string

	// Dumper produces the backup (required).
	Dumper Dumper

	// Uploader optionally copies the backup elsewhere.
	Uploader Uploader

	// KeepLocal keeps the local file after a successful upload.
	KeepLocal bool

	// Logger is for observability (optional).
	Logger migrator.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Coordinator creates backups.
type Coordinator struct {
	config Config
}

// New creates a new backup Coordinator with the given configuration.
func New(cfg Config) *Coordinator {
	if cfg.Directory == "" {
		cfg.Directory = "backups"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "backup"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{config: cfg}
}

// CreateBackup dumps the store and returns the backup location:
// the local file path, or the uploaded location when an Uploader is set.
func (c *Coordinator) CreateBackup(ctx context.Context) (string, error) {
	if c.config.Dumper == nil {
		return "", fmt.Errorf("no backup dumper configured")
	}

	if err := os.MkdirAll(c.config.Directory, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s%s", c.config.Prefix, c.config.Now().UTC().Format("20060102T150405.000Z"), c.config.Dumper.Extension())
	path := filepath.Join(c.config.Directory, name)

	start := time.Now()
	if err := c.config.Dumper.Dump(ctx, path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to dump store: %w", err)
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "Backup created", "path", path, "duration", time.Since(start))
	}

	if c.config.Uploader == nil {
		return path, nil
	}

	location, err := c.config.Uploader.Upload(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to upload backup %s: %w", path, err)
	}
	if !c.config.KeepLocal {
		if err := os.Remove(path); err != nil && c.config.Logger != nil {
			c.config.Logger.Warn(ctx, "Failed to remove local backup", "path", path, "error", err)
		}
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "Backup uploaded", "location", location)
	}
	return location, nil
}
