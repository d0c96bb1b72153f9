// Package loader reads migration definitions from a directory or an fs.FS.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/getpup/pupsourcing-migrator"
)

// Config holds configuration for the Loader.
type Config struct {
	// Dir is the migrations directory. Ignored when FS is set.
	Dir string

	// FS is an optional source, e.g. an embed.FS. Files are read from its root.
	FS fs.FS

	// Concurrency bounds concurrent file reads (default: 8).
	Concurrency int

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Loader loads migration definitions.
type Loader struct {
	config Config

	mu      sync.Mutex
	skipped []*migrator.LoadError
}

// New creates a new Loader with the given configuration.
func New(cfg Config) *Loader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Loader{config: cfg}
}

type parsed struct {
	migration migrator.Migration
	meta      Metadata
	err       *migrator.LoadError
}

// Load returns every well-formed migration ordered by version ascending.
// Malformed files are skipped and reported through Skipped. Load only fails
// when the source cannot be listed or read.
func (l *Loader) Load(ctx context.Context) ([]migrator.Migration, error) {
	fsys := l.config.FS
	if fsys == nil {
		if l.config.Dir == "" {
			return nil, fmt.Errorf("migrations directory is not configured")
		}
		fsys = os.DirFS(l.config.Dir)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(path.Ext(entry.Name()), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	results := make([]parsed, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}
			m, md, err := Parse(name, content)
			if err != nil {
				results[i] = parsed{err: &migrator.LoadError{Path: name, Reason: "malformed migration", Err: err}}
				return nil
			}
			results[i] = parsed{migration: m, meta: md}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		migrations []migrator.Migration
		skipped    []*migrator.LoadError
		byID       = make(map[string]string)
		byVersion  = make(map[string]string)
	)

	for _, r := range results {
		if r.err != nil {
			skipped = append(skipped, r.err)
			continue
		}
		m := r.migration
		if prev, ok := byID[m.ID]; ok {
			skipped = append(skipped, &migrator.LoadError{
				Path:   m.Filename,
				Reason: fmt.Sprintf("duplicate migration id %s (already loaded from %s)", m.ID, prev),
			})
			continue
		}
		if prev, ok := byVersion[normalizeVersion(m.Version)]; ok {
			skipped = append(skipped, &migrator.LoadError{
				Path:   m.Filename,
				Reason: fmt.Sprintf("duplicate version %s (already loaded from %s)", m.Version, prev),
			})
			continue
		}
		byID[m.ID] = m.Filename
		byVersion[normalizeVersion(m.Version)] = m.Filename

		for _, key := range r.meta.Unknown {
			l.warn(ctx, "Unknown migration annotation", "file", m.Filename, "annotation", key)
		}
		migrations = append(migrations, m)
	}

	for _, s := range skipped {
		l.warn(ctx, "Skipping migration file", "file", s.Path, "reason", s.Error())
	}

	sort.SliceStable(migrations, func(i, j int) bool {
		return migrator.CompareVersions(migrations[i].Version, migrations[j].Version) < 0
	})

	l.mu.Lock()
	l.skipped = skipped
	l.mu.Unlock()

	if l.config.Logger != nil {
		l.config.Logger.Debug(ctx, "Loaded migrations", "count", len(migrations), "skipped", len(skipped))
	}

	return migrations, nil
}

// Skipped returns the files skipped by the most recent Load.
func (l *Loader) Skipped() []*migrator.LoadError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*migrator.LoadError, len(l.skipped))
	copy(out, l.skipped)
	return out
}

func (l *Loader) warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if l.config.Logger != nil {
		l.config.Logger.Warn(ctx, msg, keysAndValues...)
	}
}

// normalizeVersion makes "001" and "1" collide.
func normalizeVersion(v string) string {
	t := strings.TrimLeft(v, "0")
	if t == "" {
		return "0"
	}
	return t
}
