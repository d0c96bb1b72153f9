// Package config loads migrator settings from YAML and environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

// Config is the full set of recognized options.
type Config struct {
	// Driver is the database/sql driver name (postgres, pgx, mysql, sqlite, sqlite3).
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MigrationsDirectory string `yaml:"migrationsDirectory"`
	TableName           string `yaml:"tableName"`
	LockTableName       string `yaml:"lockTableName"`

	// Operation names the lease guarding runs against this target.
	Operation   string        `yaml:"operation"`
	LockTimeout time.Duration `yaml:"lockTimeout"`

	ValidateChecksums bool `yaml:"validateChecksums"`
	FailOnDrift       bool `yaml:"failOnDrift"`

	AutoBackup      bool   `yaml:"autoBackup"`
	BackupBlocking  bool   `yaml:"backupBlocking"`
	BackupDirectory string `yaml:"backupDirectory"`
	BackupBucket    string `yaml:"backupBucket"`
	BackupPrefix    string `yaml:"backupPrefix"`
	BackupRegion    string `yaml:"backupRegion"`

	DryRun bool `yaml:"dryRun"`

	// MaxRetries and RetryDelay are validated but not acted on.
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`

	Actor       string `yaml:"actor"`
	MetricsAddr string `yaml:"metricsAddr"`

	Redis RedisConfig `yaml:"redis"`
	Log   LogConfig   `yaml:"log"`
}

// RedisConfig enables the Redis lease store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig selects the logger preset.
type LogConfig struct {
	// Mode is "development" or "production".
	Mode string `yaml:"mode"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	tables := sqlstore.DefaultTableConfig()
	return Config{
		Driver:              "postgres",
		MigrationsDirectory: "migrations",
		TableName:           tables.LedgerTable,
		LockTableName:       tables.LocksTable,
		Operation:           "migrate",
		LockTimeout:         5 * time.Minute,
		ValidateChecksums:   true,
		BackupDirectory:     "backups",
		BackupPrefix:        "backup",
		MaxRetries:          0,
		RetryDelay:          5 * time.Second,
		Log:                 LogConfig{Mode: "development"},
	}
}

// Load reads path over Default and applies MIGRATOR_* environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MIGRATOR_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MIGRATOR_DRIVER":         &c.Driver,
		"MIGRATOR_DSN":            &c.DSN,
		"MIGRATOR_DIR":            &c.MigrationsDirectory,
		"MIGRATOR_TABLE":          &c.TableName,
		"MIGRATOR_LOCK_TABLE":     &c.LockTableName,
		"MIGRATOR_OPERATION":      &c.Operation,
		"MIGRATOR_BACKUP_DIR":     &c.BackupDirectory,
		"MIGRATOR_BACKUP_BUCKET":  &c.BackupBucket,
		"MIGRATOR_BACKUP_PREFIX":  &c.BackupPrefix,
		"MIGRATOR_BACKUP_REGION":  &c.BackupRegion,
		"MIGRATOR_ACTOR":          &c.Actor,
		"MIGRATOR_METRICS_ADDR":   &c.MetricsAddr,
		"MIGRATOR_REDIS_ADDR":     &c.Redis.Addr,
		"MIGRATOR_REDIS_PASSWORD": &c.Redis.Password,
		"MIGRATOR_LOG_MODE":       &c.Log.Mode,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"MIGRATOR_VALIDATE_CHECKSUMS": &c.ValidateChecksums,
		"MIGRATOR_FAIL_ON_DRIFT":      &c.FailOnDrift,
		"MIGRATOR_AUTO_BACKUP":        &c.AutoBackup,
		"MIGRATOR_BACKUP_BLOCKING":    &c.BackupBlocking,
		"MIGRATOR_DRY_RUN":            &c.DryRun,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}

	durations := map[string]*time.Duration{
		"MIGRATOR_LOCK_TIMEOUT": &c.LockTimeout,
		"MIGRATOR_RETRY_DELAY":  &c.RetryDelay,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"MIGRATOR_MAX_RETRIES": &c.MaxRetries,
		"MIGRATOR_REDIS_DB":    &c.Redis.DB,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Dialect returns the SQL dialect of Driver.
func (c Config) Dialect() (sqlstore.Dialect, error) {
	return sqlstore.DialectForDriver(c.Driver)
}

// Tables returns the bookkeeping table names.
func (c Config) Tables() sqlstore.TableConfig {
	return sqlstore.TableConfig{LedgerTable: c.TableName, LocksTable: c.LockTableName}
}

// Validate rejects unsafe table names and out-of-range values.
func (c Config) Validate() error {
	if _, err := c.Dialect(); err != nil {
		return err
	}
	if c.MigrationsDirectory == "" {
		return fmt.Errorf("migrationsDirectory cannot be empty")
	}
	if err := sqlstore.ValidateIdentifier(c.TableName, "tableName"); err != nil {
		return err
	}
	if err := sqlstore.ValidateIdentifier(c.LockTableName, "lockTableName"); err != nil {
		return err
	}
	if c.TableName == c.LockTableName {
		return fmt.Errorf("tableName and lockTableName must differ")
	}
	if c.Operation == "" {
		return fmt.Errorf("operation cannot be empty")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lockTimeout must be positive (got: %s)", c.LockTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries cannot be negative (got: %d)", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retryDelay cannot be negative (got: %s)", c.RetryDelay)
	}
	if c.AutoBackup && c.BackupDirectory == "" {
		return fmt.Errorf("backupDirectory is required when autoBackup is enabled")
	}
	if c.BackupBucket != "" && !c.AutoBackup {
		return fmt.Errorf("backupBucket requires autoBackup")
	}
	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("unknown log mode %q", c.Log.Mode)
	}
	return nil
}
