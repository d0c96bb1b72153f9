package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupsourcing-migrator/store/sqlstore"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "schema_migrations", cfg.TableName)
	assert.Equal(t, "schema_migration_locks", cfg.LockTableName)
	assert.Equal(t, 5*time.Minute, cfg.LockTimeout)
	assert.True(t, cfg.ValidateChecksums)
	assert.False(t, cfg.AutoBackup)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
driver: sqlite
dsn: file:app.db
migrationsDirectory: db/migrations
tableName: ops.ledger
lockTableName: ops.leases
lockTimeout: 90s
autoBackup: true
backupBucket: my-backups
retryDelay: 2s
maxRetries: 3
redis:
  addr: localhost:6379
  db: 2
log:
  mode: production
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "db/migrations", cfg.MigrationsDirectory)
	assert.Equal(t, "ops.ledger", cfg.TableName)
	assert.Equal(t, 90*time.Second, cfg.LockTimeout)
	assert.True(t, cfg.AutoBackup)
	assert.Equal(t, "backups", cfg.BackupDirectory)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "production", cfg.Log.Mode)
	assert.True(t, cfg.ValidateChecksums, "unset keys keep their defaults")
	require.NoError(t, cfg.Validate())

	dialect, err := cfg.Dialect()
	require.NoError(t, err)
	assert.Equal(t, sqlstore.SQLite, dialect)
	assert.Equal(t, sqlstore.TableConfig{LedgerTable: "ops.ledger", LocksTable: "ops.leases"}, cfg.Tables())
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("tablename: x\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"MIGRATOR_DSN":                "postgres://localhost/app",
		"MIGRATOR_TABLE":              "ledger",
		"MIGRATOR_VALIDATE_CHECKSUMS": "false",
		"MIGRATOR_DRY_RUN":            "1",
		"MIGRATOR_LOCK_TIMEOUT":       "30s",
		"MIGRATOR_REDIS_DB":           "4",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/app", cfg.DSN)
	assert.Equal(t, "ledger", cfg.TableName)
	assert.False(t, cfg.ValidateChecksums)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout)
	assert.Equal(t, 4, cfg.Redis.DB)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"MIGRATOR_AUTO_BACKUP":  "sometimes",
		"MIGRATOR_RETRY_DELAY":  "soon",
		"MIGRATOR_MAX_RETRIES":  "many",
		"MIGRATOR_LOCK_TIMEOUT": "5",
	} {
		t.Run(key, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(env(map[string]string{key: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: mysql\nactor: file\n"), 0o600))
	t.Setenv("MIGRATOR_ACTOR", "env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Driver)
	assert.Equal(t, "env", cfg.Actor)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }},
		{"unsafe table", func(c *Config) { c.TableName = "ledger; DROP TABLE users" }},
		{"same tables", func(c *Config) { c.LockTableName = c.TableName }},
		{"empty dir", func(c *Config) { c.MigrationsDirectory = "" }},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"bucket without backups", func(c *Config) { c.BackupBucket = "b" }},
		{"backup without directory", func(c *Config) { c.AutoBackup = true; c.BackupDirectory = "" }},
		{"bad log mode", func(c *Config) { c.Log.Mode = "loud" }},
		{"empty operation", func(c *Config) { c.Operation = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
