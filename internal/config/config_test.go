/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/data/cron-observer.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.OpTimeout)
	assert.Equal(t, 1*time.Minute, cfg.Scheduler.StateRefreshInterval)
	assert.Equal(t, 1*time.Minute, cfg.Scheduler.WatchdogInterval)
	assert.Equal(t, 30*time.Second, cfg.DeleteQueue.VisibilityTimeout)
	assert.Equal(t, 5, cfg.DeleteQueue.MaxAttempts)
	assert.Equal(t, 1, cfg.DeleteQueue.Workers)
	assert.Equal(t, float64(50), cfg.Limits.SDKRatePerSecond)
	assert.Equal(t, 100, cfg.Limits.SDKBurst)
	assert.Empty(t, cfg.ConfigFileUsed())
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t,
		"--log-level=debug",
		"--server.port=9090",
		"--storage.type=postgres",
		"--storage.postgres.host=db.internal",
		"--storage.postgres.database=cron",
		"--delete-queue.workers=3",
	))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "db.internal", cfg.Storage.PostgreSQL.Host)
	assert.Equal(t, 3, cfg.DeleteQueue.Workers)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log-level: warn
server:
  port: 7070
storage:
  type: mysql
  mysql:
    host: mysql.internal
    database: observer
delete-queue:
  max-attempts: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(newFlags(t, "--config="+path))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Storage.Type)
	assert.Equal(t, "mysql.internal", cfg.Storage.MySQL.Host)
	assert.Equal(t, 7, cfg.DeleteQueue.MaxAttempts)
	assert.Equal(t, path, cfg.ConfigFileUsed())
}

func TestLoad_MissingConfigFileErrors(t *testing.T) {
	_, err := Load(newFlags(t, "--config=/nonexistent/config.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CRON_OBSERVER_LOG_LEVEL", "error")
	t.Setenv("CRON_OBSERVER_SERVER_PORT", "6060")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 6060, cfg.Server.Port)
}

func TestStorageDSN(t *testing.T) {
	sqlite := StorageConfig{Type: "sqlite", SQLite: SQLiteConfig{Path: "/tmp/db.sqlite"}}
	dsn, err := sqlite.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "/tmp/db.sqlite")
	assert.Contains(t, dsn, "_journal_mode=WAL")

	postgres := StorageConfig{Type: "postgres", PostgreSQL: PostgreSQLConfig{
		Host: "h", Port: 5432, Database: "d", Username: "u", Password: "pw", SSLMode: "require",
	}}
	dsn, err = postgres.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "host=h")
	assert.Contains(t, dsn, "dbname=d")

	mysql := StorageConfig{Type: "mysql", MySQL: MySQLConfig{
		Host: "h", Port: 3306, Database: "d", Username: "u", Password: "pw",
	}}
	dsn, err = mysql.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tcp(h:3306)")
	assert.Contains(t, dsn, "parseTime=true")

	bad := StorageConfig{Type: "oracle"}
	_, err = bad.DSN()
	assert.Error(t, err)
}
