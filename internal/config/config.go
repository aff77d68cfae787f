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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	// configFileUsed is the path to the config file that was loaded (empty if none)
	configFileUsed string

	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `mapstructure:"log-level"`

	// Server configuration (REST + SDK API)
	Server ServerConfig `mapstructure:"server"`

	// Auth configuration
	Auth AuthConfig `mapstructure:"auth"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Scheduler configuration
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// DeleteQueue configuration
	DeleteQueue DeleteQueueConfig `mapstructure:"delete-queue"`

	// Limits for the SDK ingestion surface
	Limits LimitsConfig `mapstructure:"limits"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	// Port for the API server
	Port int `mapstructure:"port" json:"port"`

	// RequestTimeout bounds a single request
	RequestTimeout time.Duration `mapstructure:"request-timeout" json:"requestTimeout"`
}

// AuthConfig configures authentication
type AuthConfig struct {
	// Tokens are the accepted bearer tokens for UI routes. Session issuance
	// is external; the service only verifies.
	Tokens []string `mapstructure:"tokens" json:"-"`

	// SuperAdmins are emails that bypass project role checks
	SuperAdmins []string `mapstructure:"super-admins" json:"superAdmins"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	// Type is the storage backend type (sqlite, postgres, mysql)
	Type string `mapstructure:"type" json:"type"`

	// SQLite configuration
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite,omitempty"`

	// PostgreSQL configuration
	PostgreSQL PostgreSQLConfig `mapstructure:"postgres" json:"postgres,omitempty"`

	// MySQL configuration
	MySQL MySQLConfig `mapstructure:"mysql" json:"mysql,omitempty"`

	// OpTimeout bounds a single persistence operation
	OpTimeout time.Duration `mapstructure:"op-timeout" json:"opTimeout"`
}

// SQLiteConfig configures SQLite storage
type SQLiteConfig struct {
	// Path to database file
	Path string `mapstructure:"path" json:"path"`
}

// PostgreSQLConfig configures PostgreSQL storage
type PostgreSQLConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Database string `mapstructure:"database" json:"database,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`
	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`
	SSLMode  string `mapstructure:"ssl-mode" json:"sslMode,omitempty"`
}

// MySQLConfig configures MySQL/MariaDB storage
type MySQLConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Database string `mapstructure:"database" json:"database,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`
	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`
}

// SchedulerConfig configures the schedule engine and watchdog
type SchedulerConfig struct {
	// StateRefreshInterval is how often group window states are recomputed
	StateRefreshInterval time.Duration `mapstructure:"state-refresh-interval" json:"stateRefreshInterval"`

	// WatchdogInterval is how often the timeout watchdog scans RUNNING executions
	WatchdogInterval time.Duration `mapstructure:"watchdog-interval" json:"watchdogInterval"`
}

// DeleteQueueConfig configures the durable delete queue and its workers
type DeleteQueueConfig struct {
	// VisibilityTimeout hides a claimed message from other consumers
	VisibilityTimeout time.Duration `mapstructure:"visibility-timeout" json:"visibilityTimeout"`

	// MaxAttempts before a message is dead-lettered
	MaxAttempts int `mapstructure:"max-attempts" json:"maxAttempts"`

	// NackBackoff delays redelivery of a nacked message
	NackBackoff time.Duration `mapstructure:"nack-backoff" json:"nackBackoff"`

	// PollInterval is how often an idle worker checks the queue
	PollInterval time.Duration `mapstructure:"poll-interval" json:"pollInterval"`

	// Workers is the number of delete worker goroutines
	Workers int `mapstructure:"workers" json:"workers"`
}

// LimitsConfig configures SDK ingestion limits
type LimitsConfig struct {
	// SDKRatePerSecond is the per-API-key request rate
	SDKRatePerSecond float64 `mapstructure:"sdk-rate-per-second" json:"sdkRatePerSecond"`

	// SDKBurst is the per-API-key burst allowance
	SDKBurst int `mapstructure:"sdk-burst" json:"sdkBurst"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "/data/cron-observer.db",
			},
			PostgreSQL: PostgreSQLConfig{
				Port:    5432,
				SSLMode: "require",
			},
			MySQL: MySQLConfig{
				Port: 3306,
			},
			OpTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			StateRefreshInterval: 1 * time.Minute,
			WatchdogInterval:     1 * time.Minute,
		},
		DeleteQueue: DeleteQueueConfig{
			VisibilityTimeout: 30 * time.Second,
			MaxAttempts:       5,
			NackBackoff:       5 * time.Second,
			PollInterval:      1 * time.Second,
			Workers:           1,
		},
		Limits: LimitsConfig{
			SDKRatePerSecond: 50,
			SDKBurst:         100,
		},
	}
}

// BindFlags binds configuration flags to pflags
func BindFlags(flags *pflag.FlagSet) {
	// Top-level
	flags.String("config", "", "Path to config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	// Server
	flags.Int("server.port", 8080, "API server port")
	flags.Duration("server.request-timeout", 30*time.Second, "Per-request timeout")

	// Auth
	flags.StringSlice("auth.tokens", nil, "Accepted bearer tokens for UI routes")
	flags.StringSlice("auth.super-admins", nil, "Emails that bypass project role checks")

	// Storage
	flags.String("storage.type", "sqlite", "Storage backend type (sqlite, postgres, mysql)")
	flags.String("storage.sqlite.path", "/data/cron-observer.db", "Path to SQLite database file")
	flags.String("storage.postgres.host", "", "PostgreSQL host")
	flags.Int("storage.postgres.port", 5432, "PostgreSQL port")
	flags.String("storage.postgres.database", "", "PostgreSQL database name")
	flags.String("storage.postgres.username", "", "PostgreSQL username")
	flags.String("storage.postgres.password", "", "PostgreSQL password")
	flags.String("storage.postgres.ssl-mode", "require", "PostgreSQL SSL mode")
	flags.String("storage.mysql.host", "", "MySQL host")
	flags.Int("storage.mysql.port", 3306, "MySQL port")
	flags.String("storage.mysql.database", "", "MySQL database name")
	flags.String("storage.mysql.username", "", "MySQL username")
	flags.String("storage.mysql.password", "", "MySQL password")
	flags.Duration("storage.op-timeout", 10*time.Second, "Per-operation persistence timeout")

	// Scheduler
	flags.Duration("scheduler.state-refresh-interval", 1*time.Minute, "How often group window states are recomputed")
	flags.Duration("scheduler.watchdog-interval", 1*time.Minute, "How often the timeout watchdog scans running executions")

	// Delete queue
	flags.Duration("delete-queue.visibility-timeout", 30*time.Second, "Delete message visibility timeout")
	flags.Int("delete-queue.max-attempts", 5, "Delete attempts before dead-lettering")
	flags.Duration("delete-queue.nack-backoff", 5*time.Second, "Redelivery delay after a nack")
	flags.Duration("delete-queue.poll-interval", 1*time.Second, "Idle worker poll interval")
	flags.Int("delete-queue.workers", 1, "Number of delete worker goroutines")

	// Limits
	flags.Float64("limits.sdk-rate-per-second", 50, "Per-API-key SDK request rate")
	flags.Int("limits.sdk-burst", 100, "Per-API-key SDK burst allowance")
}

// Load loads configuration from flags, environment, and config file
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults from DefaultConfig
	defaults := DefaultConfig()
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.request-timeout", defaults.Server.RequestTimeout)
	v.SetDefault("storage.type", defaults.Storage.Type)
	v.SetDefault("storage.sqlite.path", defaults.Storage.SQLite.Path)
	v.SetDefault("storage.postgres.port", defaults.Storage.PostgreSQL.Port)
	v.SetDefault("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode)
	v.SetDefault("storage.mysql.port", defaults.Storage.MySQL.Port)
	v.SetDefault("storage.op-timeout", defaults.Storage.OpTimeout)
	v.SetDefault("scheduler.state-refresh-interval", defaults.Scheduler.StateRefreshInterval)
	v.SetDefault("scheduler.watchdog-interval", defaults.Scheduler.WatchdogInterval)
	v.SetDefault("delete-queue.visibility-timeout", defaults.DeleteQueue.VisibilityTimeout)
	v.SetDefault("delete-queue.max-attempts", defaults.DeleteQueue.MaxAttempts)
	v.SetDefault("delete-queue.nack-backoff", defaults.DeleteQueue.NackBackoff)
	v.SetDefault("delete-queue.poll-interval", defaults.DeleteQueue.PollInterval)
	v.SetDefault("delete-queue.workers", defaults.DeleteQueue.Workers)
	v.SetDefault("limits.sdk-rate-per-second", defaults.Limits.SDKRatePerSecond)
	v.SetDefault("limits.sdk-burst", defaults.Limits.SDKBurst)

	// Bind flags
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	// Environment variables
	v.SetEnvPrefix("CRON_OBSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Config file
	var configFileUsed string
	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		configFileUsed = v.ConfigFileUsed()
	} else {
		// Try default locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/cron-observer")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			configFileUsed = v.ConfigFileUsed()
		}
		// Ignore error if no config file found - will use defaults
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store which config file was used (empty string if none)
	cfg.configFileUsed = configFileUsed

	return cfg, nil
}

// ConfigFileUsed returns the path to the config file that was loaded (empty if none)
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}

// DSN builds the database connection string for the configured backend
func (c *StorageConfig) DSN() (string, error) {
	switch c.Type {
	case "sqlite":
		return c.SQLite.Path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.PostgreSQL.Host, c.PostgreSQL.Port,
			c.PostgreSQL.Username, c.PostgreSQL.Password,
			c.PostgreSQL.Database, c.PostgreSQL.SSLMode), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.MySQL.Username, c.MySQL.Password,
			c.MySQL.Host, c.MySQL.Port,
			c.MySQL.Database), nil
	}
	return "", fmt.Errorf("unsupported storage type: %s", c.Type)
}
