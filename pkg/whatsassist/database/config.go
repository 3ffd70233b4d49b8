package database

import "time"

// BackendType identifies a database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// Config selects and configures the database backend.
type Config struct {
	// Backend is "sqlite" (default) or "postgresql".
	Backend BackendType `yaml:"backend"`

	// SQLite configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// PostgreSQL configuration.
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to the database file (default: "./data/whatsassist.db").
	Path string `yaml:"path"`

	// JournalMode (default: WAL).
	JournalMode string `yaml:"journal_mode"`

	// BusyTimeout in milliseconds (default: 5000).
	BusyTimeout int `yaml:"busy_timeout"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration.
type PostgreSQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`

	// Password supports ${ENV_VAR} expansion in the config file.
	Password string `yaml:"password"`

	// SSLMode: disable, require, verify-full.
	SSLMode string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns a SQLite configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		SQLite: SQLiteConfig{
			Path:        "./data/whatsassist.db",
			JournalMode: "WAL",
			BusyTimeout: 5000,
		},
		PostgreSQL: PostgreSQLConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "whatsassist",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
	}
}

// Effective returns the configuration with defaults applied to empty fields.
func (c Config) Effective() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = d.SQLite.Path
	}
	if c.SQLite.JournalMode == "" {
		c.SQLite.JournalMode = d.SQLite.JournalMode
	}
	if c.SQLite.BusyTimeout == 0 {
		c.SQLite.BusyTimeout = d.SQLite.BusyTimeout
	}
	if c.PostgreSQL.Host == "" {
		c.PostgreSQL.Host = d.PostgreSQL.Host
	}
	if c.PostgreSQL.Port == 0 {
		c.PostgreSQL.Port = d.PostgreSQL.Port
	}
	if c.PostgreSQL.SSLMode == "" {
		c.PostgreSQL.SSLMode = d.PostgreSQL.SSLMode
	}
	if c.PostgreSQL.MaxOpenConns == 0 {
		c.PostgreSQL.MaxOpenConns = d.PostgreSQL.MaxOpenConns
	}
	if c.PostgreSQL.MaxIdleConns == 0 {
		c.PostgreSQL.MaxIdleConns = d.PostgreSQL.MaxIdleConns
	}
	if c.PostgreSQL.ConnMaxLifetime == 0 {
		c.PostgreSQL.ConnMaxLifetime = d.PostgreSQL.ConnMaxLifetime
	}
	return c
}
