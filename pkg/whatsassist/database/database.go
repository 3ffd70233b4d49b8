// Package database opens the WhatsAssist database (SQLite or PostgreSQL),
// applies schema migrations and smooths over the dialect differences the
// stores care about: placeholders, generated ids and timestamp encoding.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	_ "github.com/mattn/go-sqlite3"    // SQLite driver.
)

// DB is a database handle bound to its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens the configured backend, verifies connectivity and runs
// migrations.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()

	var (
		db  *DB
		err error
	)
	switch cfg.Backend {
	case BackendSQLite:
		db, err = openSQLite(cfg.SQLite)
	case BackendPostgreSQL:
		db, err = openPostgreSQL(cfg.PostgreSQL)
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	applied, err := db.Migrate(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("database ready",
		"backend", cfg.Backend,
		"migrations_applied", applied,
	)
	return db, nil
}

func openSQLite(cfg SQLiteConfig) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=ON",
		cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", cfg.Path, err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: sqlDB, Dialect: Dialect{Backend: BackendSQLite}}, nil
}

func openPostgreSQL(cfg PostgreSQLConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: sqlDB, Dialect: Dialect{Backend: BackendPostgreSQL}}, nil
}

// InsertID executes an INSERT written with "?" placeholders and returns the
// generated id column.
func (db *DB) InsertID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.Dialect.Backend == BackendPostgreSQL {
		var id int64
		err := db.QueryRowContext(ctx, db.Dialect.Rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Dialect describes backend-specific SQL details.
type Dialect struct {
	Backend BackendType
}

// sqliteTimeLayout is fixed-width so that lexical order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Rebind rewrites "?" placeholders into "$N" for PostgreSQL.
func (d Dialect) Rebind(query string) string {
	if d.Backend != BackendPostgreSQL {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TimeArg converts a timestamp into the value stored by the backend.
func (d Dialect) TimeArg(t time.Time) any {
	if d.Backend == BackendPostgreSQL {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// Time scans timestamps written by TimeArg, regardless of backend.
type Time struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into database.Time", src)
	}
}

func (t *Time) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time, t.Valid = parsed, true
	return nil
}
