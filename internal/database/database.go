package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/models"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps *sql.DB for SQLite or PostgreSQL. Queries are written with '?'
// placeholders and rebound for the active driver.
type DB struct {
	*sql.DB
	driver string
	path   string
	logger *zerolog.Logger
}

// Open connects to the database selected by cfg and applies migrations.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewDB(cfg.Path, logger)
	case DriverPostgres:
		return NewPostgresDB(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens (creating if needed) a SQLite database at path.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open(DriverSQLite, path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, driver: DriverSQLite, path: path, logger: logger}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgresDB connects to PostgreSQL through lib/pq.
func NewPostgresDB(cfg config.PostgresConfig, logger *zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open(DriverPostgres, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}

	db := &DB{DB: sqlDB, driver: DriverPostgres, logger: logger}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// newWithConn wraps an existing connection without running migrations.
func newWithConn(sqlDB *sql.DB, driver string, logger *zerolog.Logger) *DB {
	return &DB{DB: sqlDB, driver: driver, logger: logger}
}

func (db *DB) init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if db.logger != nil {
		db.logger.Info().Str("driver", db.driver).Str("path", db.path).Msg("database initialized")
	}
	return nil
}

func (db *DB) Driver() string { return db.driver }

// Path is the SQLite file path; empty for PostgreSQL.
func (db *DB) Path() string { return db.path }

func (db *DB) createTables(ctx context.Context) error {
	queries := sqliteSchema
	if db.driver == DriverPostgres {
		queries = postgresSchema
	}
	for _, query := range queries {
		if _, err := db.DB.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// rebind converts '?' placeholders to '$n' for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.rebind(query), args...)
}

// Tx is a transaction that rebinds placeholders like DB does.
type Tx struct {
	*sql.Tx
	db *DB
}

func (db *DB) beginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{Tx: tx, db: db}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, tx.db.rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, tx.db.rebind(query), args...)
}

// isUniqueViolation reports a duplicate key error from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatDate(t time.Time) string {
	return models.DateOf(t).Format(models.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	d, err := models.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return d, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'customer',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_days (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		period TEXT NOT NULL,
		max_slots INTEGER NOT NULL DEFAULT 16,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_calendar_days_date_period
		ON calendar_days(date, period) WHERE is_active = 1`,
	`CREATE TABLE IF NOT EXISTS calendar_slots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		calendar_day_id INTEGER NOT NULL REFERENCES calendar_days(id),
		position INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		is_booked BOOLEAN NOT NULL DEFAULT 0,
		booked_by TEXT,
		updated_at DATETIME NOT NULL,
		UNIQUE (calendar_day_id, start_time),
		CHECK ((is_booked = 0 AND booked_by IS NULL) OR (is_booked = 1 AND booked_by IS NOT NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS inspections (
		id TEXT PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		car_id INTEGER NOT NULL,
		inspection_date TEXT NOT NULL,
		period TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		inspector_id INTEGER,
		customer_notes TEXT NOT NULL DEFAULT '',
		inspector_notes TEXT NOT NULL DEFAULT '',
		report TEXT,
		rescheduled_from TEXT,
		confirmed_at DATETIME,
		completed_at DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notification_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type TEXT NOT NULL,
		inspection_id TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		processed_at DATETIME,
		next_retry_at DATETIME
	)`,

	`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_days_date ON calendar_days(date)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_customer ON inspections(customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections(status)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_date ON inspections(inspection_date)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'customer',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cars (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_days (
		id BIGSERIAL PRIMARY KEY,
		date TEXT NOT NULL,
		period TEXT NOT NULL,
		max_slots INTEGER NOT NULL DEFAULT 16,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_calendar_days_date_period
		ON calendar_days(date, period) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS calendar_slots (
		id BIGSERIAL PRIMARY KEY,
		calendar_day_id BIGINT NOT NULL REFERENCES calendar_days(id),
		position INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		is_booked BOOLEAN NOT NULL DEFAULT FALSE,
		booked_by TEXT,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (calendar_day_id, start_time),
		CHECK ((NOT is_booked AND booked_by IS NULL) OR (is_booked AND booked_by IS NOT NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS inspections (
		id TEXT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		car_id BIGINT NOT NULL,
		inspection_date TEXT NOT NULL,
		period TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		inspector_id BIGINT,
		customer_notes TEXT NOT NULL DEFAULT '',
		inspector_notes TEXT NOT NULL DEFAULT '',
		report TEXT,
		rescheduled_from TEXT,
		confirmed_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notification_queue (
		id BIGSERIAL PRIMARY KEY,
		task_type TEXT NOT NULL,
		inspection_id TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_days_date ON calendar_days(date)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_customer ON inspections(customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections(status)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_date ON inspections(inspection_date)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
}
