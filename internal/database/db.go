package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/dinder/session-server-go/internal/config"
)

// DBTX is an interface that both *sqlx.DB and *sqlx.Tx satisfy.
// This allows repositories to work with either a direct connection or a transaction.
type DBTX interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	Rebind(query string) string
}

// Ensure *sqlx.DB and *sqlx.Tx implement DBTX
var _ DBTX = (*sqlx.DB)(nil)
var _ DBTX = (*sqlx.Tx)(nil)

type DB struct {
	*sqlx.DB
}

// DriverFor picks the SQL driver from the URL scheme: postgres:// and
// postgresql:// use lib/pq, sqlite: and file: use the embedded SQLite driver.
func DriverFor(databaseURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return "sqlite", strings.TrimPrefix(databaseURL, "sqlite:"), nil
	case strings.HasPrefix(databaseURL, "file:"):
		return "sqlite", databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme in %q", databaseURL)
	}
}

func Connect(databaseURL string) (*DB, error) {
	driver, dsn, err := DriverFor(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(config.DBMaxOpenConns)
		db.SetMaxIdleConns(config.DBMaxIdleConns)
		db.SetConnMaxLifetime(config.DBConnMaxLifetime)
	}

	return &DB{db}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// TxFunc is a function that runs within a transaction.
type TxFunc func(tx *sqlx.Tx) error

// WithTx executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (db *DB) WithTx(ctx context.Context, fn TxFunc) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// schema is portable between Postgres and SQLite. JSON columns are stored as
// text so both drivers scan them the same way.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		code              TEXT PRIMARY KEY,
		host_id           TEXT NOT NULL,
		status            TEXT NOT NULL,
		phase             TEXT NOT NULL,
		search_generation INTEGER NOT NULL DEFAULT 0,
		roster            TEXT NOT NULL DEFAULT '[]',
		outcome           TEXT,
		archived          BOOLEAN NOT NULL DEFAULT FALSE,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions (archived)`,
	`CREATE TABLE IF NOT EXISTS participants (
		session_code TEXT NOT NULL REFERENCES sessions (code) ON DELETE CASCADE,
		id           TEXT NOT NULL,
		position     INTEGER NOT NULL,
		name         TEXT NOT NULL,
		is_host      BOOLEAN NOT NULL DEFAULT FALSE,
		preferences  TEXT,
		joined_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (session_code, id)
	)`,
	`CREATE TABLE IF NOT EXISTS candidates (
		session_code TEXT NOT NULL REFERENCES sessions (code) ON DELETE CASCADE,
		id           TEXT NOT NULL,
		position     INTEGER NOT NULL,
		data         TEXT NOT NULL,
		PRIMARY KEY (session_code, id)
	)`,
	`CREATE TABLE IF NOT EXISTS votes (
		session_code   TEXT NOT NULL REFERENCES sessions (code) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		candidate_id   TEXT NOT NULL,
		value          BOOLEAN NOT NULL,
		cast_at        TIMESTAMP NOT NULL,
		PRIMARY KEY (session_code, participant_id, candidate_id)
	)`,
}

// Migrate creates the schema. Safe to call on every boot.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
