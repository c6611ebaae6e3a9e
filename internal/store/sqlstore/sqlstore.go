// Package sqlstore implements the directory and audit sink on database/sql
// for PostgreSQL (pgx) and SQLite (go-sqlite3).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"tenantauth.org/internal/migrate"
)

// Store implements auth.Directory and audit.Sink.
type Store struct {
	db      *sql.DB
	dialect string
}

// Target is a parsed database URL.
type Target struct {
	Driver  string
	Dialect string
	DSN     string
}

// ParseURL maps a database URL onto a driver and DSN. Accepted forms are
// postgres://, postgresql://, sqlite:///path, sqlite:///:memory: and file:path.
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Target{Driver: "pgx", Dialect: migrate.DialectPostgres, DSN: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return Target{}, fmt.Errorf("sqlstore: sqlite url %q has no path", raw)
		}
		return Target{Driver: "sqlite3", Dialect: migrate.DialectSQLite, DSN: sqliteDSN(path)}, nil
	case strings.HasPrefix(raw, "file:"):
		return Target{Driver: "sqlite3", Dialect: migrate.DialectSQLite, DSN: sqliteDSN(strings.TrimPrefix(raw, "file:"))}, nil
	default:
		return Target{}, fmt.Errorf("sqlstore: unsupported database url %q", raw)
	}
}

func sqliteDSN(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
}

// Open connects to the database named by url.
func Open(url string) (*Store, error) {
	target, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, err
	}
	if target.Dialect == migrate.DialectSQLite {
		// A single writer avoids SQLITE_BUSY and keeps :memory: databases on one connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &Store{db: db, dialect: target.Dialect}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns migrate.DialectPostgres or migrate.DialectSQLite.
func (s *Store) Dialect() string { return s.dialect }

// Check pings the database; it backs the readiness probe.
func (s *Store) Check(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}
