// Package store is the relational persistence layer of the archive.
//
// It keeps three groups of tables:
//   - meta: scope-keyed watermarks for the cache builder and propagator
//   - repo_commit, file_path, file_commit: the commit to file index
//   - users, topics, posts, likes: the propagated forum content
//
// Two drivers are supported through database/sql: embedded SQLite
// (ncruces/go-sqlite3, WAL mode) for single-host deployments and Postgres
// (pgx stdlib) for shared ones. Queries are written with `?` placeholders
// and rebound for Postgres.
package store

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

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Dialect selects driver-specific SQL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store wraps the database connection.
type Store struct {
	conn    *sql.DB
	dialect Dialect
}

// Open connects to the database and creates the schema if needed.
//
// For sqlite the dsn is a file path; the parent directory is created and
// the database runs in WAL mode with a busy timeout. For postgres the dsn
// is a libpq connection string or URL.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(ctx, "sqlite", "/var/lib/archiver/archive.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		conn    *sql.DB
		err     error
		dialect = Dialect(driver)
	)

	switch dialect {
	case DialectSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection
		connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dsn)
		conn, err = sql.Open("sqlite3", connStr)
	case DialectPostgres:
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, dialect: dialect}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// SetPool overrides the connection pool limits.
func (s *Store) SetPool(maxOpen, maxIdle int) {
	if maxOpen > 0 {
		s.conn.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		s.conn.SetMaxIdleConns(maxIdle)
	}
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection, checkpointing the WAL on sqlite.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if s.dialect == DialectSQLite {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// q rebinds `?` placeholders for the active dialect.
func (s *Store) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
