// Package dbopen opens the mailglot SQLite file that holds settings,
// service routes and the workflow event log.
//
// Pragmas go into the DSN so that every pooled connection gets them,
// not only the first one:
//
//	foreign_keys(1) journal_mode(WAL) synchronous(NORMAL) busy_timeout(10000)
//
//	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(),
//	    dbopen.WithSchema(settings.Schema), dbopen.WithSchema(observability.Schema))
//
// Tests use OpenMemory, which closes the database on cleanup.
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type options struct {
	driver  string
	busyMS  int
	mkdir   bool
	schemas []string
}

// Option customises Open.
type Option func(*options)

// WithDriver opens through another registered driver, such as the
// tracing driver of package trace. Default "sqlite".
func WithDriver(name string) Option { return func(o *options) { o.driver = name } }

// WithBusyTimeout sets busy_timeout in milliseconds. Default 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyMS = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdir = true } }

// WithSchema adds DDL run once the database is open. Schemas run in the
// order given and must be idempotent.
func WithSchema(ddl string) Option { return func(o *options) { o.schemas = append(o.schemas, ddl) } }

// dsn appends the pragma parameters understood by modernc.org/sqlite.
func (o *options) dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyMS))
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// Open opens (creating if needed) the database at path and applies the
// schemas.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{driver: "sqlite", busyMS: 10_000}
	for _, fn := range opts {
		fn(&o)
	}
	if o.mkdir && path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open(o.driver, o.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for i, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory database for a test. The pool is
// held to one connection because each ":memory:" connection is its own
// database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
