// Package dbopen opens the SQLite databases behind the document store and the
// audit trail (modernc.org/sqlite, no cgo).
//
// Every connection of the pool gets:
//
//	foreign_keys = ON
//	journal_mode = WAL     (files only)
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
//	db, err := dbopen.Open("data/courrier.db", dbopen.WithMkdirAll(), dbopen.WithSchema(ddl))
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(ddl))
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

type settings struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
	ping        bool
}

// Option adjusts how Open prepares the database.
type Option func(*settings)

// WithBusyTimeout overrides busy_timeout (milliseconds).
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyTimeout = ms } }

// WithSynchronous overrides the synchronous mode (OFF, NORMAL, FULL).
func WithSynchronous(mode string) Option { return func(s *settings) { s.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(s *settings) { s.mkdirAll = true } }

// WithSchema adds DDL run once the pragmas are in place, in call order.
func WithSchema(ddl string) Option { return func(s *settings) { s.schemas = append(s.schemas, ddl) } }

// WithoutPing skips the connectivity check.
func WithoutPing() Option { return func(s *settings) { s.ping = false } }

// pragmas lists name/value pairs in the order they are applied.
func (s settings) pragmas(file bool) [][2]string {
	p := [][2]string{
		{"foreign_keys", "1"},
		{"busy_timeout", strconv.Itoa(s.busyTimeout)},
		{"synchronous", s.synchronous},
	}
	if file {
		p = append(p, [2]string{"journal_mode", "WAL"})
	}
	return p
}

// dsn encodes the pragmas as modernc _pragma parameters so that every
// pooled connection is configured, not just the first one.
func (s settings) dsn(path string) string {
	q := url.Values{}
	for _, p := range s.pragmas(true) {
		q.Add("_pragma", p[0]+"("+p[1]+")")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busyTimeout: 10_000, synchronous: "NORMAL", ping: true}
	for _, o := range opts {
		o(&s)
	}

	var (
		db  *sql.DB
		err error
	)
	if path == memoryPath {
		// A memory database lives in a single connection; plain PRAGMA
		// statements are enough.
		if db, err = sql.Open("sqlite", memoryPath); err != nil {
			return nil, fmt.Errorf("dbopen: open: %w", err)
		}
		db.SetMaxOpenConns(1)
		for _, p := range s.pragmas(false) {
			if _, err := db.Exec("PRAGMA " + p[0] + " = " + p[1]); err != nil {
				db.Close()
				return nil, fmt.Errorf("dbopen: pragma %s: %w", p[0], err)
			}
		}
	} else {
		if s.mkdirAll {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("dbopen: mkdir: %w", err)
			}
		}
		if db, err = sql.Open("sqlite", s.dsn(path)); err != nil {
			return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
		}
	}

	if s.ping {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
		}
	}
	for i, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema #%d: %w", i, err)
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory database closed at test cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
