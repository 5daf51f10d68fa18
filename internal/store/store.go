// Package store provides the storage backends for bookmark databases: a
// file-backed sqlite engine and an in-memory stand-in used when the file
// cannot be reached, plus schema migration, lock retry and upsert dialect
// selection shared by both.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dsnEscaper escapes the characters that would terminate or corrupt the
// path portion of a sqlite URI filename. Slashes stay literal; the engine
// decodes the percent escapes.
var dsnEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// Backend is a live sqlite engine. Exactly one implementation is chosen when
// a controller is constructed: the file backend persists, the memory backend
// accepts every write and forgets it at close.
type Backend interface {
	DB() *sql.DB
	// Persistent reports whether writes outlive the process.
	Persistent() bool
	Close() error
}

type fileBackend struct {
	db *sql.DB
}

func (b *fileBackend) DB() *sql.DB      { return b.db }
func (b *fileBackend) Persistent() bool { return true }
func (b *fileBackend) Close() error     { return b.db.Close() }

type memoryBackend struct {
	db *sql.DB
}

func (b *memoryBackend) DB() *sql.DB      { return b.db }
func (b *memoryBackend) Persistent() bool { return false }
func (b *memoryBackend) Close() error     { return b.db.Close() }

// OpenFile opens (creating if needed) the database file at path. The busy
// timeout bounds how long a single statement waits on another writer before
// reporting busy; the retry loop above this layer handles the rest.
func OpenFile(path string, busyTimeout time.Duration) (Backend, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", dsnEscaper.Replace(path), busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	// Force the file open now so corruption and permission errors surface
	// here rather than on the first query.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to %s: %w", path, err)
	}
	return &fileBackend{db: db}, nil
}

// OpenMemory opens a transient in-memory database. The pool is pinned to a
// single connection; each sqlite :memory: connection is its own database.
func OpenMemory() (Backend, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("could not open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &memoryBackend{db: db}, nil
}
