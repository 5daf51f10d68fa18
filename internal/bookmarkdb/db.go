// Package bookmarkdb is the embedded metadata store for bookmark items: a
// hash-keyed, typed key-value store over a per-bookmark sqlite file.
//
// Each bookmark root (a server/job/root triple) owns one database file at
// {root}/.bookmark/bookmark.db. Rows are keyed by the md5 hash of a
// normalized source path, values are typed per column by the schema
// registry. When the file cannot be created or opened the controller degrades
// permanently to an in-memory engine: the API keeps working, nothing
// persists, and IsValid reports false.
package bookmarkdb

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vfxpipe/bookmarkdb/internal/codec"
	"github.com/vfxpipe/bookmarkdb/internal/config"
	"github.com/vfxpipe/bookmarkdb/internal/pathkey"
	"github.com/vfxpipe/bookmarkdb/internal/schema"
	"github.com/vfxpipe/bookmarkdb/internal/store"
)

// Change describes one successful write: the table and column written, the
// source path the row is keyed by, and the value as re-read from storage.
type Change struct {
	Table  string
	Source string
	Key    string
	Value  any
}

// Options configures controllers constructed by a Registry or Open.
type Options struct {
	// OnChange, when set, receives a Change after every successful write.
	// It is called synchronously from the writing goroutine.
	OnChange func(Change)
}

// DB is the controller for one bookmark root's database. It is safe for
// concurrent use; the connection pool hands every operation its own
// connection.
type DB struct {
	server, job, root string
	rootPath          string
	cachePath         string
	databasePath      string

	cfg      *config.Config
	log      *slog.Logger
	keys     *pathkey.Deriver
	codec    *codec.Codec
	upsert   store.Upserter
	onChange func(Change)

	mu      sync.Mutex
	backend store.Backend
	valid   bool
}

// Open constructs a controller for the bookmark root at server/job/root.
// Construction never fails: any directory, open or migration problem routes
// the controller to a transient in-memory backend, permanently for the life
// of the instance.
func Open(server, job, root string, cfg *config.Config, keys *pathkey.Deriver, cdc *codec.Codec, opts Options) *DB {
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if keys == nil {
		keys = pathkey.NewDeriver(cfg.Servers)
	}
	if cdc == nil {
		cdc = codec.New(cfg.Logger)
	}

	rootPath := normalize(server + "/" + job + "/" + root)
	db := &DB{
		server:       server,
		job:          job,
		root:         root,
		rootPath:     rootPath,
		cachePath:    rootPath + "/" + config.CacheDirName,
		databasePath: rootPath + "/" + config.CacheDirName + "/" + config.DatabaseFileName,
		cfg:          cfg,
		log:          cfg.Logger.With("bookmark", rootPath),
		keys:         keys,
		codec:        cdc,
		onChange:     opts.OnChange,
	}

	db.connect()
	db.migrate()
	db.upsert = store.DetectUpserter(db.backend.DB())
	db.stampInfo()
	return db
}

// connect opens the file backend, falling back to memory on any failure.
func (db *DB) connect() {
	if err := db.createBookmarkDir(); err != nil {
		db.log.Error("could not create bookmark cache dir", "error", err)
		db.connectMemory()
		return
	}

	backend, err := store.OpenFile(db.databasePath, db.cfg.BusyTimeout)
	if err != nil {
		db.log.Error("could not open database file", "error", err)
		db.connectMemory()
		return
	}
	db.backend = backend
	db.valid = true
}

// connectMemory switches to the transient backend. Memory mode is permanent
// for the life of the instance and IsValid reports false from here on.
func (db *DB) connectMemory() {
	backend, err := store.OpenMemory()
	if err != nil {
		// sql.Open of :memory: allocates no external resources; this only
		// fires if the driver is missing.
		panic(fmt.Sprintf("bookmarkdb: could not open in-memory fallback: %v", err))
	}
	db.log.Debug("switched to in-memory database mode")
	db.backend = backend
	db.valid = false
}

// createBookmarkDir ensures {root}/.bookmark and its thumbnails folder
// exist. The bookmark root itself must already exist; creating it is the
// job of project setup, not the metadata store.
func (db *DB) createBookmarkDir() error {
	if _, err := os.Stat(filepath.FromSlash(db.rootPath)); err != nil {
		return fmt.Errorf("bookmark root missing: %w", err)
	}
	for _, dir := range []string{
		db.cachePath,
		db.cachePath + "/" + config.ThumbnailDirName,
	} {
		if err := os.MkdirAll(filepath.FromSlash(dir), 0755); err != nil {
			return fmt.Errorf("could not create %s: %w", dir, err)
		}
	}
	return nil
}

// migrate runs the additive schema migration. A migration failure on the
// file backend forces the memory fallback and re-runs migration there.
func (db *DB) migrate() {
	err := store.Migrate(db.backend.DB(), db.log, db.cfg.Retries)
	if err == nil {
		return
	}
	db.log.Error("schema migration failed", "error", err)
	if !db.backend.Persistent() {
		return
	}
	db.backend.Close()
	db.connectMemory()
	if err := store.Migrate(db.backend.DB(), db.log, db.cfg.Retries); err != nil {
		db.log.Error("in-memory schema migration failed", "error", err)
	}
}

// IsValid reports whether the controller is file-backed and no unrecoverable
// error has occurred. A memory-backed controller keeps functioning but is
// never valid: its writes do not persist.
func (db *DB) IsValid() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.backend != nil && db.backend.Persistent() && db.valid
}

// Close releases the database handle. Further use of the controller is
// undefined.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.backend == nil {
		return
	}
	if err := db.backend.Close(); err != nil {
		db.log.Error("could not close database", "error", err)
		db.valid = false
	}
	db.backend = nil
}

// Source returns the bookmark root path, with any extra segments appended.
// The result is the canonical form sources should be addressed by.
func (db *DB) Source(parts ...string) string {
	if len(parts) == 0 {
		return db.rootPath
	}
	return db.rootPath + "/" + strings.Join(parts, "/")
}

// RootPath returns the normalized server/job/root path identifying this
// controller.
func (db *DB) RootPath() string { return db.rootPath }

// DatabasePath returns the path of the backing database file, whether or not
// the file backend is in use.
func (db *DB) DatabasePath() string { return db.databasePath }

// Value reads one column of the row keyed by source. It returns nil when the
// row is absent, the stored value does not decode against the column type,
// the connection is gone, or a locked database outlasts the retry budget.
// The only returned error is validation of key against the table.
func (db *DB) Value(source, key string, table schema.Table) (any, error) {
	col, ok := table.Column(key)
	if !ok {
		return nil, unknownColumn(table.Name, key)
	}

	stored, ok := db.readStored(source, key, table)
	if !ok {
		return nil, nil
	}
	return db.decodeStored(stored, key, col), nil
}

// readStored fetches the raw stored value for (source, key). The second
// return is false when there is nothing to decode.
func (db *DB) readStored(source, key string, table schema.Table) (any, bool) {
	conn := db.conn()
	if conn == nil {
		return nil, false
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", key, table.Name)
	id := db.keys.Hash(source)

	var stored any
	err := store.RetryLocked(db.log, db.cfg.Retries, "value", func() error {
		return conn.QueryRow(q, id).Scan(&stored)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		db.setValid(true)
		return nil, false
	case store.IsLocked(err):
		// Retry budget exhausted; degrade this call only.
		return nil, false
	case err != nil:
		db.log.Error("could not read value", "table", table.Name, "key", key, "error", err)
		db.setValid(false)
		return nil, false
	}
	db.setValid(true)
	return stored, true
}

// SetValue writes one column of the row keyed by source, inserting the row
// if absent and leaving every other column untouched. The value's runtime
// type must match the column's declared type; a mismatch (or unknown key) is
// the only error returned. Storage failures are logged and abandoned. After
// a successful write the stored value is re-read and a Change is emitted.
func (db *DB) SetValue(source, key string, value any, table schema.Table) error {
	col, ok := table.Column(key)
	if !ok {
		return unknownColumn(table.Name, key)
	}
	if err := validateValue(table, col, value); err != nil {
		return err
	}

	conn := db.conn()
	if conn == nil {
		return nil
	}

	encoded, err := db.codec.Encode(value, col.Type)
	if err != nil {
		db.log.Error("could not encode value", "table", table.Name, "key", key, "error", err)
		encoded = nil
	}

	id := db.keys.Hash(source)
	q, args := db.upsert.Build(table, key, id, encoded)

	err = store.RetryLocked(db.log, db.cfg.Retries, "set_value", func() error {
		_, err := conn.Exec(q, args...)
		return err
	})
	if err != nil {
		if !store.IsLocked(err) {
			db.setValid(false)
		}
		db.log.Error("could not set value", "table", table.Name, "key", key, "error", err)
		return nil
	}
	db.setValid(true)

	db.emit(source, key, table)
	return nil
}

// emit re-reads the written column and notifies the change subscriber.
func (db *DB) emit(source, key string, table schema.Table) {
	if db.onChange == nil {
		return
	}
	value, _ := db.Value(source, key, table)
	db.onChange(Change{Table: table.Name, Source: source, Key: key, Value: value})
}

// Row returns every non-id column of the row keyed by source. A missing row
// (or any storage failure) yields the same map shape with every value nil,
// so callers never special-case absence.
func (db *DB) Row(source string, table schema.Table) map[string]any {
	values := emptyRow(table)

	conn := db.conn()
	if conn == nil {
		return values
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table.Name)
	rows, err := conn.Query(q, db.keys.Hash(source))
	if err != nil {
		db.log.Error("could not read row", "table", table.Name, "error", err)
		db.setValid(false)
		return values
	}
	defer rows.Close()
	db.setValid(true)

	cols, err := rows.Columns()
	if err != nil || !rows.Next() {
		return values
	}
	db.scanRow(rows, cols, table, values)
	return values
}

// Rows returns a lazy, single-pass sequence of every row in the table, as
// non-id column maps. Iteration is best-effort: a storage error ends the
// sequence early.
func (db *DB) Rows(table schema.Table) iter.Seq[map[string]any] {
	return func(yield func(map[string]any) bool) {
		conn := db.conn()
		if conn == nil {
			return
		}

		rows, err := conn.Query(fmt.Sprintf("SELECT * FROM %s", table.Name))
		if err != nil {
			db.log.Error("could not read rows", "table", table.Name, "error", err)
			db.setValid(false)
			return
		}
		defer rows.Close()
		db.setValid(true)

		cols, err := rows.Columns()
		if err != nil {
			return
		}
		for rows.Next() {
			values := emptyRow(table)
			db.scanRow(rows, cols, table, values)
			if !yield(values) {
				return
			}
		}
	}
}

// Column returns a lazy, single-pass sequence of one column's decoded value
// across every row in the table. Best-effort, like Rows.
func (db *DB) Column(key string, table schema.Table) iter.Seq[any] {
	return func(yield func(any) bool) {
		col, ok := table.Column(key)
		if !ok {
			db.log.Error("unknown column", "table", table.Name, "key", key)
			return
		}

		conn := db.conn()
		if conn == nil {
			return
		}

		rows, err := conn.Query(fmt.Sprintf("SELECT %s FROM %s", key, table.Name))
		if err != nil {
			db.log.Error("could not read column", "table", table.Name, "key", key, "error", err)
			db.setValid(false)
			return
		}
		defer rows.Close()
		db.setValid(true)

		for rows.Next() {
			var stored any
			if err := rows.Scan(&stored); err != nil {
				return
			}
			if !yield(db.decodeStored(stored, key, col)) {
				return
			}
		}
	}
}

// decodeStored converts a raw stored value into its runtime form. Row keys
// are stored as-is and never pass through the codec.
func (db *DB) decodeStored(stored any, key string, col schema.Column) any {
	if key == "id" {
		if b, ok := stored.([]byte); ok {
			return string(b)
		}
		return stored
	}
	return db.codec.Decode(stored, col.Type)
}

// DeleteRow removes the row keyed by source. Best-effort: failures are
// logged, never returned.
func (db *DB) DeleteRow(source string, table schema.Table) {
	conn := db.conn()
	if conn == nil {
		return
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table.Name)
	err := store.RetryLocked(db.log, db.cfg.Retries, "delete_row", func() error {
		_, err := conn.Exec(q, db.keys.Hash(source))
		return err
	})
	if err != nil {
		db.log.Error("could not delete row", "table", table.Name, "error", err)
		if !store.IsLocked(err) {
			db.setValid(false)
		}
		return
	}
	db.setValid(true)
}

// scanRow scans the current row into values, decoding each known non-id
// column. Physical columns missing from the registry are ignored.
func (db *DB) scanRow(rows *sql.Rows, cols []string, table schema.Table, values map[string]any) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		db.log.Error("could not scan row", "table", table.Name, "error", err)
		return
	}
	for i, name := range cols {
		if name == "id" {
			continue
		}
		col, ok := table.Column(name)
		if !ok {
			continue
		}
		values[name] = db.codec.Decode(raw[i], col.Type)
	}
}

// conn returns the live database handle, or nil after Close.
func (db *DB) conn() *sql.DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.backend == nil {
		return nil
	}
	return db.backend.DB()
}

func (db *DB) setValid(v bool) {
	db.mu.Lock()
	db.valid = v
	db.mu.Unlock()
}

func emptyRow(table schema.Table) map[string]any {
	values := make(map[string]any, len(table.Columns)-1)
	for _, c := range table.Columns {
		if c.Name == "id" {
			continue
		}
		values[c.Name] = nil
	}
	return values
}

// validateValue checks value's runtime type against the column's declared
// type. nil is always accepted and clears the stored value.
func validateValue(table schema.Table, col schema.Column, value any) error {
	if value == nil {
		return nil
	}

	ok := false
	switch col.Type {
	case schema.String:
		_, ok = value.(string)
	case schema.Int:
		switch value.(type) {
		case int, int32, int64:
			ok = true
		}
	case schema.Float:
		switch value.(type) {
		case float32, float64:
			ok = true
		}
	case schema.Dict:
		_, ok = value.(map[string]any)
	case schema.Bytes:
		_, ok = value.([]byte)
	}
	if !ok {
		return &ValidationError{
			Table:  table.Name,
			Column: col.Name,
			Msg:    fmt.Sprintf("expected %s value, got %T", col.Type, value),
		}
	}
	return nil
}

// normalize rewrites a path to forward slashes and trims trailing ones.
func normalize(p string) string {
	return strings.TrimRight(strings.ReplaceAll(p, "\\", "/"), "/")
}
