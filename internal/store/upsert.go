package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

// Upserter builds the insert-or-update statement for a single column write.
// The dialect is detected once when a backend is opened and fixed for the
// life of the connection.
type Upserter interface {
	Build(t schema.Table, key, id string, value any) (string, []any)
	// Native reports whether the engine supports ON CONFLICT upserts, and
	// with them in-place expressions over the conflicting row.
	Native() bool
}

// DetectUpserter picks the upsert dialect supported by the engine behind db.
// sqlite gained ON CONFLICT upserts in 3.24.0; older engines get the
// INSERT OR REPLACE fallback.
func DetectUpserter(db *sql.DB) Upserter {
	var raw string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&raw); err != nil {
		return legacyUpsert{}
	}
	if versionAtLeast(raw, 3, 24, 0) {
		return nativeUpsert{}
	}
	return legacyUpsert{}
}

func versionAtLeast(raw string, major, minor, patch int) bool {
	want := [3]int{major, minor, patch}
	parts := strings.Split(raw, ".")
	for i := 0; i < 3; i++ {
		got := 0
		if i < len(parts) {
			got, _ = strconv.Atoi(parts[i])
		}
		if got != want[i] {
			return got > want[i]
		}
	}
	return true
}

// nativeUpsert writes only the target column, leaving every other column to
// the engine's conflict handling.
type nativeUpsert struct{}

func (nativeUpsert) Native() bool { return true }

func (nativeUpsert) Build(t schema.Table, key, id string, value any) (string, []any) {
	q := fmt.Sprintf(
		"INSERT INTO %s (id, %s) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET %s=excluded.%s",
		t.Name, key, key, key)
	return q, []any{id, value}
}

// legacyUpsert emulates an upsert with INSERT OR REPLACE. REPLACE deletes
// the conflicting row, so every untouched column is rebuilt from its current
// value through a correlated sub-select to avoid nulling it.
type legacyUpsert struct{}

func (legacyUpsert) Native() bool { return false }

func (legacyUpsert) Build(t schema.Table, key, id string, value any) (string, []any) {
	values := make([]string, 0, len(t.Columns))
	args := make([]any, 0, len(t.Columns)+1)

	values = append(values, "?")
	args = append(args, id)

	for _, c := range t.Columns {
		if c.Name == "id" {
			continue
		}
		if c.Name == key {
			if value == nil {
				values = append(values, "null")
			} else {
				values = append(values, "?")
				args = append(args, value)
			}
			continue
		}
		values = append(values, fmt.Sprintf("(SELECT %s FROM %s WHERE id = ?)", c.Name, t.Name))
		args = append(args, id)
	}

	q := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(t.ColumnNames(), ", "), strings.Join(values, ", "))
	return q, args
}
