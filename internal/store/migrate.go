package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

// Migrate brings the physical schema up to date with the registry: every
// registered table is created if absent (with a unique index on id) and any
// column added to the registry since the file was written is ALTER-added.
// Migration is additive only; existing columns and data are never touched.
func Migrate(db *sql.DB, log *slog.Logger, retries int) error {
	for _, t := range schema.Tables() {
		if err := createTable(db, log, retries, t); err != nil {
			return fmt.Errorf("could not create table %s: %w", t.Name, err)
		}
		if err := patchTable(db, log, retries, t); err != nil {
			return fmt.Errorf("could not patch table %s: %w", t.Name, err)
		}
	}
	return nil
}

func createTable(db *sql.DB, log *slog.Logger, retries int, t schema.Table) error {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name + " " + c.SQL
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(cols, ","))
	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_id_idx ON %s (id)", t.Name, t.Name)

	return RetryLocked(log, retries, "create "+t.Name, func() error {
		if _, err := db.Exec(create); err != nil {
			return err
		}
		_, err := db.Exec(index)
		return err
	})
}

func patchTable(db *sql.DB, log *slog.Logger, retries int, t schema.Table) error {
	existing, err := tableColumns(db, log, retries, t.Name)
	if err != nil {
		return err
	}

	for _, c := range t.Columns {
		if existing[c.Name] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.Name, c.Name, c.SQL)
		err := RetryLocked(log, retries, "alter "+t.Name, func() error {
			_, err := db.Exec(alter)
			return err
		})
		// Another process may have patched the same column between the
		// PRAGMA diff and our ALTER.
		if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return err
		}
		if err == nil {
			log.Info("added missing column", "table", t.Name, "column", c.Name)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, log *slog.Logger, retries int, table string) (map[string]bool, error) {
	cols := map[string]bool{}
	err := RetryLocked(log, retries, "table_info "+table, func() error {
		rows, err := db.Query(fmt.Sprintf("PRAGMA table_info('%s')", table))
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(cols)
		for rows.Next() {
			var (
				cid     int
				name    string
				ctype   string
				notnull int
				dflt    sql.NullString
				pk      int
			)
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return err
			}
			cols[name] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}
