package bookmarkdb

import (
	"fmt"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
	"github.com/vfxpipe/bookmarkdb/internal/store"
)

// Flag is one bit of the asset table's flags bitmask. The values match
// database files written by earlier releases and must not be renumbered.
type Flag int64

const (
	MarkedAsArchived   Flag = 0b1000000000
	MarkedAsFavourite  Flag = 0b10000000000
	MarkedAsActive     Flag = 0b100000000000
	MarkedAsPersistent Flag = 0b1000000000000
)

// SetFlag sets or clears one flag bit on the asset row keyed by source.
//
// The mutation is a single atomic bitwise UPDATE, so concurrent mutators of
// different bits on the same row cannot lose each other's updates. (Earlier
// releases read the whole mask and wrote it back; last writer won at call
// granularity.) A Change for the flags column is emitted on success.
func (db *DB) SetFlag(source string, on bool, flag Flag) {
	conn := db.conn()
	if conn == nil {
		return
	}

	table := schema.AssetTable
	if !db.upsert.Native() {
		db.setFlagLegacy(source, on, flag, table)
		return
	}

	op := "|"
	initial := int64(flag)
	mask := int64(flag)
	if !on {
		op = "&"
		initial = 0
		mask = ^int64(flag)
	}

	q := fmt.Sprintf(
		"INSERT INTO %s (id, flags) VALUES (?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET flags = COALESCE(flags, 0) %s ?",
		table.Name, op)
	id := db.keys.Hash(source)

	err := store.RetryLocked(db.log, db.cfg.Retries, "set_flag", func() error {
		_, err := conn.Exec(q, id, initial, mask)
		return err
	})
	if err != nil {
		db.log.Error("could not set flag", "flag", int64(flag), "error", err)
		if !store.IsLocked(err) {
			db.setValid(false)
		}
		return
	}
	db.setValid(true)

	db.emit(source, "flags", table)
}

// setFlagLegacy is the read-modify-write path for engines without native
// upserts. It keeps the source behavior, including its last-writer-wins race
// at call granularity.
func (db *DB) setFlagLegacy(source string, on bool, flag Flag, table schema.Table) {
	current, err := db.Value(source, "flags", table)
	if err != nil {
		return
	}
	var mask int64
	if n, ok := current.(int64); ok {
		mask = n
	}
	if on {
		mask |= int64(flag)
	} else {
		mask &^= int64(flag)
	}
	_ = db.SetValue(source, "flags", mask, table)
}
