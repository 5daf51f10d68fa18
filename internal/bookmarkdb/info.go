package bookmarkdb

import (
	"os"
	"time"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

// Version is stamped into newly created database files.
const Version = "0.9.0"

// stampInfo writes the InfoData row for this bookmark the first time the
// database is created. The stamp records who created the file and with which
// release, which is what future non-additive migrations would key off.
func (db *DB) stampInfo() {
	if v, err := db.Value(db.rootPath, "created", schema.InfoTable); err != nil || v != nil {
		return
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	host, _ := os.Hostname()

	for key, value := range map[string]any{
		"created": float64(time.Now().Unix()),
		"user":    user,
		"host":    host,
		"version": Version,
	} {
		if err := db.SetValue(db.rootPath, key, value, schema.InfoTable); err != nil {
			db.log.Error("could not stamp database info", "key", key, "error", err)
		}
	}
}

// Info returns the creation stamp of the database file: created, user, host
// and version, nil-valued when the stamp is missing.
func (db *DB) Info() map[string]any {
	return db.Row(db.rootPath, schema.InfoTable)
}
