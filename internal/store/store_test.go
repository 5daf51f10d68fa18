package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func setupFile(t *testing.T) (Backend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookmark.db")
	b, err := OpenFile(path, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b, path
}

func TestOpenFile_CreatesFile(t *testing.T) {
	b, path := setupFile(t)

	if !b.Persistent() {
		t.Fatal("file backend must report persistent")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestOpenMemory_IsTransient(t *testing.T) {
	b, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Persistent() {
		t.Fatal("memory backend must not report persistent")
	}
	if _, err := b.DB().Exec("CREATE TABLE x (id TEXT)"); err != nil {
		t.Fatalf("memory backend not writable: %v", err)
	}
}

func TestMigrate_CreatesAllTables(t *testing.T) {
	b, _ := setupFile(t)

	if err := Migrate(b.DB(), discard(), 6); err != nil {
		t.Fatal(err)
	}

	for _, table := range schema.Tables() {
		var n int
		err := b.DB().QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table.Name).Scan(&n)
		if err != nil || n != 1 {
			t.Fatalf("table %s not created (n=%d err=%v)", table.Name, n, err)
		}

		var idx int
		err = b.DB().QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
			table.Name+"_id_idx").Scan(&idx)
		if err != nil || idx != 1 {
			t.Fatalf("unique index on %s.id not created", table.Name)
		}
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	b, _ := setupFile(t)

	for range 3 {
		if err := Migrate(b.DB(), discard(), 6); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMigrate_AddsMissingColumnsWithoutDataLoss(t *testing.T) {
	b, _ := setupFile(t)

	// Simulate a file written by an older release that predates most of the
	// current asset columns.
	_, err := b.DB().Exec(
		"CREATE TABLE AssetData (id TEXT PRIMARY KEY COLLATE NOCASE, description TEXT)")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.DB().Exec(
		"INSERT INTO AssetData (id, description) VALUES ('k1', 'aGVsbG8=')"); err != nil {
		t.Fatal(err)
	}

	if err := Migrate(b.DB(), discard(), 6); err != nil {
		t.Fatal(err)
	}

	cols, err := tableColumns(b.DB(), discard(), 6, "AssetData")
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range schema.AssetTable.Columns {
		if !cols[c.Name] {
			t.Fatalf("column %s not added by migration", c.Name)
		}
	}

	var desc string
	var flags sql.NullInt64
	err = b.DB().QueryRow("SELECT description, flags FROM AssetData WHERE id='k1'").
		Scan(&desc, &flags)
	if err != nil {
		t.Fatal(err)
	}
	if desc != "aGVsbG8=" {
		t.Fatalf("pre-existing value changed: %q", desc)
	}
	if flags.Valid {
		t.Fatalf("new column must read NULL, got %d", flags.Int64)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	if Backoff(1) != 200*time.Millisecond {
		t.Fatalf("Backoff(1) = %v", Backoff(1))
	}
	if Backoff(2) != 400*time.Millisecond {
		t.Fatalf("Backoff(2) = %v", Backoff(2))
	}
	for attempt := 4; attempt < 10; attempt++ {
		if Backoff(attempt) > time.Second {
			t.Fatalf("Backoff(%d) exceeds the cap: %v", attempt, Backoff(attempt))
		}
	}

	// Shift overflow must clamp to the cap, never go negative or zero.
	for _, attempt := range []int{34, 37, 63, 64, 100} {
		if got := Backoff(attempt); got != time.Second {
			t.Fatalf("Backoff(%d) = %v, want the 1s cap", attempt, got)
		}
	}
}

func TestOpenFile_PathWithURISpecials(t *testing.T) {
	// '?' and '#' would otherwise terminate the path portion of the DSN and
	// swallow the busy timeout option.
	dir := filepath.Join(t.TempDir(), "job? #1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "bookmark.db")

	b, err := OpenFile(path, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if _, err := b.DB().Exec("CREATE TABLE x (id TEXT)"); err != nil {
		t.Fatalf("backend not writable: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created at the literal path: %v", err)
	}
}

func TestIsLocked(t *testing.T) {
	if IsLocked(nil) {
		t.Fatal("nil is not a lock error")
	}
	if IsLocked(errors.New("no such table")) {
		t.Fatal("arbitrary errors are not lock errors")
	}
	if !IsLocked(sqlite3.Error{Code: sqlite3.ErrBusy}) {
		t.Fatal("SQLITE_BUSY must classify as locked")
	}
	if !IsLocked(sqlite3.Error{Code: sqlite3.ErrLocked}) {
		t.Fatal("SQLITE_LOCKED must classify as locked")
	}
	if !IsLocked(errors.New("database is locked")) {
		t.Fatal("lock message must classify as locked")
	}
}

func TestRetryLocked_DoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	err := RetryLocked(discard(), 6, "test", func() error {
		calls++
		return errors.New("no such column")
	})
	if err == nil || calls != 1 {
		t.Fatalf("non-lock error retried: calls=%d err=%v", calls, err)
	}
}

func TestRetryLocked_RetriesUntilUnlocked(t *testing.T) {
	calls := 0
	err := RetryLocked(discard(), 6, "test", func() error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("lock error not retried to success: calls=%d err=%v", calls, err)
	}
}

func TestDetectUpserter_PrefersNativeOnModernEngines(t *testing.T) {
	b, _ := setupFile(t)

	// The bundled engine is far past 3.24.0.
	if !DetectUpserter(b.DB()).Native() {
		t.Fatal("modern engine should select the native dialect")
	}
}

func TestVersionAtLeast(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"3.24.0", true},
		{"3.46.1", true},
		{"4.0.0", true},
		{"3.23.1", false},
		{"3.8.11.1", false},
		{"", false},
	}
	for _, c := range cases {
		if got := versionAtLeast(c.raw, 3, 24, 0); got != c.want {
			t.Fatalf("versionAtLeast(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func upsertRoundTrip(t *testing.T, u Upserter) {
	t.Helper()
	b, _ := setupFile(t)
	if err := Migrate(b.DB(), discard(), 6); err != nil {
		t.Fatal(err)
	}

	exec := func(table schema.Table, key, id string, value any) {
		q, args := u.Build(table, key, id, value)
		if _, err := b.DB().Exec(q, args...); err != nil {
			t.Fatalf("upsert %s.%s: %v", table.Name, key, err)
		}
	}

	exec(schema.AssetTable, "description", "k1", "aGVsbG8=")
	// Writing a second column must not null the first.
	exec(schema.AssetTable, "sg_name", "k1", "c2hvdA==")

	var desc, name string
	err := b.DB().QueryRow("SELECT description, sg_name FROM AssetData WHERE id='k1'").
		Scan(&desc, &name)
	if err != nil {
		t.Fatal(err)
	}
	if desc != "aGVsbG8=" || name != "c2hvdA==" {
		t.Fatalf("columns clobbered: description=%q sg_name=%q", desc, name)
	}

	var n int
	if err := b.DB().QueryRow("SELECT COUNT(*) FROM AssetData").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("upsert created %d rows, want 1", n)
	}
}

func TestNativeUpsert_PreservesOtherColumns(t *testing.T) {
	upsertRoundTrip(t, nativeUpsert{})
}

func TestLegacyUpsert_PreservesOtherColumns(t *testing.T) {
	upsertRoundTrip(t, legacyUpsert{})
}

func TestLegacyUpsert_NilValueStoresNull(t *testing.T) {
	q, args := legacyUpsert{}.Build(schema.TemplateDataTable, "data", "k1", nil)
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := Migrate(db, discard(), 6); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(q, args...); err != nil {
		t.Fatal(err)
	}

	var data any
	if err := db.QueryRow("SELECT data FROM TemplateData WHERE id='k1'").Scan(&data); err != nil {
		t.Fatal(err)
	}
	if data != nil {
		t.Fatalf("nil value stored as %v, want NULL", data)
	}
}
