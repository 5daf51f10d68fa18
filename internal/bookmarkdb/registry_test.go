package bookmarkdb

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

func setupRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	server := t.TempDir()
	if err := os.MkdirAll(filepath.Join(server, "job1", "root1"), 0755); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(testConfig(), Options{})
	t.Cleanup(r.RemoveAll)
	return r, server
}

func TestRegistry_GetCachesPerRoot(t *testing.T) {
	r, server := setupRegistry(t)

	a := r.Get(server, "job1", "root1")
	b := r.Get(server, "job1", "root1")
	if a != b {
		t.Fatal("Get must return the cached controller for the same root")
	}
}

func TestRegistry_GetForceReplaces(t *testing.T) {
	r, server := setupRegistry(t)

	a := r.Get(server, "job1", "root1")
	b := r.GetForce(server, "job1", "root1")
	if a == b {
		t.Fatal("GetForce must construct a fresh controller")
	}
	if !b.IsValid() {
		t.Fatal("replacement controller must be usable")
	}
	// The evicted controller was closed.
	if a.conn() != nil {
		t.Fatal("evicted controller left open")
	}
}

func TestRegistry_RemoveIsCaseInsensitive(t *testing.T) {
	r, server := setupRegistry(t)

	db := r.Get(server, "job1", "root1")
	r.Remove(server, "JOB1", "ROOT1")

	if db.conn() != nil {
		t.Fatal("Remove must close the matching controller")
	}
	if r.Get(server, "job1", "root1") == db {
		t.Fatal("Remove must evict the matching controller")
	}
}

func TestRegistry_RemoveAll(t *testing.T) {
	r, server := setupRegistry(t)
	if err := os.MkdirAll(filepath.Join(server, "job2", "root1"), 0755); err != nil {
		t.Fatal(err)
	}

	a := r.Get(server, "job1", "root1")
	b := r.Get(server, "job2", "root1")
	r.RemoveAll()

	if a.conn() != nil || b.conn() != nil {
		t.Fatal("RemoveAll must close every controller")
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r, server := setupRegistry(t)

	const n = 16
	var wg sync.WaitGroup
	dbs := make([]*DB, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dbs[i] = r.Get(server, "job1", "root1")
		}()
	}
	wg.Wait()

	for i, db := range dbs {
		if db == nil {
			t.Fatalf("goroutine %d got no controller", i)
		}
		v, err := db.Value(db.Source("probe"), "description", schema.AssetTable)
		require.NoError(t, err)
		require.Nil(t, v)
	}
}

func TestRegistry_IsolatedPerInstance(t *testing.T) {
	_, server := setupRegistry(t)

	r1 := NewRegistry(testConfig(), Options{})
	r2 := NewRegistry(testConfig(), Options{})
	t.Cleanup(r1.RemoveAll)
	t.Cleanup(r2.RemoveAll)

	a := r1.Get(server, "job1", "root1")
	b := r2.Get(server, "job1", "root1")
	if a == b {
		t.Fatal("separate registries must not share controllers")
	}

	// Both point at the same file, so data written through one is visible
	// through the other.
	source := a.Source("shared")
	require.NoError(t, a.SetValue(source, "description", "cross", schema.AssetTable))
	v, err := b.Value(source, "description", schema.AssetTable)
	require.NoError(t, err)
	require.Equal(t, "cross", v)
}
