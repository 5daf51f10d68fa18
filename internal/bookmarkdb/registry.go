package bookmarkdb

import (
	"strings"
	"sync"

	"github.com/vfxpipe/bookmarkdb/internal/codec"
	"github.com/vfxpipe/bookmarkdb/internal/config"
	"github.com/vfxpipe/bookmarkdb/internal/pathkey"
)

// Registry caches one live controller per bookmark root. Construct one at
// application start and pass it to consumers; separate registries are fully
// isolated, so tests can run against their own.
//
// Controllers are safe for concurrent use, so a single cached instance
// serves every goroutine addressing the same root. The underlying pool
// guarantees no two operations share a raw sqlite connection.
type Registry struct {
	cfg  *config.Config
	keys *pathkey.Deriver
	cdc  *codec.Codec
	opts Options

	mu  sync.Mutex
	dbs map[string]*DB // normalized root path -> controller
}

// NewRegistry returns a registry for the given configuration. The path-key
// deriver and value codec (and their memo caches) are shared by every
// controller the registry constructs.
func NewRegistry(cfg *config.Config, opts Options) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Registry{
		cfg:  cfg,
		keys: pathkey.NewDeriver(cfg.Servers),
		cdc:  codec.New(cfg.Logger),
		opts: opts,
		dbs:  map[string]*DB{},
	}
}

// Get returns the cached controller for server/job/root, constructing one on
// first use. Construction never fails; an unreachable root yields a working
// memory-backed controller with IsValid() == false.
func (r *Registry) Get(server, job, root string) *DB {
	return r.get(server, job, root, false)
}

// GetForce closes any cached controller for server/job/root and constructs a
// fresh one, forcing a reconnection attempt.
func (r *Registry) GetForce(server, job, root string) *DB {
	return r.get(server, job, root, true)
}

func (r *Registry) get(server, job, root string, force bool) *DB {
	key := normalize(server + "/" + job + "/" + root)

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[key]; ok {
		if !force {
			return db
		}
		db.Close()
	}

	db := Open(server, job, root, r.cfg, r.keys, r.cdc, r.opts)
	r.dbs[key] = db
	return db
}

// Remove closes and evicts every cached controller whose root matches
// server/job/root, compared case-insensitively.
func (r *Registry) Remove(server, job, root string) {
	key := normalize(server + "/" + job + "/" + root)

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, db := range r.dbs {
		if !strings.EqualFold(k, key) {
			continue
		}
		db.Close()
		delete(r.dbs, k)
	}
}

// RemoveAll closes and evicts every cached controller. Called at shutdown
// and between tests.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, db := range r.dbs {
		db.Close()
		delete(r.dbs, k)
	}
}
