// Package pathkey derives stable row keys from file path strings.
//
// Keys are md5 hex digests of the normalized path. Normalization replaces
// backslashes with forward slashes and strips the first matching registered
// server mount prefix, so the same asset addressed through different mounts
// hashes identically. Paths under an unregistered mount are never stripped
// and therefore hash differently from their registered counterparts; that is
// a known limitation carried over from stores already in the wild.
package pathkey

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
)

// Deriver computes memoized row keys for a fixed set of server prefixes.
type Deriver struct {
	servers []string
	memo    sync.Map // raw input -> hex digest
}

// NewDeriver returns a Deriver for the given registered server prefixes.
// Prefixes are normalized the same way inputs are.
func NewDeriver(servers []string) *Deriver {
	d := &Deriver{servers: make([]string, 0, len(servers))}
	for _, s := range servers {
		s = strings.ReplaceAll(s, "\\", "/")
		if s != "" {
			d.servers = append(d.servers, s)
		}
	}
	return d
}

// Hash returns the hex row key for the given path. Hashing is hot-path
// (called for every visible item on every repaint upstream), so results are
// memoized by the raw input string.
func (d *Deriver) Hash(path string) string {
	if v, ok := d.memo.Load(path); ok {
		return v.(string)
	}

	k := strings.ReplaceAll(path, "\\", "/")
	for _, s := range d.servers {
		if strings.HasPrefix(k, s) {
			k = strings.TrimLeft(k[len(s):], "/")
			break
		}
	}

	sum := md5.Sum([]byte(k))
	digest := hex.EncodeToString(sum[:])
	d.memo.Store(path, digest)
	return digest
}
