package breakpoints

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// cacheEntry is the persisted per-file scan result. An entry with an
// empty MapURL records that the file carries no source map, so
// unchanged plain scripts are not re-read on the next launch.
type cacheEntry struct {
	MTime   int64    `msgpack:"mtime"`
	MapURL  string   `msgpack:"mapUrl"`
	Sources []string `msgpack:"sources"`
}

// Cache persists predictor scan results between sessions, one file per
// workspace root. Entries are invalidated per file when the recorded
// mtime no longer matches disk.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]cacheEntry
	dirty   bool
}

// OpenCache loads the persisted cache for a workspace root, starting
// empty when the file is missing or unreadable.
func OpenCache(dir, workspaceRoot string) *Cache {
	sum := sha256.Sum256([]byte(workspaceRoot))
	c := &Cache{
		path:    filepath.Join(dir, "bp-predict-"+hex.EncodeToString(sum[:8])+".msgpack"),
		entries: make(map[string]cacheEntry),
	}
	if data, err := os.ReadFile(c.path); err == nil {
		var entries map[string]cacheEntry
		if msgpack.Unmarshal(data, &entries) == nil && entries != nil {
			c.entries = entries
		}
	}
	return c
}

// Lookup returns the entry for a file when its recorded mtime matches.
func (c *Cache) Lookup(path string, mtime int64) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || e.MTime != mtime {
		return cacheEntry{}, false
	}
	return e, true
}

// Store records the scan result for a file.
func (c *Cache) Store(path string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = e
	c.dirty = true
}

// Invalidate drops the entry for a file.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.dirty = true
	}
}

// Save writes the cache back to disk when anything changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := msgpack.Marshal(c.entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
