// Package cache persists per-file line statistics between runs so unchanged
// files are never re-read. The on-disk file is JSON guarded by an OS file
// lock; a run whose counting configuration differs starts cold.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/doraemonkeys/sloc-guard/internal/classify"
)

// Version is bumped whenever the entry schema changes. Old caches are
// discarded, never migrated.
const Version = 3

// DefaultLockTimeout bounds how long a run waits for the cache file lock.
const DefaultLockTimeout = 250 * time.Millisecond

const lockRetryInterval = 25 * time.Millisecond

// Entry is the cached classification of one file.
type Entry struct {
	Mtime       int64              `json:"mtime"`
	Size        int64              `json:"size"`
	SHA256      string             `json:"sha256"`
	Stats       classify.LineStats `json:"stats"`
	IgnoredFile bool               `json:"ignored_file,omitempty"`
}

type fileFormat struct {
	Version    int              `json:"version"`
	ConfigHash string           `json:"config_hash"`
	Files      map[string]Entry `json:"files"`
}

// Cache is the process-wide result cache. All access is mutex-serialised;
// critical sections only copy values.
type Cache struct {
	mu          sync.Mutex
	path        string
	configHash  string
	entries     map[string]Entry
	dirty       bool
	lockTimeout time.Duration
	logger      *logrus.Logger

	hits   int
	misses int
}

// Open loads the cache at path, discarding it when the schema version or the
// counting-config hash differ. A missing or unreadable file yields an empty
// cache, never an error.
func Open(path, configHash string, lockTimeout time.Duration, logger *logrus.Logger) *Cache {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	c := &Cache{
		path:        path,
		configHash:  configHash,
		entries:     map[string]Entry{},
		lockTimeout: lockTimeout,
		logger:      logger,
	}
	c.load()
	return c
}

func (c *Cache) load() {
	lock := flock.New(c.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), c.lockTimeout)
	defer cancel()
	locked, err := lock.TryRLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		// Reading without the lock beats blocking the whole run.
		c.logger.WithField("path", c.path).Debug("Cache lock unavailable, reading unlocked")
	} else {
		defer lock.Unlock()
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.WithField("path", c.path).Debug("Cache file unreadable, starting cold")
		return
	}
	if f.Version != Version || f.ConfigHash != c.configHash {
		c.logger.WithFields(logrus.Fields{
			"cache_version": f.Version,
			"want_version":  Version,
		}).Debug("Cache invalidated")
		return
	}
	if f.Files != nil {
		c.entries = f.Files
	}
}

// Lookup returns the cached stats for a path whose mtime and size are
// unchanged. The file is not read on a hit.
func (c *Cache) Lookup(path string, mtime time.Time, size int64) (Entry, bool) {
	key := filepath.ToSlash(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && e.Mtime == mtime.UnixNano() && e.Size == size {
		c.hits++
		return e, true
	}
	c.misses++
	return Entry{}, false
}

// LookupByHash handles the touched-but-unchanged case: the mtime moved but
// the content hash still matches. The entry's mtime and size are refreshed.
func (c *Cache) LookupByHash(path, sha256 string, mtime time.Time, size int64) (Entry, bool) {
	key := filepath.ToSlash(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.SHA256 != sha256 {
		return Entry{}, false
	}
	e.Mtime = mtime.UnixNano()
	e.Size = size
	c.entries[key] = e
	c.dirty = true
	c.hits++
	c.misses-- // undo the Lookup miss that led here
	return e, true
}

// Store records a fresh classification.
func (c *Cache) Store(path string, e Entry) {
	key := filepath.ToSlash(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.dirty = true
}

// Stats reports hit and miss counts for the run.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Save writes the cache back if anything changed. The write is atomic and
// happens under an exclusive lock; when the lock cannot be had in time the
// save is skipped with a warning rather than risking a torn file.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	lock := flock.New(c.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), c.lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		c.logger.WithField("path", c.path).Warn("Cache lock held by another process, skipping save")
		return nil
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(fileFormat{
		Version:    Version,
		ConfigHash: c.configHash,
		Files:      c.entries,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return err
	}
	c.dirty = false
	return nil
}

// Clear drops every entry. The next Save persists the empty cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return
	}
	c.entries = map[string]Entry{}
	c.dirty = true
}
