// SPDX-License-Identifier: MPL-2.0

package cachefile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// FileName is the name of the cache file inside the cache directory.
const FileName = "varcache.bin"

// Cache holds scan records keyed by UID and persists them to a single file.
// All methods are safe for concurrent use.
type Cache struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	records map[varpkg.UID]Record
	// gen increments on every mutation; Flush clears dirty only when no
	// mutation happened while it was writing.
	gen   uint64
	dirty bool

	flushMu sync.Mutex
}

// New creates an empty cache persisted at path. Call Load to read it.
func New(path string, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Cache{
		path:    path,
		logger:  logger,
		records: make(map[varpkg.UID]Record),
	}
}

// Path returns the cache file location.
func (c *Cache) Path() string { return c.path }

// Load replaces the in-memory state with the file contents. A missing file
// is an empty cache. A damaged file is logged, the cache starts empty, and
// the error is returned for callers that want to surface it.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.reset(nil, false)
		return nil
	}
	if err != nil {
		c.logger.Warn("cache unreadable, starting empty", "path", c.path, "error", err)
		c.reset(nil, false)
		return fmt.Errorf("read cache %s: %w", c.path, err)
	}
	if len(data) == 0 {
		c.reset(nil, false)
		return nil
	}

	records, legacy, err := decode(data)
	if err != nil {
		c.logger.Warn("cache damaged, starting empty", "path", c.path, "error", err)
		c.reset(nil, true)
		return fmt.Errorf("decode cache %s: %w", c.path, err)
	}
	if legacy {
		c.logger.Info("legacy cache layout, records will be rebuilt", "path", c.path, "records", len(records))
	}
	c.reset(records, legacy)
	c.logger.Debug("cache loaded", "path", c.path, "records", len(records))
	return nil
}

func (c *Cache) reset(records map[varpkg.UID]Record, dirty bool) {
	if records == nil {
		records = make(map[varpkg.UID]Record)
	}
	c.mu.Lock()
	c.records = records
	c.dirty = dirty
	c.gen++
	c.mu.Unlock()
}

// Get returns the record for uid when its fingerprint equals (size, modTicks).
func (c *Cache) Get(uid varpkg.UID, size, modTicks int64) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[uid]
	if !ok || !rec.Matches(size, modTicks) {
		return Record{}, false
	}
	return rec, true
}

// Put stores rec under uid and marks the cache dirty.
func (c *Cache) Put(uid varpkg.UID, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[uid] = rec
	c.markDirtyLocked()
}

// Delete removes the record for uid.
func (c *Cache) Delete(uid varpkg.UID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[uid]; ok {
		delete(c.records, uid)
		c.markDirtyLocked()
	}
}

// Prune drops every record whose UID keep rejects and returns how many
// were removed.
func (c *Cache) Prune(keep func(varpkg.UID) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for uid := range c.records {
		if !keep(uid) {
			delete(c.records, uid)
			removed++
		}
	}
	if removed > 0 {
		c.markDirtyLocked()
	}
	return removed
}

func (c *Cache) markDirtyLocked() {
	c.dirty = true
	c.gen++
}

// Len returns the number of records held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Dirty reports whether there are changes not yet flushed.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Flush writes the full record set to disk when dirty. The file is written
// to "<path>.tmp", synced, and renamed over the target, so a crash leaves
// the previous file intact. A failure keeps the cache dirty.
func (c *Cache) Flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	data := encode(c.records)
	c.mu.Unlock()

	if err := writeAtomic(c.path, data); err != nil {
		c.logger.Error("cache flush failed, keeping in-memory state", "path", c.path, "error", err)
		return err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.dirty = false
	}
	c.mu.Unlock()
	c.logger.Debug("cache flushed", "path", c.path, "bytes", len(data))
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}
