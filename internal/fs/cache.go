// Package fs implements the on-disk filesystem: a 64-entry write-back
// block cache in front of a sector device, an indexed inode with
// direct/indirect/doubly-indirect pointers, and a directory layer
// built as files of directory entries, mirroring filesys/cache.c,
// filesys/inode.c and filesys/directory.c.
package fs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/metrics"
)

const SectorSize = 512

// BlockDevice is the sector-addressable device the cache sits in
// front of.
type BlockDevice interface {
	ReadSector(idx int, buf []byte) error
	WriteSector(idx int, buf []byte) error
	SectorCount() int
}

type cacheEntry struct {
	sector     uint32
	payload    [SectorSize]byte
	accessed   bool
	dirty      bool
	accessTime int64
}

// Cache is a fixed-capacity write-back buffer cache keyed by sector
// number. Eviction takes the least-recently-accessed entry: the victim
// scan would prefer an entry whose accessed flag is clear, but every
// fetch and hit sets that flag and nothing clears it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  []*cacheEntry
	disk     BlockDevice
	clk      clock.Clock
	metrics  *metrics.Registry
}

// NewCache constructs an empty Cache of the given capacity in front of
// disk.
func NewCache(capacity int, disk BlockDevice, clk clock.Clock, m *metrics.Registry) *Cache {
	return &Cache{capacity: capacity, disk: disk, clk: clk, metrics: m}
}

func (c *Cache) find(sector uint32) *cacheEntry {
	for _, e := range c.entries {
		if e.sector == sector {
			return e
		}
	}
	return nil
}

// Read copies sector's current contents (fetching it on a miss) into
// buf, which must be SectorSize bytes.
func (c *Cache) Read(sector uint32, buf []byte) error {
	e, err := c.entryFor(sector, false)
	if err != nil {
		return err
	}
	copy(buf, e.payload[:])
	return nil
}

// Write copies buf (SectorSize bytes) into the cached copy of sector
// (fetching it on a miss first) and marks it dirty; it is not written
// through to disk until evicted or Flush is called.
func (c *Cache) Write(sector uint32, buf []byte) error {
	e, err := c.entryFor(sector, true)
	if err != nil {
		return err
	}
	copy(e.payload[:], buf)
	return nil
}

func (c *Cache) entryFor(sector uint32, markDirty bool) (*cacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.find(sector); e != nil {
		e.accessed = true
		e.accessTime = c.clk.Now().UnixNano()
		e.dirty = e.dirty || markDirty
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return e, nil
	}

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	var e *cacheEntry
	freshSlot := false
	if len(c.entries) < c.capacity {
		e = &cacheEntry{}
		c.entries = append(c.entries, e)
		freshSlot = true
	} else {
		e = c.evictLocked()
	}

	// Read into a scratch buffer first: unlike disk_read in the
	// original, ReadSector can fail, and e must keep claiming its
	// previous (already-flushed, still-valid) sector until a new read
	// actually succeeds rather than being relabeled onto sector's
	// number with stale payload.
	var payload [SectorSize]byte
	if err := c.disk.ReadSector(int(sector), payload[:]); err != nil {
		if freshSlot {
			c.entries = c.entries[:len(c.entries)-1]
		}
		return nil, fmt.Errorf("fs: cache fetch of sector %d: %w", sector, err)
	}
	e.sector = sector
	e.payload = payload
	e.accessed = true
	e.dirty = markDirty
	e.accessTime = c.clk.Now().UnixNano()
	return e, nil
}

// evictLocked picks a victim (first unaccessed entry, else the
// least-recently-accessed one), flushing it if dirty, and returns it
// for reuse. c.mu is held by the caller.
func (c *Cache) evictLocked() *cacheEntry {
	for _, e := range c.entries {
		if !e.accessed {
			c.flushEntryLocked(e)
			return e
		}
	}
	victim := c.entries[0]
	for _, e := range c.entries[1:] {
		if e.accessTime < victim.accessTime {
			victim = e
		}
	}
	c.flushEntryLocked(victim)
	if c.metrics != nil {
		c.metrics.CacheEvictions.Inc()
	}
	return victim
}

func (c *Cache) flushEntryLocked(e *cacheEntry) {
	if !e.dirty {
		return
	}
	if err := c.disk.WriteSector(int(e.sector), e.payload[:]); err != nil {
		panic(fmt.Sprintf("fs: cache write-back of sector %d failed: %v", e.sector, err))
	}
	e.dirty = false
}

// Flush writes every dirty entry back to disk, for a clean shutdown.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append([]*cacheEntry(nil), c.entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].sector < entries[j].sector })
	for _, e := range entries {
		c.flushEntryLocked(e)
	}
}
