package bcache

import (
	"fmt"
	"sync"

	"github.com/weberc2/sectorfs/pkg/device"
	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	DefaultCapacity = 64

	InvalidEntryErr ConstError = "cache entry is not in use"
	BoundsErr       ConstError = "access exceeds sector bounds"
)

// Cache is a fixed-capacity write-back cache of disk sectors. Entries are
// evicted in insertion order. Every sector-granular access goes through
// `Read` or `Write`, which never fail; device errors are fatal.
type Cache struct {
	// Logger, if set, receives a line for each dirty sector written back
	// while closing, and one for a write-back that fails.
	Logger func(format string, v ...interface{})

	device    device.BlockDevice
	lock      sync.Mutex
	cond      *sync.Cond
	lookup    map[Sector]*entry
	order     list
	allocator allocator

	// flushing holds the sectors of evicted dirty entries whose write-back
	// is still in progress. Loading one of these sectors must wait, or the
	// load would see the stale on-disk copy.
	flushing map[Sector]struct{}

	stats Stats
}

type Stats struct {
	Capacity   int    `json:"capacity"`
	Resident   int    `json:"resident"`
	Dirty      int    `json:"dirty"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	WriteBacks uint64 `json:"writeBacks"`
}

// Entry is a snapshot of a resident cache entry's metadata.
type Entry struct {
	Sector           Sector `json:"sector"`
	Dirty            bool   `json:"dirty"`
	RecentlyAccessed bool   `json:"recentlyAccessed"`
}

func New(dev device.BlockDevice, capacity int) *Cache {
	if capacity < 1 {
		panic(fmt.Sprintf("invalid cache capacity: `%d`", capacity))
	}
	c := &Cache{
		device:    dev,
		lookup:    make(map[Sector]*entry, capacity),
		allocator: newAllocator(capacity),
		flushing:  make(map[Sector]struct{}),
	}
	c.cond = sync.NewCond(&c.lock)
	return c
}

// Lookup probes the index without affecting eviction order.
func (c *Cache) Lookup(sector Sector) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, ok := c.lookup[sector]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Sector:           e.sector,
		Dirty:            e.dirty,
		RecentlyAccessed: e.recentlyAccessed,
	}, true
}

// Read copies `len(dest)` bytes starting at `offset` within `sector` into
// `dest`.
func (c *Cache) Read(sector Sector, dest []byte, offset Byte) {
	checkBounds(sector, offset, len(dest))
	e := c.acquire(sector, true)
	copy(dest, e.data[offset:offset+Byte(len(dest))])
	c.release(e, false)
}

// Write copies `src` into the cached copy of `sector` at `offset` and marks
// the entry dirty. The change reaches the device no later than the entry's
// eviction (or the next `Flush`). A write that covers the whole sector skips
// the device read.
func (c *Cache) Write(sector Sector, src []byte, offset Byte) {
	checkBounds(sector, offset, len(src))
	whole := offset == 0 && Byte(len(src)) == SectorSize
	e := c.acquire(sector, !whole)
	copy(e.data[offset:], src)
	c.release(e, true)
}

// EvictOne evicts the oldest resident entry, writing it back first if it is
// dirty. It returns the evicted sector, or false if nothing is resident.
func (c *Cache) EvictOne() (Sector, bool) {
	c.lock.Lock()
	if c.order.head == nil {
		c.lock.Unlock()
		return 0, false
	}
	e, dirty := c.evictLocked()
	c.lock.Unlock()

	sector := e.sector
	if dirty {
		c.writeBack(sector, &e.data)
	}

	c.lock.Lock()
	c.allocator.release(e)
	c.cond.Broadcast()
	c.lock.Unlock()
	return sector, true
}

// Flush writes back every dirty entry. Entries stay resident.
func (c *Cache) Flush() error {
	_, err := c.flush()
	return err
}

// Close flushes all dirty entries. It is called on orderly shutdown; the
// cache remains usable afterwards.
func (c *Cache) Close() error {
	flushed, err := c.flush()
	for _, sector := range flushed {
		c.logf("wrote back dirty sector `%d` on close", sector)
	}
	if err != nil {
		c.logf("closing cache: %v", err)
	}
	return err
}

func (c *Cache) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	stats := c.stats
	stats.Capacity = c.allocator.capacity()
	stats.Resident = len(c.lookup)
	for _, e := range c.lookup {
		if e.dirty {
			stats.Dirty++
		}
	}
	return stats
}

// Sectors returns the size of the underlying device.
func (c *Cache) Sectors() Sector { return c.device.Sectors() }

// Resident returns the resident sectors in eviction order.
func (c *Cache) Resident() []Sector {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]Sector, 0, len(c.lookup))
	for e := c.order.head; e != nil; e = e.next {
		out = append(out, e.sector)
	}
	return out
}

// acquire returns the pinned entry for `sector`, loading it on a miss. If
// `fill` is false, a freshly loaded entry is zeroed instead of read from the
// device.
func (c *Cache) acquire(sector Sector, fill bool) *entry {
	c.lock.Lock()
	for {
		if e, ok := c.lookup[sector]; ok {
			if e.busy {
				c.cond.Wait()
				continue
			}
			if !e.inUse {
				c.lock.Unlock()
				panic(fmt.Errorf(
					"acquiring sector `%d`: %w",
					sector,
					InvalidEntryErr,
				))
			}
			e.busy = true
			e.recentlyAccessed = true
			c.stats.Hits++
			c.lock.Unlock()
			return e
		}

		if _, ok := c.flushing[sector]; ok {
			c.cond.Wait()
			continue
		}

		var (
			victim      Sector
			victimDirty bool
		)
		e := c.allocator.alloc()
		if e == nil {
			if c.order.oldestIdle() == nil {
				c.cond.Wait()
				continue
			}
			e, victimDirty = c.evictLocked()
			victim = e.sector
		}

		c.stats.Misses++
		e.sector = sector
		e.inUse = true
		e.busy = true
		e.dirty = false
		e.recentlyAccessed = true
		c.lookup[sector] = e
		c.order.pushBack(e)
		c.lock.Unlock()

		if victimDirty {
			c.writeBack(victim, &e.data)
		}

		if fill {
			if err := c.device.ReadSector(sector, &e.data); err != nil {
				panic(fmt.Errorf("filling cache entry: %w", err))
			}
		} else {
			e.data = SectorBuffer{}
		}
		return e
	}
}

func (c *Cache) release(e *entry, dirty bool) {
	c.lock.Lock()
	e.busy = false
	if dirty {
		e.dirty = true
	}
	c.cond.Broadcast()
	c.lock.Unlock()
}

// evictLocked removes the oldest idle entry from the index and the list. If
// it was dirty, its sector is marked as flushing and the caller must call
// `writeBack` before reusing the entry. The caller must hold the lock and
// ensure an idle entry exists.
func (c *Cache) evictLocked() (*entry, bool) {
	for c.order.oldestIdle() == nil {
		c.cond.Wait()
	}
	e := c.order.oldestIdle()
	c.order.unlink(e)
	delete(c.lookup, e.sector)
	c.stats.Evictions++

	dirty := e.dirty
	e.dirty = false
	e.inUse = false
	e.busy = true
	if dirty {
		c.flushing[e.sector] = struct{}{}
	}
	return e, dirty
}

// writeBack writes an evicted entry's data to the device and clears the
// sector's flushing mark. Must be called without the lock.
func (c *Cache) writeBack(sector Sector, data *SectorBuffer) {
	if err := c.device.WriteSector(sector, data); err != nil {
		panic(fmt.Errorf("writing back evicted sector: %w", err))
	}
	c.lock.Lock()
	delete(c.flushing, sector)
	c.stats.WriteBacks++
	c.cond.Broadcast()
	c.lock.Unlock()
}

func (c *Cache) flush() ([]Sector, error) {
	c.lock.Lock()
	dirty := make([]Sector, 0)
	for e := c.order.head; e != nil; e = e.next {
		if e.dirty {
			dirty = append(dirty, e.sector)
		}
	}
	c.lock.Unlock()

	var flushed []Sector
	for _, sector := range dirty {
		c.lock.Lock()
		e, ok := c.lookup[sector]
		for ok && e.busy {
			c.cond.Wait()
			e, ok = c.lookup[sector]
		}
		if !ok || !e.dirty {
			// evicted (and therefore written back) in the meantime
			c.lock.Unlock()
			continue
		}
		e.busy = true
		c.lock.Unlock()

		err := c.device.WriteSector(sector, &e.data)

		c.lock.Lock()
		e.busy = false
		if err == nil {
			e.dirty = false
			c.stats.WriteBacks++
		}
		c.cond.Broadcast()
		c.lock.Unlock()

		if err != nil {
			return flushed, fmt.Errorf("flushing sector `%d`: %w", sector, err)
		}
		flushed = append(flushed, sector)
	}
	return flushed, nil
}

func (c *Cache) logf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger(format, v...)
	}
}

func checkBounds(sector Sector, offset Byte, length int) {
	if offset < 0 || offset+Byte(length) > SectorSize {
		panic(fmt.Errorf(
			"accessing `%d` bytes at offset `%d` of sector `%d`: %w",
			length,
			offset,
			sector,
			BoundsErr,
		))
	}
}
