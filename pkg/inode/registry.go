package inode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weberc2/sectorfs/pkg/bcache"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/math"
	. "github.com/weberc2/sectorfs/pkg/types"
)

// Allocator hands out contiguous runs of free sectors.
type Allocator interface {
	Allocate(count Sector) (Sector, error)
	Release(start, count Sector) error
}

const LengthErr ConstError = "invalid inode length"

// Registry creates inodes and tracks the open ones. At most one `*Inode`
// exists per metadata sector at a time.
type Registry struct {
	cache *bcache.Cache
	alloc Allocator
	lock  sync.Mutex
	open  map[Sector]*Inode
}

func NewRegistry(cache *bcache.Cache, alloc Allocator) *Registry {
	return &Registry{
		cache: cache,
		alloc: alloc,
		open:  make(map[Sector]*Inode),
	}
}

// Create writes a new inode record to `sector` with a zero-filled extent
// large enough for `length` bytes. A failed create leaves no sectors
// allocated.
func (r *Registry) Create(sector Sector, length Byte, isDir bool) error {
	if sector >= r.cache.Sectors() {
		return fmt.Errorf(
			"creating inode at sector `%d`: %w",
			sector,
			device.OutOfRangeErr,
		)
	}
	if length < 0 || length > MaxLength {
		return fmt.Errorf(
			"creating inode at sector `%d` with length `%d`: %w",
			sector,
			length,
			LengthErr,
		)
	}

	d := Disk{Length: length, Magic: Magic, IsDirectory: isDir}
	if sectors := Sector(math.DivRoundUp(length, SectorSize)); sectors > 0 {
		start, err := r.alloc.Allocate(sectors)
		if err != nil {
			return fmt.Errorf(
				"creating inode at sector `%d`: allocating `%d` sectors: %w",
				sector,
				sectors,
				err,
			)
		}
		var zeros SectorBuffer
		for i := Sector(0); i < sectors; i++ {
			r.cache.Write(start+i, zeros[:], 0)
		}
		d.ExtentStart = start
	}

	var b SectorBuffer
	EncodeDisk(&d, &b)
	r.cache.Write(sector, b[:], 0)
	return nil
}

// Open returns the open inode for `sector`, loading it if nobody has it
// open. A sector that doesn't hold an inode record is fatal.
func (r *Registry) Open(sector Sector) (*Inode, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if in, ok := r.open[sector]; ok {
		in.lock.Lock()
		in.openCount++
		in.lock.Unlock()
		return in, nil
	}

	if sector >= r.cache.Sectors() {
		return nil, fmt.Errorf(
			"opening inode at sector `%d`: %w",
			sector,
			device.OutOfRangeErr,
		)
	}

	var b SectorBuffer
	r.cache.Read(sector, b[:], 0)
	in := &Inode{registry: r, sector: sector, openCount: 1}
	if err := DecodeDisk(&in.disk, &b); err != nil {
		panic(fmt.Errorf("opening inode at sector `%d`: %w", sector, err))
	}
	r.open[sector] = in
	return in, nil
}

// OpenInodes returns the metadata sectors of every open inode in ascending
// order.
func (r *Registry) OpenInodes() []Sector {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]Sector, 0, len(r.open))
	for sector := range r.open {
		out = append(out, sector)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup returns the open inode for `sector` without changing its open
// count.
func (r *Registry) Lookup(sector Sector) (*Inode, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	in, ok := r.open[sector]
	return in, ok
}

func (r *Registry) close(in *Inode) error {
	r.lock.Lock()
	in.lock.Lock()
	if in.openCount < 1 {
		in.lock.Unlock()
		r.lock.Unlock()
		panic(fmt.Sprintf("closing inode `%d`: not open", in.sector))
	}
	in.openCount--
	if in.denyWriteCount > in.openCount {
		in.lock.Unlock()
		r.lock.Unlock()
		panic(fmt.Sprintf(
			"closing inode `%d`: `%d` writers still denied with `%d` openers",
			in.sector,
			in.denyWriteCount,
			in.openCount,
		))
	}
	if in.openCount > 0 {
		in.lock.Unlock()
		r.lock.Unlock()
		return nil
	}
	delete(r.open, in.sector)
	removed, d := in.removed, in.disk
	in.lock.Unlock()
	r.lock.Unlock()

	if !removed {
		return nil
	}
	if sectors := Sector(math.DivRoundUp(d.Length, SectorSize)); sectors > 0 {
		if err := r.alloc.Release(d.ExtentStart, sectors); err != nil {
			return fmt.Errorf(
				"releasing extent of removed inode `%d`: %w",
				in.sector,
				err,
			)
		}
	}
	if err := r.alloc.Release(in.sector, 1); err != nil {
		return fmt.Errorf(
			"releasing metadata sector of removed inode `%d`: %w",
			in.sector,
			err,
		)
	}
	return nil
}
