package freemap

import (
	"fmt"
	"sync"

	"github.com/weberc2/sectorfs/pkg/inode"
	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	NoSpaceErr      ConstError = "no contiguous run of free sectors"
	NotAllocatedErr ConstError = "sector is not allocated"
	OutOfRangeErr   ConstError = "sector range out of bounds"
	CorruptErr      ConstError = "free map record is corrupt"
)

type Store interface {
	Put(Bitmap) error
}

// Map allocates contiguous runs of sectors. Changes are buffered until
// `Flush`.
type Map struct {
	bitmap Bitmap
	store  Store
	mutex  sync.Mutex
	dirty  bool
}

var _ inode.Allocator = (*Map)(nil)

// New returns a map of `sectors` free sectors with the free-map and root
// directory sectors reserved. `store` may be nil until `SetStore` or `Load`.
func New(sectors Sector, store Store) *Map {
	m := &Map{bitmap: NewBitmap(uint64(sectors)), store: store, dirty: true}
	m.bitmap.Set(uint64(FreeMapSector))
	m.bitmap.Set(uint64(RootDirSector))
	return m
}

func (m *Map) SetStore(store Store) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.store = store
}

func (m *Map) Allocate(count Sector) (Sector, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	start, ok := m.bitmap.FindRun(uint64(count))
	if !ok {
		return 0, fmt.Errorf("allocating `%d` sectors: %w", count, NoSpaceErr)
	}
	for i := start; i < start+uint64(count); i++ {
		m.bitmap.Set(i)
	}
	m.dirty = true
	return Sector(start), nil
}

// Release frees a run of sectors. Nothing changes if any sector in the run
// isn't allocated.
func (m *Map) Release(start, count Sector) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	end := uint64(start) + uint64(count)
	if end > m.bitmap.Len() {
		return fmt.Errorf(
			"releasing `%d` sectors at `%d`: %w",
			count,
			start,
			OutOfRangeErr,
		)
	}
	for i := uint64(start); i < end; i++ {
		if !m.bitmap.Test(i) {
			return fmt.Errorf(
				"releasing `%d` sectors at `%d`: sector `%d`: %w",
				count,
				start,
				i,
				NotAllocatedErr,
			)
		}
	}
	for i := uint64(start); i < end; i++ {
		m.bitmap.Clear(i)
	}
	m.dirty = true
	return nil
}

func (m *Map) IsAllocated(sector Sector) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.bitmap.Test(uint64(sector))
}

// Free returns the number of free sectors.
func (m *Map) Free() Sector {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return Sector(m.bitmap.Len() - m.bitmap.CountSet())
}

// Len returns the size of the volume in sectors.
func (m *Map) Len() Sector {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return Sector(m.bitmap.Len())
}

func (m *Map) Flush() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.dirty {
		if m.store == nil {
			return fmt.Errorf("flushing free map: no store")
		}
		if err := m.store.Put(m.bitmap); err != nil {
			return fmt.Errorf("flushing free map: %w", err)
		}
		m.dirty = false
	}
	return nil
}

// Load replaces the map's contents with the record stored in `in`, and uses
// `in` as the map's store from then on. The map takes the volume size from
// the record.
func (m *Map) Load(in *inode.Inode) error {
	var header [recordSectorsSize]byte
	if n := in.ReadAt(header[:], recordSectorsStart); n != recordSectorsSize {
		return fmt.Errorf(
			"loading free map: reading header: read `%d` of `%d` bytes: %w",
			n,
			recordSectorsSize,
			CorruptErr,
		)
	}
	sectors := decodeSectors(&header)
	if sectors <= RootDirSector || RecordSize(sectors) > in.Length() {
		return fmt.Errorf(
			"loading free map: `%d` sectors need `%d` bytes; inode has "+
				"`%d`: %w",
			sectors,
			RecordSize(sectors),
			in.Length(),
			CorruptErr,
		)
	}

	bitmap := NewBitmap(uint64(sectors))
	if n := in.ReadAt(bitmap.Bytes(), recordBitmapStart); n != Byte(
		len(bitmap.Bytes()),
	) {
		return fmt.Errorf(
			"loading free map: read `%d` of `%d` bitmap bytes: %w",
			n,
			len(bitmap.Bytes()),
			CorruptErr,
		)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.bitmap = bitmap
	m.store = &InodeStore{Inode: in}
	m.dirty = false
	return nil
}

// InodeStore persists the free-map record in the extent of an open inode.
type InodeStore struct {
	Inode *inode.Inode
}

func (s *InodeStore) Put(bm Bitmap) error {
	record := encodeRecord(bm)
	if n := s.Inode.WriteAt(record, 0); n != Byte(len(record)) {
		return fmt.Errorf(
			"writing free map to inode `%d`: wrote `%d` of `%d` bytes",
			s.Inode.Inumber(),
			n,
			len(record),
		)
	}
	return nil
}
