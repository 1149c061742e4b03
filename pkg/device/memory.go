package device

import (
	"fmt"
	"sync"

	. "github.com/weberc2/sectorfs/pkg/types"
)

// Memory is a ramdisk.
type Memory struct {
	lock sync.RWMutex
	data []byte
}

func NewMemory(sectors Sector) *Memory {
	return &Memory{data: make([]byte, Byte(sectors)*SectorSize)}
}

// NewMemoryFromBytes wraps an existing image. The length of `data` must be a
// multiple of the sector size.
func NewMemoryFromBytes(data []byte) (*Memory, error) {
	if Byte(len(data))%SectorSize != 0 {
		return nil, fmt.Errorf(
			"creating ramdisk from `%d` bytes: size is not a multiple of "+
				"`%d`",
			len(data),
			SectorSize,
		)
	}
	return &Memory{data: data}, nil
}

func (m *Memory) Sectors() Sector {
	return Sector(Byte(len(m.data)) / SectorSize)
}

func (m *Memory) ReadSector(sector Sector, b *SectorBuffer) error {
	if err := checkRange(m, sector); err != nil {
		return fmt.Errorf("reading sector `%d` from ramdisk: %w", sector, err)
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	start := Byte(sector) * SectorSize
	copy(b[:], m.data[start:start+SectorSize])
	return nil
}

func (m *Memory) WriteSector(sector Sector, b *SectorBuffer) error {
	if err := checkRange(m, sector); err != nil {
		return fmt.Errorf("writing sector `%d` to ramdisk: %w", sector, err)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	start := Byte(sector) * SectorSize
	copy(m.data[start:start+SectorSize], b[:])
	return nil
}

// Bytes returns the backing image. Callers must not mutate it while the
// device is in use.
func (m *Memory) Bytes() []byte { return m.data }
