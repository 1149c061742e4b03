package testsupport

import (
	"sync"

	"github.com/weberc2/sectorfs/pkg/device"
	. "github.com/weberc2/sectorfs/pkg/types"
)

// CountingDevice records how many times each sector was read and written.
type CountingDevice struct {
	device.BlockDevice

	lock   sync.Mutex
	reads  map[Sector]int
	writes map[Sector]int
}

func NewCountingDevice(inner device.BlockDevice) *CountingDevice {
	return &CountingDevice{
		BlockDevice: inner,
		reads:       make(map[Sector]int),
		writes:      make(map[Sector]int),
	}
}

func (dev *CountingDevice) ReadSector(sector Sector, b *SectorBuffer) error {
	dev.lock.Lock()
	dev.reads[sector]++
	dev.lock.Unlock()
	return dev.BlockDevice.ReadSector(sector, b)
}

func (dev *CountingDevice) WriteSector(sector Sector, b *SectorBuffer) error {
	dev.lock.Lock()
	dev.writes[sector]++
	dev.lock.Unlock()
	return dev.BlockDevice.WriteSector(sector, b)
}

func (dev *CountingDevice) Reads(sector Sector) int {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	return dev.reads[sector]
}

func (dev *CountingDevice) Writes(sector Sector) int {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	return dev.writes[sector]
}

func (dev *CountingDevice) Reset() {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	dev.reads = make(map[Sector]int)
	dev.writes = make(map[Sector]int)
}

// BlockingDevice blocks on every read, and on every write if `BlockWrites`
// is set. It announces the block on `HasBlocked` and waits on `Unblock`
// before going to the device.
type BlockingDevice struct {
	device.BlockDevice
	HasBlocked  chan Sector
	Unblock     chan struct{}
	BlockWrites bool
}

func NewBlockingDevice(inner device.BlockDevice) *BlockingDevice {
	return &BlockingDevice{
		BlockDevice: inner,
		HasBlocked:  make(chan Sector),
		Unblock:     make(chan struct{}),
	}
}

func (dev *BlockingDevice) ReadSector(sector Sector, b *SectorBuffer) error {
	dev.HasBlocked <- sector
	<-dev.Unblock
	return dev.BlockDevice.ReadSector(sector, b)
}

func (dev *BlockingDevice) WriteSector(sector Sector, b *SectorBuffer) error {
	if dev.BlockWrites {
		dev.HasBlocked <- sector
		<-dev.Unblock
	}
	return dev.BlockDevice.WriteSector(sector, b)
}

// FailingDevice fails every operation with `Err`.
type FailingDevice struct {
	device.BlockDevice
	Err error
}

func (dev *FailingDevice) ReadSector(sector Sector, b *SectorBuffer) error {
	return dev.Err
}

func (dev *FailingDevice) WriteSector(sector Sector, b *SectorBuffer) error {
	return dev.Err
}
