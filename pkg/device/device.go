package device

import (
	. "github.com/weberc2/sectorfs/pkg/types"
)

// BlockDevice is a random-access store of fixed-size sectors. A write is
// assumed durable once it returns.
type BlockDevice interface {
	ReadSector(sector Sector, b *SectorBuffer) error
	WriteSector(sector Sector, b *SectorBuffer) error
	Sectors() Sector
}

const (
	OutOfRangeErr ConstError = "sector out of range"
)

func checkRange(dev BlockDevice, sector Sector) error {
	if sector >= dev.Sectors() {
		return OutOfRangeErr
	}
	return nil
}
