package types

type Sector uint32

type Byte int64

const (
	SectorSize Byte = 512

	// FreeMapSector holds the inode whose extent stores the free-sector
	// bitmap.
	FreeMapSector Sector = 0

	// RootDirSector holds the root directory's inode.
	RootDirSector Sector = 1
)

// SectorBuffer is a single sector's worth of data.
type SectorBuffer = [SectorSize]byte
