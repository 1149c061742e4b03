package inode

import (
	"fmt"

	. "github.com/weberc2/sectorfs/pkg/types"
)

// Magic identifies a sector holding an inode ("INOD").
const Magic uint32 = 0x494e4f44

// MaxLength is the largest length representable on disk.
const MaxLength Byte = 1<<31 - 1

const BadMagicErr ConstError = "bad inode magic"

// Disk is the on-disk inode record. It occupies exactly one sector.
type Disk struct {
	ExtentStart Sector
	Length      Byte
	Magic       uint32
	IsDirectory bool
}

func EncodeDisk(d *Disk, b *SectorBuffer) {
	p := b[:]
	putU32(p, diskExtentStart, uint32(d.ExtentStart))
	putU32(p, diskLengthStart, uint32(int32(d.Length)))
	putU32(p, diskMagicStart, d.Magic)
	putBool(p, diskIsDirStart, d.IsDirectory)
	for i := diskPaddingStart; i < diskPaddingEnd; i++ {
		p[i] = 0
	}
}

func DecodeDisk(d *Disk, b *SectorBuffer) error {
	p := b[:]

	// validate before touching `d`
	if magic := getU32(p, diskMagicStart); magic != Magic {
		return fmt.Errorf(
			"decoding inode: wanted magic `%#x`; found `%#x`: %w",
			Magic,
			magic,
			BadMagicErr,
		)
	}

	d.ExtentStart = Sector(getU32(p, diskExtentStart))
	d.Length = Byte(int32(getU32(p, diskLengthStart)))
	d.Magic = Magic
	d.IsDirectory = getBool(p, diskIsDirStart)
	return nil
}

const (
	diskExtentStart = 0
	diskExtentSize  = 4
	diskExtentEnd   = diskExtentStart + diskExtentSize

	diskLengthStart = diskExtentEnd
	diskLengthSize  = 4
	diskLengthEnd   = diskLengthStart + diskLengthSize

	diskMagicStart = diskLengthEnd
	diskMagicSize  = 4
	diskMagicEnd   = diskMagicStart + diskMagicSize

	diskIsDirStart = diskMagicEnd
	diskIsDirSize  = 4
	diskIsDirEnd   = diskIsDirStart + diskIsDirSize

	diskPaddingStart = diskIsDirEnd
	diskPaddingSize  = 124 * 4
	diskPaddingEnd   = diskPaddingStart + diskPaddingSize
)

// The record must fill exactly one sector.
var (
	_ [diskPaddingEnd - SectorSize]struct{}
	_ [SectorSize - diskPaddingEnd]struct{}
)
