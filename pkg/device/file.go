package device

import (
	"fmt"
	"os"

	. "github.com/weberc2/sectorfs/pkg/types"
)

// File is a block device backed by a disk image on the host filesystem.
type File struct {
	file    *os.File
	sectors Sector
}

// CreateFile creates (or truncates) an image file with room for `sectors`
// sectors.
func CreateFile(path string, sectors Sector) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating image file `%s`: %w", path, err)
	}
	if err := f.Truncate(int64(Byte(sectors) * SectorSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf(
			"sizing image file `%s` to `%d` sectors: %w",
			path,
			sectors,
			err,
		)
	}
	return &File{file: f, sectors: sectors}, nil
}

// OpenFile opens an existing image file. The image's size determines the
// number of sectors; trailing bytes that don't fill a sector are ignored.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening image file `%s`: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat-ing image file `%s`: %w", path, err)
	}
	return &File{file: f, sectors: Sector(Byte(info.Size()) / SectorSize)}, nil
}

func (f *File) Sectors() Sector { return f.sectors }

func (f *File) ReadSector(sector Sector, b *SectorBuffer) error {
	if err := checkRange(f, sector); err != nil {
		return fmt.Errorf("reading sector `%d` from image: %w", sector, err)
	}
	if _, err := f.file.ReadAt(
		b[:],
		int64(Byte(sector)*SectorSize),
	); err != nil {
		return fmt.Errorf("reading sector `%d` from image: %w", sector, err)
	}
	return nil
}

func (f *File) WriteSector(sector Sector, b *SectorBuffer) error {
	if err := checkRange(f, sector); err != nil {
		return fmt.Errorf("writing sector `%d` to image: %w", sector, err)
	}
	if _, err := f.file.WriteAt(
		b[:],
		int64(Byte(sector)*SectorSize),
	); err != nil {
		return fmt.Errorf("writing sector `%d` to image: %w", sector, err)
	}
	return nil
}

func (f *File) Close() error {
	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return fmt.Errorf("syncing image file: %w", err)
	}
	return f.file.Close()
}
