package inode

import (
	"fmt"
	"sync"

	"github.com/weberc2/sectorfs/pkg/math"
	. "github.com/weberc2/sectorfs/pkg/types"
)

// Inode is an open handle on an on-disk inode. The same instance is shared by
// every opener of the same sector.
type Inode struct {
	registry *Registry
	sector   Sector

	lock           sync.Mutex
	disk           Disk
	openCount      int
	denyWriteCount int
	removed        bool

	content sync.Mutex
}

// Reopen registers another opener of an already-open inode.
func (in *Inode) Reopen() *Inode {
	in.lock.Lock()
	defer in.lock.Unlock()
	in.openCount++
	return in
}

// Close releases one opener. The last close of a removed inode returns its
// metadata sector and extent to the allocator.
func (in *Inode) Close() error { return in.registry.close(in) }

// Remove marks the inode for deletion on last close. Open handles keep
// working until then.
func (in *Inode) Remove() {
	in.lock.Lock()
	defer in.lock.Unlock()
	in.removed = true
}

// Inumber returns the inode's metadata sector.
func (in *Inode) Inumber() Sector { return in.sector }

func (in *Inode) Length() Byte {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.disk.Length
}

func (in *Inode) ExtentStart() Sector {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.disk.ExtentStart
}

// IsDirectory reports whether the inode is a directory that hasn't been
// removed.
func (in *Inode) IsDirectory() bool {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.disk.IsDirectory && !in.removed
}

func (in *Inode) IsRemoved() bool {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.removed
}

func (in *Inode) OpenCount() int {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.openCount
}

func (in *Inode) DenyWriteCount() int {
	in.lock.Lock()
	defer in.lock.Unlock()
	return in.denyWriteCount
}

// DenyWrite blocks writes until a matching `AllowWrite`. Each opener may deny
// at most once.
func (in *Inode) DenyWrite() {
	in.lock.Lock()
	defer in.lock.Unlock()
	if in.denyWriteCount >= in.openCount {
		panic(fmt.Sprintf(
			"denying writes to inode `%d`: deny count `%d` would exceed "+
				"open count `%d`",
			in.sector,
			in.denyWriteCount+1,
			in.openCount,
		))
	}
	in.denyWriteCount++
}

func (in *Inode) AllowWrite() {
	in.lock.Lock()
	defer in.lock.Unlock()
	if in.denyWriteCount < 1 {
		panic(fmt.Sprintf(
			"allowing writes to inode `%d`: writes are not denied",
			in.sector,
		))
	}
	in.denyWriteCount--
}

// Lock serializes multi-step updates to the inode's contents, such as a
// directory's scan-then-write.
func (in *Inode) Lock() { in.content.Lock() }

func (in *Inode) Unlock() { in.content.Unlock() }

// ReadAt reads up to `len(p)` bytes starting at `offset`. Reads stop at the
// inode's length; the number of bytes read is returned.
func (in *Inode) ReadAt(p []byte, offset Byte) Byte {
	in.lock.Lock()
	start, length := in.disk.ExtentStart, in.disk.Length
	in.lock.Unlock()

	var done Byte
	in.chunks(start, length, Byte(len(p)), offset, func(
		sector Sector,
		sectorOffset Byte,
		size Byte,
	) {
		in.registry.cache.Read(sector, p[done:done+size], sectorOffset)
		done += size
	})
	return done
}

// WriteAt writes up to `len(p)` bytes starting at `offset`. Writes stop at
// the inode's length and nothing is written while writes are denied; the
// number of bytes written is returned.
func (in *Inode) WriteAt(p []byte, offset Byte) Byte {
	in.lock.Lock()
	start, length := in.disk.ExtentStart, in.disk.Length
	denied := in.denyWriteCount > 0
	in.lock.Unlock()
	if denied {
		return 0
	}

	var done Byte
	in.chunks(start, length, Byte(len(p)), offset, func(
		sector Sector,
		sectorOffset Byte,
		size Byte,
	) {
		in.registry.cache.Write(sector, p[done:done+size], sectorOffset)
		done += size
	})
	return done
}

// chunks splits the byte range [offset, offset+size) into per-sector pieces,
// clipped to the inode's length.
func (in *Inode) chunks(
	start Sector,
	length Byte,
	size Byte,
	offset Byte,
	f func(sector Sector, sectorOffset Byte, size Byte),
) {
	if offset < 0 {
		return
	}
	for size > 0 {
		sectorOffset := offset % SectorSize
		chunk := math.Min(
			size,
			math.Min(length-offset, SectorSize-sectorOffset),
		)
		if chunk <= 0 {
			return
		}
		f(start+Sector(offset/SectorSize), sectorOffset, chunk)
		size -= chunk
		offset += chunk
	}
}
