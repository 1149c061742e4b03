package directory

import (
	"encoding/binary"

	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	// NameMax is the longest allowed entry name in bytes.
	NameMax = 14

	EntrySize Byte = entryNameEnd
)

type Entry struct {
	Sector Sector `json:"sector"`
	InUse  bool   `json:"-"`
	Name   string `json:"name"`
}

func encodeEntry(e *Entry, b *[EntrySize]byte) {
	p := b[:]
	binary.LittleEndian.PutUint32(p[entrySectorStart:entrySectorEnd], uint32(e.Sector))
	p[entryInUseStart] = 0
	if e.InUse {
		p[entryInUseStart] = 1
	}
	name := p[entryNameStart:entryNameEnd]
	for i := range name {
		name[i] = 0
	}
	copy(name, e.Name)
}

func decodeEntry(e *Entry, b *[EntrySize]byte) {
	p := b[:]
	e.Sector = Sector(binary.LittleEndian.Uint32(p[entrySectorStart:entrySectorEnd]))
	e.InUse = p[entryInUseStart] != 0
	name := p[entryNameStart:entryNameEnd]
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	e.Name = string(name[:n])
}

const (
	entrySectorStart = 0
	entrySectorSize  = 4
	entrySectorEnd   = entrySectorStart + entrySectorSize

	entryInUseStart = entrySectorEnd
	entryInUseSize  = 1
	entryInUseEnd   = entryInUseStart + entryInUseSize

	// one byte beyond NameMax for the terminating NUL
	entryNameStart = entryInUseEnd
	entryNameSize  = NameMax + 1
	entryNameEnd   = entryNameStart + entryNameSize
)
