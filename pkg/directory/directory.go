package directory

import (
	"fmt"

	"github.com/weberc2/sectorfs/pkg/inode"
	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	NotADirErr     ConstError = "not a directory"
	NotFoundErr    ConstError = "no such entry"
	ExistsErr      ConstError = "entry exists"
	NameTooLongErr ConstError = "name too long"
	InvalidNameErr ConstError = "invalid name"
	FullErr        ConstError = "directory full"

	Self   = "."
	Parent = ".."
)

// Dir is an open directory handle. It owns one opener of its inode.
type Dir struct {
	inode *inode.Inode
	pos   Byte
}

// Create makes an empty directory inode at `sector` with room for `entries`
// entries.
func Create(r *inode.Registry, sector Sector, entries int) error {
	if err := r.Create(sector, Byte(entries)*EntrySize, true); err != nil {
		return fmt.Errorf("creating directory at sector `%d`: %w", sector, err)
	}
	return nil
}

// Open wraps `in` in a directory handle and takes ownership of it. On
// failure `in` is closed.
func Open(in *inode.Inode) (*Dir, error) {
	if !in.IsDirectory() {
		sector := in.Inumber()
		if err := in.Close(); err != nil {
			return nil, fmt.Errorf("opening directory `%d`: %w", sector, err)
		}
		return nil, fmt.Errorf("opening directory `%d`: %w", sector, NotADirErr)
	}
	return &Dir{inode: in}, nil
}

func OpenRoot(r *inode.Registry) (*Dir, error) {
	in, err := r.Open(RootDirSector)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	return Open(in)
}

// Reopen returns a new handle on the same directory.
func (d *Dir) Reopen() *Dir {
	return &Dir{inode: d.inode.Reopen()}
}

func (d *Dir) Close() error {
	if d == nil {
		return nil
	}
	return d.inode.Close()
}

// Inode returns the directory's backing inode.
func (d *Dir) Inode() *inode.Inode { return d.inode }

// Lookup returns the inode sector for `name`.
func (d *Dir) Lookup(name string) (Sector, error) {
	d.inode.Lock()
	defer d.inode.Unlock()
	if e, _, ok := d.find(name); ok {
		return e.Sector, nil
	}
	return 0, fmt.Errorf(
		"looking up `%s` in directory `%d`: %w",
		name,
		d.inode.Inumber(),
		NotFoundErr,
	)
}

// Add inserts an entry for `name` pointing at `sector`.
func (d *Dir) Add(name string, sector Sector) error {
	if err := checkName(name); err != nil {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			d.inode.Inumber(),
			err,
		)
	}

	d.inode.Lock()
	defer d.inode.Unlock()
	if _, _, ok := d.find(name); ok {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			d.inode.Inumber(),
			ExistsErr,
		)
	}

	var (
		e      Entry
		b      [EntrySize]byte
		offset Byte
	)
	for ; d.inode.ReadAt(b[:], offset) == EntrySize; offset += EntrySize {
		if decodeEntry(&e, &b); !e.InUse {
			break
		}
	}

	e = Entry{Sector: sector, InUse: true, Name: name}
	encodeEntry(&e, &b)
	if d.inode.WriteAt(b[:], offset) != EntrySize {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			d.inode.Inumber(),
			FullErr,
		)
	}
	return nil
}

// Remove erases the entry for `name` and returns the sector it pointed at.
// The target inode itself is untouched.
func (d *Dir) Remove(name string) (Sector, error) {
	d.inode.Lock()
	defer d.inode.Unlock()
	e, offset, ok := d.find(name)
	if !ok {
		return 0, fmt.Errorf(
			"removing `%s` from directory `%d`: %w",
			name,
			d.inode.Inumber(),
			NotFoundErr,
		)
	}
	e.InUse = false
	var b [EntrySize]byte
	encodeEntry(&e, &b)
	if d.inode.WriteAt(b[:], offset) != EntrySize {
		return 0, fmt.Errorf(
			"removing `%s` from directory `%d`: short write",
			name,
			d.inode.Inumber(),
		)
	}
	return e.Sector, nil
}

// ReadNext returns the next entry name after the handle's position, skipping
// "." and "..".
func (d *Dir) ReadNext() (string, bool) {
	d.inode.Lock()
	defer d.inode.Unlock()
	var (
		e Entry
		b [EntrySize]byte
	)
	for d.inode.ReadAt(b[:], d.pos) == EntrySize {
		d.pos += EntrySize
		decodeEntry(&e, &b)
		if e.InUse && e.Name != Self && e.Name != Parent {
			return e.Name, true
		}
	}
	return "", false
}

// Entries returns every in-use entry, including "." and "..".
func (d *Dir) Entries() []Entry {
	d.inode.Lock()
	defer d.inode.Unlock()
	var (
		out []Entry
		e   Entry
		b   [EntrySize]byte
	)
	for offset := Byte(0); d.inode.ReadAt(b[:], offset) == EntrySize; offset += EntrySize {
		if decodeEntry(&e, &b); e.InUse {
			out = append(out, e)
		}
	}
	return out
}

// IsEmpty reports whether the directory holds nothing but "." and "..".
func (d *Dir) IsEmpty() bool {
	for _, e := range d.Entries() {
		if e.Name != Self && e.Name != Parent {
			return false
		}
	}
	return true
}

func (d *Dir) find(name string) (Entry, Byte, bool) {
	var (
		e Entry
		b [EntrySize]byte
	)
	for offset := Byte(0); d.inode.ReadAt(b[:], offset) == EntrySize; offset += EntrySize {
		if decodeEntry(&e, &b); e.InUse && e.Name == name {
			return e, offset, true
		}
	}
	return Entry{}, 0, false
}

func checkName(name string) error {
	if name == "" {
		return InvalidNameErr
	}
	if len(name) > NameMax {
		return NameTooLongErr
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return InvalidNameErr
		}
	}
	return nil
}
