package filesystem

import (
	"errors"
	"fmt"

	"github.com/weberc2/sectorfs/pkg/bcache"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/directory"
	"github.com/weberc2/sectorfs/pkg/freemap"
	"github.com/weberc2/sectorfs/pkg/inode"
	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	// DirEntries is the number of entries every directory is created with.
	DirEntries = 16

	// MinSectors is the smallest device that can be formatted: the free map
	// inode, the root inode, and their extents.
	MinSectors Sector = 8

	NotFormattedErr ConstError = "device is not formatted"
	DirNotEmptyErr  ConstError = "directory not empty"
	IsADirErr       ConstError = "is a directory"
	TooSmallErr     ConstError = "device too small"

	NotFoundErr    = directory.NotFoundErr
	NotADirErr     = directory.NotADirErr
	ExistsErr      = directory.ExistsErr
	NameTooLongErr = directory.NameTooLongErr
	InvalidNameErr = directory.InvalidNameErr
	NoSpaceErr     = freemap.NoSpaceErr
)

type Options struct {
	CacheCapacity int
	Logger        func(format string, v ...interface{})
}

func (opts Options) cache(dev device.BlockDevice) *bcache.Cache {
	capacity := opts.CacheCapacity
	if capacity < 1 {
		capacity = bcache.DefaultCapacity
	}
	c := bcache.New(dev, capacity)
	c.Logger = opts.Logger
	return c
}

// FileSystem ties a block device to its cache, open-inode registry, and free
// map.
type FileSystem struct {
	Device  device.BlockDevice
	Cache   *bcache.Cache
	Inodes  *inode.Registry
	FreeMap *freemap.Map

	freeMapInode *inode.Inode
}

// Format writes an empty filesystem to `dev` and returns it opened.
func Format(dev device.BlockDevice, opts Options) (*FileSystem, error) {
	sectors := dev.Sectors()
	if sectors < MinSectors {
		return nil, fmt.Errorf(
			"formatting device with `%d` sectors: %w",
			sectors,
			TooSmallErr,
		)
	}

	fs := &FileSystem{
		Device:  dev,
		Cache:   opts.cache(dev),
		FreeMap: freemap.New(sectors, nil),
	}
	fs.Inodes = inode.NewRegistry(fs.Cache, fs.FreeMap)

	if err := fs.Inodes.Create(
		FreeMapSector,
		freemap.RecordSize(sectors),
		false,
	); err != nil {
		return nil, fmt.Errorf("formatting: creating free map: %w", err)
	}
	if err := directory.Create(fs.Inodes, RootDirSector, DirEntries); err != nil {
		return nil, fmt.Errorf("formatting: creating root directory: %w", err)
	}

	root, err := directory.OpenRoot(fs.Inodes)
	if err != nil {
		return nil, fmt.Errorf("formatting: %w", err)
	}
	for _, name := range []string{directory.Self, directory.Parent} {
		if err := root.Add(name, RootDirSector); err != nil {
			root.Close()
			return nil, fmt.Errorf("formatting: %w", err)
		}
	}
	if err := root.Close(); err != nil {
		return nil, fmt.Errorf("formatting: %w", err)
	}

	in, err := fs.Inodes.Open(FreeMapSector)
	if err != nil {
		return nil, fmt.Errorf("formatting: opening free map: %w", err)
	}
	fs.freeMapInode = in
	fs.FreeMap.SetStore(&freemap.InodeStore{Inode: in})
	if err := fs.Sync(); err != nil {
		return nil, fmt.Errorf("formatting: %w", err)
	}
	return fs, nil
}

// Open loads the filesystem on a formatted device. The device may be larger
// than the volume it holds; the extra sectors are left unused.
func Open(dev device.BlockDevice, opts Options) (*FileSystem, error) {
	sectors := dev.Sectors()
	if sectors < MinSectors {
		return nil, fmt.Errorf(
			"opening device with `%d` sectors: %w",
			sectors,
			TooSmallErr,
		)
	}

	fs := &FileSystem{
		Device:  dev,
		Cache:   opts.cache(dev),
		FreeMap: freemap.New(sectors, nil),
	}
	fs.Inodes = inode.NewRegistry(fs.Cache, fs.FreeMap)

	// check the well-known sectors before handing them to the registry,
	// which treats a bad record as fatal
	for _, sector := range []Sector{FreeMapSector, RootDirSector} {
		var (
			b SectorBuffer
			d inode.Disk
		)
		fs.Cache.Read(sector, b[:], 0)
		if err := inode.DecodeDisk(&d, &b); err != nil {
			return nil, fmt.Errorf(
				"opening filesystem: sector `%d`: %v: %w",
				sector,
				err,
				NotFormattedErr,
			)
		}
	}

	in, err := fs.Inodes.Open(FreeMapSector)
	if err != nil {
		return nil, fmt.Errorf("opening filesystem: %w", err)
	}
	if err := fs.FreeMap.Load(in); err != nil {
		in.Close()
		return nil, fmt.Errorf("opening filesystem: %w", err)
	}
	if volume := fs.FreeMap.Len(); volume > sectors {
		in.Close()
		return nil, fmt.Errorf(
			"opening volume of `%d` sectors on device with `%d` sectors: %w",
			volume,
			sectors,
			TooSmallErr,
		)
	}
	fs.freeMapInode = in
	return fs, nil
}

// Sync writes the free map and every dirty cache entry to the device.
func (fs *FileSystem) Sync() error {
	if err := fs.FreeMap.Flush(); err != nil {
		return fmt.Errorf("syncing filesystem: %w", err)
	}
	if err := fs.Cache.Flush(); err != nil {
		return fmt.Errorf("syncing filesystem: %w", err)
	}
	return nil
}

// Close flushes everything to the device. Inodes opened through the
// filesystem should be closed first.
func (fs *FileSystem) Close() error {
	if err := fs.FreeMap.Flush(); err != nil {
		return fmt.Errorf("closing filesystem: %w", err)
	}
	if err := fs.freeMapInode.Close(); err != nil {
		return fmt.Errorf("closing filesystem: %w", err)
	}
	if err := fs.Cache.Close(); err != nil {
		return fmt.Errorf("closing filesystem: %w", err)
	}
	return nil
}

// Create makes an empty file of `length` bytes at `path`.
func (fs *FileSystem) Create(cwd *directory.Dir, path string, length Byte) error {
	if err := fs.create(cwd, path, func(sector Sector) error {
		return fs.Inodes.Create(sector, length, false)
	}, nil); err != nil {
		return fmt.Errorf("creating file `%s`: %w", path, err)
	}
	return nil
}

// Mkdir makes an empty directory at `path` holding "." and "..".
func (fs *FileSystem) Mkdir(cwd *directory.Dir, path string) error {
	if err := fs.create(cwd, path, func(sector Sector) error {
		return directory.Create(fs.Inodes, sector, DirEntries)
	}, func(parent *directory.Dir, sector Sector) error {
		in, err := fs.Inodes.Open(sector)
		if err != nil {
			return err
		}
		dir, err := directory.Open(in)
		if err != nil {
			return err
		}
		defer dir.Close()
		if err := dir.Add(directory.Self, sector); err != nil {
			return err
		}
		return dir.Add(directory.Parent, parent.Inode().Inumber())
	}); err != nil {
		return fmt.Errorf("making directory `%s`: %w", path, err)
	}
	return nil
}

// create reserves a metadata sector, builds the inode with `build`, runs
// `setup` (if any), and links it into the parent. Any failure leaves no
// sectors allocated.
func (fs *FileSystem) create(
	cwd *directory.Dir,
	path string,
	build func(sector Sector) error,
	setup func(parent *directory.Dir, sector Sector) error,
) error {
	parent, leaf, err := Resolve(fs, cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	if _, err := parent.Lookup(leaf); err == nil {
		return ExistsErr
	} else if !errors.Is(err, NotFoundErr) {
		return err
	}

	sector, err := fs.FreeMap.Allocate(1)
	if err != nil {
		return err
	}
	if err := build(sector); err != nil {
		if releaseErr := fs.FreeMap.Release(sector, 1); releaseErr != nil {
			return fmt.Errorf("%v; releasing sector `%d`: %w", err, sector, releaseErr)
		}
		return err
	}

	if setup != nil {
		err = setup(parent, sector)
	}
	if err == nil {
		err = parent.Add(leaf, sector)
	}
	if err != nil {
		if discardErr := fs.discard(sector); discardErr != nil {
			return fmt.Errorf("%v; discarding inode `%d`: %w", err, sector, discardErr)
		}
		return err
	}
	return nil
}

// discard frees a freshly created inode that never made it into a
// directory.
func (fs *FileSystem) discard(sector Sector) error {
	in, err := fs.Inodes.Open(sector)
	if err != nil {
		return err
	}
	in.Remove()
	return in.Close()
}

// OpenInode opens the inode at `path`. The bare root ("/") opens the root
// directory.
func (fs *FileSystem) OpenInode(cwd *directory.Dir, path string) (*inode.Inode, error) {
	parent, leaf, err := Resolve(fs, cwd, path)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", path, err)
	}
	defer parent.Close()

	sector, err := parent.Lookup(leaf)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", path, err)
	}
	in, err := fs.Inodes.Open(sector)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", path, err)
	}
	return in, nil
}

// OpenDir opens the directory at `path`.
func (fs *FileSystem) OpenDir(cwd *directory.Dir, path string) (*directory.Dir, error) {
	in, err := fs.OpenInode(cwd, path)
	if err != nil {
		return nil, err
	}
	dir, err := directory.Open(in)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", path, err)
	}
	return dir, nil
}

// Remove unlinks `path`. Directories must be empty. Space is reclaimed when
// the last opener closes the inode.
func (fs *FileSystem) Remove(cwd *directory.Dir, path string) error {
	parent, leaf, err := Resolve(fs, cwd, path)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}
	defer parent.Close()

	if leaf == directory.Self || leaf == directory.Parent {
		return fmt.Errorf("removing `%s`: %w", path, InvalidNameErr)
	}

	sector, err := parent.Lookup(leaf)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}
	in, err := fs.Inodes.Open(sector)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}

	if in.IsDirectory() {
		dir, err := directory.Open(in.Reopen())
		if err != nil {
			in.Close()
			return fmt.Errorf("removing `%s`: %w", path, err)
		}
		empty := dir.IsEmpty()
		dir.Close()
		if !empty {
			in.Close()
			return fmt.Errorf("removing `%s`: %w", path, DirNotEmptyErr)
		}
	}

	if _, err := parent.Remove(leaf); err != nil {
		in.Close()
		return fmt.Errorf("removing `%s`: %w", path, err)
	}
	in.Remove()
	if err := in.Close(); err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}
	return nil
}

// ReadDir lists the directory at `path`, excluding "." and "..".
func (fs *FileSystem) ReadDir(cwd *directory.Dir, path string) ([]string, error) {
	dir, err := fs.OpenDir(cwd, path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	defer dir.Close()

	names := []string{}
	for {
		name, ok := dir.ReadNext()
		if !ok {
			return names, nil
		}
		names = append(names, name)
	}
}

type Info struct {
	Inumber     Sector `json:"inumber"`
	Length      Byte   `json:"length"`
	IsDirectory bool   `json:"isDirectory"`
	ExtentStart Sector `json:"extentStart"`
	OpenCount   int    `json:"openCount"`
}

func (fs *FileSystem) Stat(cwd *directory.Dir, path string) (Info, error) {
	in, err := fs.OpenInode(cwd, path)
	if err != nil {
		return Info{}, fmt.Errorf("stat-ing: %w", err)
	}
	defer in.Close()
	return Info{
		Inumber:     in.Inumber(),
		Length:      in.Length(),
		IsDirectory: in.IsDirectory(),
		ExtentStart: in.ExtentStart(),
		// not counting this call's own handle
		OpenCount: in.OpenCount() - 1,
	}, nil
}

func (fs *FileSystem) IsDir(cwd *directory.Dir, path string) (bool, error) {
	info, err := fs.Stat(cwd, path)
	return info.IsDirectory, err
}

// Inumber returns the metadata sector of the inode at `path`.
func (fs *FileSystem) Inumber(cwd *directory.Dir, path string) (Sector, error) {
	info, err := fs.Stat(cwd, path)
	return info.Inumber, err
}

// WriteFile creates `path` sized to fit `data` and writes it.
func (fs *FileSystem) WriteFile(cwd *directory.Dir, path string, data []byte) error {
	if err := fs.Create(cwd, path, Byte(len(data))); err != nil {
		return err
	}
	in, err := fs.OpenInode(cwd, path)
	if err != nil {
		return err
	}
	defer in.Close()
	if n := in.WriteAt(data, 0); n != Byte(len(data)) {
		return fmt.Errorf(
			"writing file `%s`: wrote `%d` of `%d` bytes",
			path,
			n,
			len(data),
		)
	}
	return nil
}

// ReadFile returns the full contents of the file at `path`.
func (fs *FileSystem) ReadFile(cwd *directory.Dir, path string) ([]byte, error) {
	in, err := fs.OpenInode(cwd, path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	if in.IsDirectory() {
		return nil, fmt.Errorf("reading file `%s`: %w", path, IsADirErr)
	}
	data := make([]byte, in.Length())
	data = data[:in.ReadAt(data, 0)]
	return data, nil
}
