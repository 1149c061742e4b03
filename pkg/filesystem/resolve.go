package filesystem

import (
	"fmt"
	"strings"

	"github.com/weberc2/sectorfs/pkg/directory"
	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	EmptyPathErr  ConstError = "empty path"
	DirRemovedErr ConstError = "current directory has been removed"
)

// Resolve walks every component of `path` but the last and returns the
// directory that should contain the last one, along with its name. Absolute
// paths start at the root; relative paths start at `cwd` (or the root if
// `cwd` is nil). A path with no components resolves to the starting
// directory and the name ".". The caller must close the returned directory.
func Resolve(
	fs *FileSystem,
	cwd *directory.Dir,
	path string,
) (*directory.Dir, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("resolving path: %w", EmptyPathErr)
	}

	var dir *directory.Dir
	if path[0] == '/' || cwd == nil {
		root, err := directory.OpenRoot(fs.Inodes)
		if err != nil {
			return nil, "", fmt.Errorf("resolving path `%s`: %w", path, err)
		}
		dir = root
	} else {
		dir = cwd.Reopen()
		if !dir.Inode().IsDirectory() {
			dir.Close()
			return nil, "", fmt.Errorf(
				"resolving path `%s`: %w",
				path,
				DirRemovedErr,
			)
		}
	}

	components := splitPath(path)
	if len(components) < 1 {
		return dir, directory.Self, nil
	}

	for _, component := range components[:len(components)-1] {
		next, err := walk(fs, dir, component)
		dir.Close()
		if err != nil {
			return nil, "", fmt.Errorf("resolving path `%s`: %w", path, err)
		}
		dir = next
	}

	leaf := components[len(components)-1]
	if len(leaf) > directory.NameMax {
		dir.Close()
		return nil, "", fmt.Errorf(
			"resolving path `%s`: `%s`: %w",
			path,
			leaf,
			NameTooLongErr,
		)
	}
	return dir, leaf, nil
}

// walk opens the subdirectory `name` of `dir`.
func walk(
	fs *FileSystem,
	dir *directory.Dir,
	name string,
) (*directory.Dir, error) {
	sector, err := dir.Lookup(name)
	if err != nil {
		return nil, err
	}
	in, err := fs.Inodes.Open(sector)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", name, err)
	}
	next, err := directory.Open(in)
	if err != nil {
		return nil, fmt.Errorf("walking into `%s`: %w", name, err)
	}
	return next, nil
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}
