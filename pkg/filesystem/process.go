package filesystem

import (
	"fmt"

	"github.com/weberc2/sectorfs/pkg/directory"
	"github.com/weberc2/sectorfs/pkg/inode"
	. "github.com/weberc2/sectorfs/pkg/types"
)

// Process is one thread of control's view of the filesystem: relative paths
// resolve against its current directory.
type Process struct {
	fs  *FileSystem
	cwd *directory.Dir
}

// NewProcess returns a process whose current directory is the root.
func (fs *FileSystem) NewProcess() (*Process, error) {
	root, err := directory.OpenRoot(fs.Inodes)
	if err != nil {
		return nil, fmt.Errorf("starting process: %w", err)
	}
	return &Process{fs: fs, cwd: root}, nil
}

// Chdir makes the directory at `path` the current directory.
func (p *Process) Chdir(path string) error {
	dir, err := p.fs.OpenDir(p.cwd, path)
	if err != nil {
		return fmt.Errorf("changing directory: %w", err)
	}
	if err := p.cwd.Close(); err != nil {
		dir.Close()
		return fmt.Errorf("changing directory: %w", err)
	}
	p.cwd = dir
	return nil
}

// Cwd returns the current directory. The process keeps ownership.
func (p *Process) Cwd() *directory.Dir { return p.cwd }

// Close releases the current directory.
func (p *Process) Close() error {
	if err := p.cwd.Close(); err != nil {
		return fmt.Errorf("closing process: %w", err)
	}
	p.cwd = nil
	return nil
}

func (p *Process) Resolve(path string) (*directory.Dir, string, error) {
	return Resolve(p.fs, p.cwd, path)
}

func (p *Process) Create(path string, length Byte) error {
	return p.fs.Create(p.cwd, path, length)
}

func (p *Process) Mkdir(path string) error { return p.fs.Mkdir(p.cwd, path) }

func (p *Process) Open(path string) (*inode.Inode, error) {
	return p.fs.OpenInode(p.cwd, path)
}

func (p *Process) Remove(path string) error { return p.fs.Remove(p.cwd, path) }

func (p *Process) ReadDir(path string) ([]string, error) {
	return p.fs.ReadDir(p.cwd, path)
}

func (p *Process) Stat(path string) (Info, error) {
	return p.fs.Stat(p.cwd, path)
}

func (p *Process) IsDir(path string) (bool, error) {
	return p.fs.IsDir(p.cwd, path)
}

func (p *Process) Inumber(path string) (Sector, error) {
	return p.fs.Inumber(p.cwd, path)
}

func (p *Process) ReadFile(path string) ([]byte, error) {
	return p.fs.ReadFile(p.cwd, path)
}

func (p *Process) WriteFile(path string, data []byte) error {
	return p.fs.WriteFile(p.cwd, path, data)
}
