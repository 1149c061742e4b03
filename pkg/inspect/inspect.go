// Package inspect serves a read-only JSON view of a mounted volume: cache
// statistics, the open-inode table, and the directory tree.
package inspect

import (
	"errors"
	"strings"

	pz "github.com/weberc2/httpeasy"
	"github.com/weberc2/sectorfs/pkg/bcache"
	"github.com/weberc2/sectorfs/pkg/filesystem"
	. "github.com/weberc2/sectorfs/pkg/types"
)

type Service struct {
	FileSystem *filesystem.FileSystem
}

func (s *Service) Routes() []pz.Route {
	return []pz.Route{{
		Method:  "GET",
		Path:    "/stats",
		Handler: s.Stats,
	}, {
		Method:  "GET",
		Path:    "/inodes",
		Handler: s.Inodes,
	}, {
		Method:  "GET",
		Path:    "/stat/{path:.*}",
		Handler: s.Stat,
	}, {
		Method:  "GET",
		Path:    "/dirs/{path:.*}",
		Handler: s.Dir,
	}, {
		Method:  "GET",
		Path:    "/files/{path:.+}",
		Handler: s.File,
	}}
}

type Stats struct {
	Cache       bcache.Stats `json:"cache"`
	Sectors     Sector       `json:"sectors"`
	FreeSectors Sector       `json:"freeSectors"`
	ResidentSet []Sector     `json:"residentSet"`
	OpenInodes  int          `json:"openInodes"`
}

func (s *Service) Stats(r pz.Request) pz.Response {
	fs := s.FileSystem
	stats := Stats{
		Cache:       fs.Cache.Stats(),
		Sectors:     fs.FreeMap.Len(),
		FreeSectors: fs.FreeMap.Free(),
		ResidentSet: fs.Cache.Resident(),
		OpenInodes:  len(fs.Inodes.OpenInodes()),
	}
	return pz.Ok(pz.JSON(&stats))
}

type Inode struct {
	Inumber        Sector `json:"inumber"`
	Length         Byte   `json:"length"`
	IsDirectory    bool   `json:"isDirectory"`
	OpenCount      int    `json:"openCount"`
	DenyWriteCount int    `json:"denyWriteCount"`
	Removed        bool   `json:"removed"`
}

func (s *Service) Inodes(r pz.Request) pz.Response {
	inodes := []Inode{}
	for _, sector := range s.FileSystem.Inodes.OpenInodes() {
		// closed since the listing
		in, ok := s.FileSystem.Inodes.Lookup(sector)
		if !ok {
			continue
		}
		inodes = append(inodes, Inode{
			Inumber:        sector,
			Length:         in.Length(),
			IsDirectory:    in.IsDirectory(),
			OpenCount:      in.OpenCount(),
			DenyWriteCount: in.DenyWriteCount(),
			Removed:        in.IsRemoved(),
		})
	}
	return pz.Ok(pz.JSON(inodes))
}

func (s *Service) Stat(r pz.Request) pz.Response {
	info, err := s.FileSystem.Stat(nil, path(r))
	if err != nil {
		return handleError("stat-ing path", err)
	}
	return pz.Ok(pz.JSON(&info))
}

type DirEntry struct {
	Name string          `json:"name"`
	Info filesystem.Info `json:"info"`
}

func (s *Service) Dir(r pz.Request) pz.Response {
	dir, err := s.FileSystem.OpenDir(nil, path(r))
	if err != nil {
		return handleError("listing directory", err)
	}
	defer dir.Close()

	names, err := s.FileSystem.ReadDir(dir, ".")
	if err != nil {
		return handleError("listing directory", err)
	}
	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		info, err := s.FileSystem.Stat(dir, name)
		if err != nil {
			// removed since the listing
			if errors.Is(err, filesystem.NotFoundErr) {
				continue
			}
			return handleError("listing directory", err)
		}
		entries = append(entries, DirEntry{Name: name, Info: info})
	}
	return pz.Ok(pz.JSON(entries))
}

func (s *Service) File(r pz.Request) pz.Response {
	data, err := s.FileSystem.ReadFile(nil, path(r))
	if err != nil {
		return handleError("reading file", err)
	}
	return pz.Ok(pz.String(string(data)))
}

func path(r pz.Request) string {
	return "/" + strings.TrimPrefix(r.Vars["path"], "/")
}

func handleError(message string, err error) pz.Response {
	logging := struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}{
		Message: message,
		Error:   err.Error(),
	}
	switch {
	case errors.Is(err, filesystem.NotFoundErr):
		return pz.NotFound(pz.String("not found"), logging)
	case errors.Is(err, filesystem.NotADirErr),
		errors.Is(err, filesystem.IsADirErr),
		errors.Is(err, filesystem.NameTooLongErr),
		errors.Is(err, filesystem.InvalidNameErr),
		errors.Is(err, filesystem.EmptyPathErr):
		return pz.BadRequest(pz.String(err.Error()), logging)
	default:
		return pz.HandleError(message, err)
	}
}
