package inspect

import (
	"encoding/json"
	"net/http"
	"reflect"
	"testing"

	pz "github.com/weberc2/httpeasy"
	pztest "github.com/weberc2/httpeasy/testsupport"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/filesystem"
	. "github.com/weberc2/sectorfs/pkg/types"
)

func newService(t *testing.T) *Service {
	fs, err := filesystem.Format(device.NewMemory(64), filesystem.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { fs.Close() })

	if err := fs.Mkdir(nil, "/etc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fs.WriteFile(nil, "/etc/motd", []byte("welcome")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &Service{FileSystem: fs}
}

func TestService_Paths(t *testing.T) {
	type testCase struct {
		name         string
		handler      func(*Service) pz.Handler
		path         string
		wantedStatus int
		wantedBody   string
	}

	file := func(s *Service) pz.Handler { return s.File }
	stat := func(s *Service) pz.Handler { return s.Stat }
	dir := func(s *Service) pz.Handler { return s.Dir }

	testCases := []testCase{{
		name:         "file",
		handler:      file,
		path:         "etc/motd",
		wantedStatus: http.StatusOK,
		wantedBody:   "welcome",
	}, {
		name:         "missing file",
		handler:      file,
		path:         "etc/nope",
		wantedStatus: http.StatusNotFound,
	}, {
		name:         "directory as file",
		handler:      file,
		path:         "etc",
		wantedStatus: http.StatusBadRequest,
	}, {
		name:         "file as directory",
		handler:      dir,
		path:         "etc/motd",
		wantedStatus: http.StatusBadRequest,
	}, {
		name:         "file as interior component",
		handler:      stat,
		path:         "etc/motd/x",
		wantedStatus: http.StatusBadRequest,
	}, {
		name:         "stat root",
		handler:      stat,
		path:         "",
		wantedStatus: http.StatusOK,
	}}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			s := newService(t)
			rsp := testCase.handler(s)(pz.Request{
				Vars: map[string]string{"path": testCase.path},
			})
			if rsp.Status != testCase.wantedStatus {
				t.Fatalf(
					"status: wanted `%d`; found `%d`",
					testCase.wantedStatus,
					rsp.Status,
				)
			}
			if testCase.wantedBody == "" {
				return
			}
			data, err := pztest.ReadAll(rsp.Data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != testCase.wantedBody {
				t.Fatalf(
					"wanted `%s`; found `%s`",
					testCase.wantedBody,
					data,
				)
			}
		})
	}
}

func TestService_Dir(t *testing.T) {
	s := newService(t)
	rsp := s.Dir(pz.Request{Vars: map[string]string{"path": "/"}})
	if rsp.Status != http.StatusOK {
		t.Fatalf("status: wanted `200`; found `%d`", rsp.Status)
	}
	data, err := pztest.ReadAll(rsp.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []DirEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "etc" ||
		!entries[0].Info.IsDirectory {
		t.Fatalf("wanted a single `etc` directory; found `%+v`", entries)
	}
}

func TestService_StatsAndInodes(t *testing.T) {
	s := newService(t)
	in, err := s.FileSystem.OpenInode(nil, "/etc/motd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer in.Close()
	in.DenyWrite()
	defer in.AllowWrite()

	rsp := s.Stats(pz.Request{})
	data, err := pztest.ReadAll(rsp.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Sectors != 64 || stats.OpenInodes != 2 ||
		stats.FreeSectors != s.FileSystem.FreeMap.Free() ||
		stats.Cache.Capacity != 64 {
		t.Fatalf("unexpected stats: `%+v`", stats)
	}

	rsp = s.Inodes(pz.Request{})
	if data, err = pztest.ReadAll(rsp.Data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inodes []Inode
	if err := json.Unmarshal(data, &inodes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	freeMap, ok := s.FileSystem.Inodes.Lookup(FreeMapSector)
	if !ok {
		t.Fatal("wanted the free map inode open")
	}
	wanted := []Inode{{
		Inumber:   FreeMapSector,
		Length:    freeMap.Length(),
		OpenCount: 1,
	}, {
		Inumber:        in.Inumber(),
		Length:         7,
		OpenCount:      1,
		DenyWriteCount: 1,
	}}
	if !reflect.DeepEqual(wanted, inodes) {
		t.Fatalf("wanted `%+v`; found `%+v`", wanted, inodes)
	}
}
