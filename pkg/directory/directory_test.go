package directory

import (
	"errors"
	"reflect"
	"testing"

	"github.com/weberc2/sectorfs/pkg/bcache"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/freemap"
	"github.com/weberc2/sectorfs/pkg/inode"
	. "github.com/weberc2/sectorfs/pkg/types"
)

func newDir(t *testing.T, entries int) (*inode.Registry, *Dir) {
	cache := bcache.New(device.NewMemory(64), bcache.DefaultCapacity)
	registry := inode.NewRegistry(cache, freemap.New(64, nil))
	if err := Create(registry, RootDirSector, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := OpenRoot(registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return registry, d
}

func TestEntry(t *testing.T) {
	wanted := Entry{Sector: 42, InUse: true, Name: "abcdefghijklmn"}
	var b [EntrySize]byte
	encodeEntry(&wanted, &b)
	if b[EntrySize-1] != 0 {
		t.Fatal("wanted a NUL terminator")
	}
	var found Entry
	decodeEntry(&found, &b)
	if found != wanted {
		t.Fatalf("wanted `%+v`; found `%+v`", wanted, found)
	}
}

func TestDir_AddLookupRemove(t *testing.T) {
	_, d := newDir(t, 4)

	if err := d.Add("a", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Add("b", 11); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sector, err := d.Lookup("b"); err != nil || sector != 11 {
		t.Fatalf("wanted `(11, nil)`; found `(%d, %v)`", sector, err)
	}

	if sector, err := d.Remove("a"); err != nil || sector != 10 {
		t.Fatalf("wanted `(10, nil)`; found `(%d, %v)`", sector, err)
	}
	if _, err := d.Lookup("a"); !errors.Is(err, NotFoundErr) {
		t.Fatalf("wanted `%v`; found `%v`", NotFoundErr, err)
	}
	if _, err := d.Remove("a"); !errors.Is(err, NotFoundErr) {
		t.Fatalf("wanted `%v`; found `%v`", NotFoundErr, err)
	}

	// the freed slot is reused
	if err := d.Add("c", 12); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wanted := []Entry{
		{Sector: 12, InUse: true, Name: "c"},
		{Sector: 11, InUse: true, Name: "b"},
	}
	if found := d.Entries(); !reflect.DeepEqual(wanted, found) {
		t.Fatalf("wanted `%+v`; found `%+v`", wanted, found)
	}
}

func TestDir_AddErrors(t *testing.T) {
	type testCase struct {
		name   string
		entry  string
		wanted error
	}

	testCases := []testCase{
		{name: "exists", entry: "taken", wanted: ExistsErr},
		{name: "too long", entry: "abcdefghijklmno", wanted: NameTooLongErr},
		{name: "empty", entry: "", wanted: InvalidNameErr},
		{name: "separator", entry: "a/b", wanted: InvalidNameErr},
		{name: "full", entry: "overflow", wanted: FullErr},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, d := newDir(t, 2)
			if err := d.Add("taken", 10); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := d.Add("other", 11); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			err := d.Add(testCase.entry, 12)
			if !errors.Is(err, testCase.wanted) {
				t.Fatalf("wanted `%v`; found `%v`", testCase.wanted, err)
			}
		})
	}
}

func TestDir_ReadNext(t *testing.T) {
	_, d := newDir(t, 8)
	for i, name := range []string{Self, "x", Parent, "y"} {
		if err := d.Add(name, Sector(20+i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var found []string
	for {
		name, ok := d.ReadNext()
		if !ok {
			break
		}
		found = append(found, name)
	}
	if wanted := []string{"x", "y"}; !reflect.DeepEqual(wanted, found) {
		t.Fatalf("wanted `%v`; found `%v`", wanted, found)
	}

	if d.IsEmpty() {
		t.Fatal("IsEmpty(): wanted `false`; found `true`")
	}
	for _, name := range []string{"x", "y"} {
		if _, err := d.Remove(name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !d.IsEmpty() {
		t.Fatal("IsEmpty(): wanted `true`; found `false`")
	}
}

func TestOpen_NotADir(t *testing.T) {
	registry, _ := newDir(t, 2)
	if err := registry.Create(5, 10, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in, err := registry.Open(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Open(in); !errors.Is(err, NotADirErr) {
		t.Fatalf("wanted `%v`; found `%v`", NotADirErr, err)
	}
	if _, ok := registry.Lookup(5); ok {
		t.Fatal("wanted the inode closed after a failed open")
	}
}

func TestDir_Reopen(t *testing.T) {
	_, d := newDir(t, 2)
	other := d.Reopen()
	if other.Inode() != d.Inode() {
		t.Fatal("wanted the same backing inode")
	}
	if count := d.Inode().OpenCount(); count != 2 {
		t.Fatalf("open count: wanted `2`; found `%d`", count)
	}
	if err := other.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
