package freemap

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/weberc2/sectorfs/pkg/bcache"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/inode"
	. "github.com/weberc2/sectorfs/pkg/types"
)

func TestBitmap_FindRun(t *testing.T) {
	type testCase struct {
		name       string
		bits       uint64
		set        []uint64
		count      uint64
		wanted     uint64
		wantedOkay bool
	}

	testCases := []testCase{{
		name:       "empty bitmap",
		bits:       16,
		count:      3,
		wanted:     0,
		wantedOkay: true,
	}, {
		name:       "skips short gaps",
		bits:       16,
		set:        []uint64{0, 3, 4},
		count:      3,
		wanted:     5,
		wantedOkay: true,
	}, {
		name:       "run at the very end",
		bits:       10,
		set:        []uint64{0, 1, 2, 3, 4, 5, 6},
		count:      3,
		wanted:     7,
		wantedOkay: true,
	}, {
		name:       "no room",
		bits:       10,
		set:        []uint64{2, 5, 8},
		count:      3,
		wantedOkay: false,
	}, {
		name:       "zero count",
		bits:       10,
		count:      0,
		wantedOkay: false,
	}}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			bm := NewBitmap(testCase.bits)
			for _, i := range testCase.set {
				bm.Set(i)
			}
			found, ok := bm.FindRun(testCase.count)
			if ok != testCase.wantedOkay {
				t.Fatalf("ok: wanted `%t`; found `%t`", testCase.wantedOkay, ok)
			}
			if ok && found != testCase.wanted {
				t.Fatalf("wanted `%d`; found `%d`", testCase.wanted, found)
			}
		})
	}
}

func TestMap_AllocateRelease(t *testing.T) {
	m := New(16, nil)
	if free := m.Free(); free != 14 {
		t.Fatalf("free: wanted `14`; found `%d`", free)
	}

	first, err := m.Allocate(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != 2 {
		t.Fatalf("wanted `2`; found `%d`", first)
	}
	second, err := m.Allocate(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != 6 {
		t.Fatalf("wanted `6`; found `%d`", second)
	}

	if _, err := m.Allocate(1); !errors.Is(err, NoSpaceErr) {
		t.Fatalf("wanted `%v`; found `%v`", NoSpaceErr, err)
	}

	if err := m.Release(first, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Release(first, 1); !errors.Is(err, NotAllocatedErr) {
		t.Fatalf("wanted `%v`; found `%v`", NotAllocatedErr, err)
	}
	if err := m.Release(15, 2); !errors.Is(err, OutOfRangeErr) {
		t.Fatalf("wanted `%v`; found `%v`", OutOfRangeErr, err)
	}

	// the freed run is reused
	third, err := m.Allocate(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != first {
		t.Fatalf("wanted `%d`; found `%d`", first, third)
	}
}

func TestMap_FlushLoad(t *testing.T) {
	const sectors = 100
	mem := device.NewMemory(sectors)
	cache := bcache.New(mem, bcache.DefaultCapacity)
	m := New(sectors, nil)
	registry := inode.NewRegistry(cache, m)

	if err := registry.Create(
		FreeMapSector,
		RecordSize(sectors),
		false,
	); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in, err := registry.Open(FreeMapSector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.SetStore(&InodeStore{Inode: in})

	allocated, err := m.Allocate(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// reload from a cold cache; the size comes from the record
	cache = bcache.New(mem, bcache.DefaultCapacity)
	loaded := New(8, nil)
	registry = inode.NewRegistry(cache, loaded)
	in, err = registry.Open(FreeMapSector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer in.Close()
	if err := loaded.Load(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if found := loaded.Len(); found != sectors {
		t.Fatalf("len: wanted `%d`; found `%d`", sectors, found)
	}
	if free := loaded.Free(); free != m.Free() {
		t.Fatalf("free: wanted `%d`; found `%d`", m.Free(), free)
	}
	for s := allocated; s < allocated+7; s++ {
		if !loaded.IsAllocated(s) {
			t.Fatalf("sector `%d`: wanted allocated; found free", s)
		}
	}
}

func TestMap_LoadCorrupt(t *testing.T) {
	type testCase struct {
		name    string
		sectors uint32
	}

	testCases := []testCase{
		{name: "too few sectors", sectors: 1},
		{name: "bitmap longer than inode", sectors: 1000},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cache := bcache.New(device.NewMemory(16), bcache.DefaultCapacity)
			registry := inode.NewRegistry(cache, New(16, nil))
			if err := registry.Create(FreeMapSector, RecordSize(16), false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			in, err := registry.Open(FreeMapSector)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer in.Close()

			var header [4]byte
			binary.LittleEndian.PutUint32(header[:], testCase.sectors)
			in.WriteAt(header[:], 0)

			if err := New(16, nil).Load(in); !errors.Is(err, CorruptErr) {
				t.Fatalf("wanted `%v`; found `%v`", CorruptErr, err)
			}
		})
	}
}

func TestMap_FlushWithoutStore(t *testing.T) {
	if err := New(8, nil).Flush(); err == nil {
		t.Fatal("wanted error; found `nil`")
	}
}
