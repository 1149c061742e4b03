package snapshot

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/filesystem"
	"github.com/weberc2/sectorfs/pkg/objectstore"
	"github.com/weberc2/sectorfs/pkg/testsupport"
)

var epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore() (*Store, *testsupport.ObjectStoreFake) {
	objects := &testsupport.ObjectStoreFake{}
	return &Store{
		Objects: objects,
		Prefix:  "snapshots",
		Now:     func() time.Time { return epoch },
	}, objects
}

func formatted(t *testing.T) *device.Memory {
	mem := device.NewMemory(64)
	fs, err := filesystem.Format(mem, filesystem.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fs.WriteFile(nil, "/motd", []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return mem
}

func TestPushPull(t *testing.T) {
	store, _ := newStore()
	store.Objects = &objectstore.GzipObjectStore{ObjectStore: store.Objects}
	src := formatted(t)

	pushed, err := store.Push("Nightly Backup", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pushed.Key != "snapshots/nightly-backup" {
		t.Fatalf("wanted `snapshots/nightly-backup`; found `%s`", pushed.Key)
	}
	if pushed.Sectors != 64 || !pushed.Created.Equal(epoch) {
		t.Fatalf("unexpected manifest: `%+v`", pushed)
	}

	dst := device.NewMemory(128)
	pulled, err := store.Pull("nightly backup", dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pulled.ID != pushed.ID || pulled.Digest != pushed.Digest {
		t.Fatalf("wanted `%+v`; found `%+v`", pushed, pulled)
	}
	if !bytes.Equal(src.Bytes(), dst.Bytes()[:len(src.Bytes())]) {
		t.Fatal("pulled image differs from the pushed one")
	}

	fs, err := filesystem.Open(dst, filesystem.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fs.Close()
	if found := fs.FreeMap.Len(); found != pushed.Sectors {
		t.Fatalf("volume sectors: wanted `%d`; found `%d`", pushed.Sectors, found)
	}
	data, err := fs.ReadFile(nil, "/motd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("wanted `hello`; found `%s`", data)
	}
}

func TestPull_Failures(t *testing.T) {
	type testCase struct {
		name   string
		tamper func(objects *testsupport.ObjectStoreFake)
		dst    *device.Memory
		wanted error
	}

	testCases := []testCase{{
		name: "digest mismatch",
		tamper: func(objects *testsupport.ObjectStoreFake) {
			objects.Corrupt("snapshots/vol/image", 700)
		},
		dst:    device.NewMemory(64),
		wanted: DigestMismatchErr,
	}, {
		name: "truncated image",
		tamper: func(objects *testsupport.ObjectStoreFake) {
			objects.PutObject(
				"snapshots/vol/image",
				strings.NewReader("short"),
			)
		},
		dst:    device.NewMemory(64),
		wanted: SizeMismatchErr,
	}, {
		name:   "destination too small",
		tamper: func(*testsupport.ObjectStoreFake) {},
		dst:    device.NewMemory(32),
		wanted: TooSmallErr,
	}}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			store, objects := newStore()
			if _, err := store.Push("vol", formatted(t)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testCase.tamper(objects)

			before := append([]byte(nil), testCase.dst.Bytes()...)
			if _, err := store.Pull("vol", testCase.dst); !errors.Is(
				err,
				testCase.wanted,
			) {
				t.Fatalf("wanted `%v`; found `%v`", testCase.wanted, err)
			}
			if !bytes.Equal(before, testCase.dst.Bytes()) {
				t.Fatal("destination modified by a failed pull")
			}
		})
	}
}

func TestPull_Missing(t *testing.T) {
	store, _ := newStore()
	_, err := store.Pull("nope", device.NewMemory(8))
	var notFound *objectstore.ObjectNotFoundErr
	if !errors.As(err, &notFound) {
		t.Fatalf("wanted `*objectstore.ObjectNotFoundErr`; found `%v`", err)
	}
}

func TestListDelete(t *testing.T) {
	store, objects := newStore()
	for _, name := range []string{"beta", "alpha"} {
		if _, err := store.Push(name, device.NewMemory(8)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// unrelated objects under the prefix are ignored
	objects.PutObject("snapshots/README", strings.NewReader("hi"))

	manifests, err := store.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var names []string
	for _, manifest := range manifests {
		names = append(names, manifest.Name)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("wanted `[alpha beta]`; found `%v`", names)
	}

	if err := store.Delete("alpha"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifests, err = store.List(); err != nil || len(manifests) != 1 {
		t.Fatalf("wanted one snapshot; found `%v` (err=%v)", manifests, err)
	}
}

func TestKey_Invalid(t *testing.T) {
	store, _ := newStore()
	if _, err := store.Push("!!!", device.NewMemory(8)); !errors.Is(
		err,
		InvalidNameErr,
	) {
		t.Fatalf("wanted `%v`; found `%v`", InvalidNameErr, err)
	}
}
