package testsupport

import (
	"bytes"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"

	"github.com/weberc2/sectorfs/pkg/objectstore"
)

// ObjectStoreFake is an in-memory `objectstore.ObjectStore`.
type ObjectStoreFake struct {
	lock    sync.Mutex
	objects map[string][]byte
}

func (osf *ObjectStoreFake) PutObject(key string, data io.ReadSeeker) error {
	var b bytes.Buffer
	if _, err := io.Copy(&b, data); err != nil {
		return err
	}
	osf.lock.Lock()
	defer osf.lock.Unlock()
	if osf.objects == nil {
		osf.objects = make(map[string][]byte)
	}
	osf.objects[key] = b.Bytes()
	return nil
}

func (osf *ObjectStoreFake) GetObject(key string) (io.ReadCloser, error) {
	osf.lock.Lock()
	defer osf.lock.Unlock()
	data, found := osf.objects[key]
	if !found {
		return nil, &objectstore.ObjectNotFoundErr{Key: key}
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (osf *ObjectStoreFake) ListObjects(prefix string) ([]string, error) {
	osf.lock.Lock()
	defer osf.lock.Unlock()
	var out []string
	for key := range osf.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (osf *ObjectStoreFake) DeleteObject(key string) error {
	osf.lock.Lock()
	defer osf.lock.Unlock()
	if _, found := osf.objects[key]; !found {
		return &objectstore.ObjectNotFoundErr{Key: key}
	}
	delete(osf.objects, key)
	return nil
}

// Corrupt flips a bit in the stored object at `key` (if any).
func (osf *ObjectStoreFake) Corrupt(key string, offset int) {
	osf.lock.Lock()
	defer osf.lock.Unlock()
	if data, found := osf.objects[key]; found && offset < len(data) {
		data[offset] ^= 0x01
	}
}
