// Package snapshot copies whole volume images to and from an object store.
//
// Each snapshot is two objects under `<prefix>/<slug>/`: the raw image and a
// JSON manifest recording its size and BLAKE2b-256 digest. Pulls verify the
// digest before touching the destination device.
package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/objectstore"
	. "github.com/weberc2/sectorfs/pkg/types"
	"golang.org/x/crypto/blake2b"
)

const (
	InvalidNameErr    ConstError = "invalid snapshot name"
	DigestMismatchErr ConstError = "snapshot digest mismatch"
	SizeMismatchErr   ConstError = "snapshot size mismatch"
	TooSmallErr       ConstError = "destination device too small"

	imageObject    = "image"
	manifestObject = "manifest.json"
)

type Manifest struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Key     string    `json:"key"`
	Sectors Sector    `json:"sectors"`
	Digest  string    `json:"digest"`
	Created time.Time `json:"created"`
}

type Store struct {
	Objects objectstore.ObjectStore
	Prefix  string

	// Now defaults to `time.Now`.
	Now func() time.Time
}

// Key returns the object-store directory for the snapshot `name`.
func (s *Store) Key(name string) (string, error) {
	key := slug.Make(name)
	if key == "" {
		return "", fmt.Errorf("snapshot `%s`: %w", name, InvalidNameErr)
	}
	return path.Join(s.Prefix, key), nil
}

// Push uploads every sector of `dev` as the snapshot `name`, replacing any
// previous snapshot of the same name.
func (s *Store) Push(name string, dev device.BlockDevice) (*Manifest, error) {
	key, err := s.Key(name)
	if err != nil {
		return nil, err
	}

	sectors := dev.Sectors()
	image := make([]byte, 0, Byte(sectors)*SectorSize)
	var b SectorBuffer
	for sector := Sector(0); sector < sectors; sector++ {
		if err := dev.ReadSector(sector, &b); err != nil {
			return nil, fmt.Errorf("pushing snapshot `%s`: %w", name, err)
		}
		image = append(image, b[:]...)
	}

	digest := blake2b.Sum256(image)
	manifest := Manifest{
		ID:      uuid.New(),
		Name:    name,
		Key:     key,
		Sectors: sectors,
		Digest:  hex.EncodeToString(digest[:]),
		Created: s.now(),
	}
	data, err := json.Marshal(&manifest)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest for `%s`: %w", name, err)
	}

	// the manifest goes last so a reader never sees one without its image
	if err := s.Objects.PutObject(
		path.Join(key, imageObject),
		bytes.NewReader(image),
	); err != nil {
		return nil, fmt.Errorf("pushing snapshot `%s`: %w", name, err)
	}
	if err := s.Objects.PutObject(
		path.Join(key, manifestObject),
		bytes.NewReader(data),
	); err != nil {
		return nil, fmt.Errorf("pushing snapshot `%s`: %w", name, err)
	}
	return &manifest, nil
}

// Manifest fetches the manifest of the snapshot `name`.
func (s *Store) Manifest(name string) (*Manifest, error) {
	key, err := s.Key(name)
	if err != nil {
		return nil, err
	}
	return s.manifest(path.Join(key, manifestObject))
}

func (s *Store) manifest(key string) (*Manifest, error) {
	data, err := s.get(key)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshaling manifest `%s`: %w", key, err)
	}
	return &manifest, nil
}

// Pull downloads the snapshot `name`, verifies it, and writes it to the
// leading sectors of `dev`. Nothing is written if verification fails.
func (s *Store) Pull(name string, dev device.BlockDevice) (*Manifest, error) {
	manifest, err := s.Manifest(name)
	if err != nil {
		return nil, fmt.Errorf("pulling snapshot `%s`: %w", name, err)
	}
	if dev.Sectors() < manifest.Sectors {
		return nil, fmt.Errorf(
			"pulling snapshot `%s` of `%d` sectors onto `%d` sectors: %w",
			name,
			manifest.Sectors,
			dev.Sectors(),
			TooSmallErr,
		)
	}

	image, err := s.get(path.Join(manifest.Key, imageObject))
	if err != nil {
		return nil, fmt.Errorf("pulling snapshot `%s`: %w", name, err)
	}
	if Byte(len(image)) != Byte(manifest.Sectors)*SectorSize {
		return nil, fmt.Errorf(
			"pulling snapshot `%s`: wanted `%d` bytes; found `%d`: %w",
			name,
			Byte(manifest.Sectors)*SectorSize,
			len(image),
			SizeMismatchErr,
		)
	}
	digest := blake2b.Sum256(image)
	if found := hex.EncodeToString(digest[:]); found != manifest.Digest {
		return nil, fmt.Errorf(
			"pulling snapshot `%s`: wanted digest `%s`; found `%s`: %w",
			name,
			manifest.Digest,
			found,
			DigestMismatchErr,
		)
	}

	var b SectorBuffer
	for sector := Sector(0); sector < manifest.Sectors; sector++ {
		copy(b[:], image[Byte(sector)*SectorSize:])
		if err := dev.WriteSector(sector, &b); err != nil {
			return nil, fmt.Errorf("pulling snapshot `%s`: %w", name, err)
		}
	}
	return manifest, nil
}

// List returns the manifests of every snapshot under the store's prefix.
func (s *Store) List() ([]Manifest, error) {
	prefix := s.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := s.Objects.ListObjects(prefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	manifests := []Manifest{}
	for _, key := range keys {
		if path.Base(key) != manifestObject {
			continue
		}
		manifest, err := s.manifest(key)
		if err != nil {
			// deleted between the listing and the fetch
			var notFound *objectstore.ObjectNotFoundErr
			if errors.As(err, &notFound) {
				continue
			}
			return nil, fmt.Errorf("listing snapshots: %w", err)
		}
		manifests = append(manifests, *manifest)
	}
	return manifests, nil
}

// Delete removes the snapshot `name`.
func (s *Store) Delete(name string) error {
	key, err := s.Key(name)
	if err != nil {
		return err
	}
	for _, object := range []string{manifestObject, imageObject} {
		if err := s.Objects.DeleteObject(path.Join(key, object)); err != nil {
			return fmt.Errorf("deleting snapshot `%s`: %w", name, err)
		}
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	body, err := s.Objects.GetObject(key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading object `%s`: %w", key, err)
	}
	return data, nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
