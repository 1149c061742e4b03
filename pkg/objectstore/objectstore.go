package objectstore

import (
	"fmt"
	"io"

	pz "github.com/weberc2/httpeasy"
)

// ObjectStore is a flat key/value blob store scoped to a single bucket.
type ObjectStore interface {
	PutObject(key string, data io.ReadSeeker) error
	GetObject(key string) (io.ReadCloser, error)
	ListObjects(prefix string) ([]string, error)
	DeleteObject(key string) error
}

type ObjectNotFoundErr struct {
	Bucket string
	Key    string
}

func (err *ObjectNotFoundErr) HTTPError() *pz.HTTPError {
	return &pz.HTTPError{Status: 404, Message: "object not found"}
}

func (err *ObjectNotFoundErr) Error() string {
	return fmt.Sprintf(
		"object not found: bucket=%s key=%s",
		err.Bucket,
		err.Key,
	)
}
