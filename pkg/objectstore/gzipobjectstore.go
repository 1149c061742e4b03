package objectstore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// GzipObjectStore compresses objects on the way into the wrapped store and
// decompresses them on the way out.
type GzipObjectStore struct {
	ObjectStore
}

func (os *GzipObjectStore) PutObject(key string, data io.ReadSeeker) error {
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("compressing object `%s`: %w", key, err)
	}
	if _, err := io.Copy(w, data); err != nil {
		return fmt.Errorf("compressing object `%s`: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compressing object `%s`: %w", key, err)
	}
	return os.ObjectStore.PutObject(key, bytes.NewReader(b.Bytes()))
}

func (os *GzipObjectStore) GetObject(key string) (io.ReadCloser, error) {
	body, err := os.ObjectStore.GetObject(key)
	if err != nil {
		return nil, err
	}
	r, err := gzip.NewReader(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("decompressing object `%s`: %w", key, err)
	}
	return &gzipReadCloser{body: body, Reader: r}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.ReadCloser
}

func (grc *gzipReadCloser) Close() error {
	if err := grc.Reader.Close(); err != nil {
		grc.body.Close()
		return err
	}
	return grc.body.Close()
}
