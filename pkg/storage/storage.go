// Package storage provides statement file storage with local and GCS implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when the object at a path does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Storage defines the operations the import worker needs on uploaded statement files.
type Storage interface {
	// Open returns a reader for the object at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Put stores r at path and returns the canonical storage path.
	Put(ctx context.Context, path string, contentType string, r io.Reader) (string, error)

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeGCS   StorageType = "gcs"
)

// Config holds storage configuration
type Config struct {
	Type      StorageType
	LocalPath string
	GCSBucket string
}

// New creates a new Storage implementation based on configuration
func New(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeGCS:
		return NewGCSStorage(ctx, cfg.GCSBucket)
	case StorageTypeLocal:
		fallthrough
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ReadAll reads the whole object at path, capped at maxBytes when maxBytes > 0.
func ReadAll(ctx context.Context, s Storage, path string, maxBytes int64) ([]byte, error) {
	rc, err := s.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", path, maxBytes)
	}
	return data, nil
}

// splitGCSPath splits "gs://bucket/object" into bucket and object. Plain
// object keys return an empty bucket.
func splitGCSPath(path string) (bucket, object string) {
	if !strings.HasPrefix(path, "gs://") {
		return "", strings.TrimPrefix(path, "/")
	}
	rest := strings.TrimPrefix(path, "gs://")
	bucket, object, _ = strings.Cut(rest, "/")
	return bucket, object
}
