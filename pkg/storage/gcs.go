package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket. Paths are
// either "gs://bucket/object" or object keys inside the default bucket.
type GCSStorage struct {
	client *gcs.Client
	bucket string
}

// NewGCSStorage creates a client using application default credentials.
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("GCS bucket is required")
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

func (s *GCSStorage) object(path string) *gcs.ObjectHandle {
	bucket, object := splitGCSPath(path)
	if bucket == "" {
		bucket = s.bucket
	}
	return s.client.Bucket(bucket).Object(object)
}

// Open returns a reader for the object.
func (s *GCSStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := s.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open gcs object %s: %w", path, err)
	}
	return reader, nil
}

// Put uploads r and returns the gs:// path.
func (s *GCSStorage) Put(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	obj := s.object(path)
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := io.Copy(wc, r); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", obj.BucketName(), obj.ObjectName()), nil
}

// Delete removes the object; a missing object is not an error.
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	err := s.object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}
