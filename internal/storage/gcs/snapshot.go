// Package gcs keeps the template snapshot in a Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultObject = "templates.json"

// Config captures the bucket and object holding the snapshot.
type Config struct {
	Bucket string
	Object string
}

// Snapshot reads and replaces one GCS object.
type Snapshot struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot.
func New(client *storage.Client, cfg Config) (*Snapshot, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := strings.TrimPrefix(strings.TrimSpace(cfg.Object), "/")
	if object == "" {
		object = defaultObject
	}
	return &Snapshot{
		client: client,
		bucket: cfg.Bucket,
		object: object,
	}, nil
}

// URI returns the gs:// location of the snapshot.
func (s *Snapshot) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Name identifies the backend in logs.
func (s *Snapshot) Name() string { return "gcs" }

// Load downloads the snapshot. A missing object yields nil data.
func (s *Snapshot) Load(ctx context.Context) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.URI(), err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	return data, nil
}

// Save uploads data, replacing the previous snapshot in one object write.
func (s *Snapshot) Save(ctx context.Context, data []byte) error {
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = contentType(s.object)
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (s *Snapshot) Close() error {
	return s.client.Close()
}

func contentType(object string) string {
	switch {
	case strings.HasSuffix(object, ".yaml"), strings.HasSuffix(object, ".yml"):
		return "application/yaml"
	default:
		return "application/json"
	}
}
