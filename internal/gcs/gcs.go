// Package gcs provides access to the receipt document bucket. Upstream OCR
// drops one JSON sidecar per receipt into the bucket; the ingest binary
// lists and fetches them through this package.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// DocumentStore is the interface for receipt document storage operations.
// This interface enables mocking and testing of storage functionality.
type DocumentStore interface {
	// Upload uploads a local file to a storage bucket under the given object name.
	Upload(ctx context.Context, bucketName, objectName, filePath string) error

	// Fetch downloads file bytes from the given storage URI.
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)

	// List returns the URIs of objects under the prefix in the bucket.
	List(ctx context.Context, bucketName, prefix string) ([]string, error)
}

// Service is the Google Cloud Storage implementation of DocumentStore. It
// assumes Application Default Credentials are configured.
type Service struct {
	client *storage.Client
}

// NewService creates a Service with a shared storage client.
func NewService(ctx context.Context) (*Service, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewService: creating storage client: %w", err)
	}
	return &Service{client: client}, nil
}

// Close closes the underlying storage client.
func (s *Service) Close() error {
	return s.client.Close()
}

// Upload uploads a local file to the bucket under the given object name.
func (s *Service) Upload(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("Upload: opening file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("Upload: copying file to writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Upload: finalizing upload: %w", err)
	}

	return nil
}

// Fetch downloads the file bytes from the given GCS URI,
// e.g. gs://my-bucket/receipts/0001.json.
func (s *Service) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := splitURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}

	return data, nil
}

// List returns gs:// URIs for every object under the prefix.
func (s *Service) List(ctx context.Context, bucketName, prefix string) ([]string, error) {
	it := s.client.Bucket(bucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var uris []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iterating objects in %s: %w", bucketName, err)
		}
		uris = append(uris, fmt.Sprintf("gs://%s/%s", bucketName, attrs.Name))
	}

	return uris, nil
}

// FilenameFromURI extracts the filename from a GCS URI,
// e.g. "gs://bucket/folder/file.json" gives "file.json".
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

func splitURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

var _ DocumentStore = (*Service)(nil)
