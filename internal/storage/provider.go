// Package storage defines the blob store contract used to upload export files.
// Implementations live in the gcs, s3, local and memory subpackages.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// Provider uploads an object and returns a URI identifying it.
type Provider interface {
	PutObject(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error)
}

// NoOpProvider discards uploads. It backs the "noop" provider setting.
type NoOpProvider struct{}

// PutObject drains r and returns a noop:// URI.
func (NoOpProvider) PutObject(_ context.Context, objectName string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("discard %s: %w", objectName, err)
	}
	return "noop://" + objectName, nil
}

// ObjectName joins a configured prefix and a file name into an object key.
func ObjectName(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// UploadFile streams the local file at localPath to p under objectName.
func UploadFile(ctx context.Context, p Provider, localPath, objectName, contentType string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // path is produced by the export job
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	uri, err := p.PutObject(ctx, objectName, contentType, f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	return uri, nil
}
