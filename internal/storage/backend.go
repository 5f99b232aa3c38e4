// Package storage defines the Backend interface for raw archive retention.
// Project trees live in the metadata store; the uploaded archive they were
// imported from is kept here so it can be re-imported with the same ids.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for blob storage backends.
// A missing object is reported with an error wrapping fs.ErrNotExist.
type Backend interface {
	// GetObject returns the whole object and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key, replacing any object there.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// ArchiveKey is where a project's last uploaded archive is kept.
func ArchiveKey(projectID string) string {
	return "projects/" + projectID + "/archive.zip"
}
