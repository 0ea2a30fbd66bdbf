// Package blobstore provides keyed blob storage for project content and
// audio renders. The production implementation talks to S3; a no-op
// implementation backs UI development.
package blobstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrKeyNotFound = errors.New("blobstore: key not found")
	ErrInvalidKey  = errors.New("blobstore: invalid key")
)

// Object describes one stored blob. ETag is the content hash reported by the
// store, with quotes stripped, and doubles as the remote manifest hash.
type Object struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// Store is the object-store client surface the sync engine consumes.
// Implementations must be safe for concurrent use by transfer workers.
type Store interface {
	// List returns every object under prefix. Pagination is transparent.
	List(ctx context.Context, prefix string) ([]*Object, error)

	// Upload stores the file at localPath under key and returns the stored
	// object. The local file is never removed by the store.
	Upload(ctx context.Context, localPath string, key string) (*Object, error)

	// Download fetches key into localPath, creating parent directories.
	Download(ctx context.Context, key string, localPath string) error

	// Copy duplicates srcKey to dstKey server-side.
	Copy(ctx context.Context, srcKey string, dstKey string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NormalizeKey rewrites legacy backslash separators to forward slashes.
// Old clients wrote Windows-style keys; reads sanitize, writes never produce
// them, and stored keys are not migrated.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(key, `\`, "/")
}
