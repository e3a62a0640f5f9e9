// Package provider defines the object storage surface govarcall reads its
// inputs from and writes checkpoints to.
//
// Providers are deliberately narrow: a reference index, a BED file, a dataset
// container or a checkpoint is always addressed by a single key, so there is
// no listing. Authentication uses SDK default credential chains.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider reads single objects.
//
// Implementations should:
//   - Use SDK default credential chains (AWS default config)
//   - Return ErrNotFound (wrapped) for missing keys
//   - Be safe for concurrent use
type Provider interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject opens the object body as a stream. The caller closes it.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectPutter can create or overwrite objects. Checkpoint upload uses it
// through a type assertion.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter can remove objects. The write probe uses it to clean up
// after itself.
type ObjectDeleter interface {
	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error
}

// ObjectMeta is the metadata returned by Head.
type ObjectMeta struct {
	// Key is the object key (path) relative to the provider root.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag; empty for local files.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time

	// ContentType is the MIME type of the object, if known.
	ContentType string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents the local filesystem.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
