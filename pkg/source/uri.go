// Package source resolves the locations govarcall reads and writes (a local
// path or an s3://bucket/key URI) to a storage provider and key.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/3leaps/govarcall/pkg/provider"
)

var (
	// ErrInvalidURI indicates the location could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates an s3 URI without a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")

	// ErrMissingKey indicates an s3 URI that names a bucket but no object.
	ErrMissingKey = errors.New("missing object key")
)

// Location is a parsed input or output location.
//
// Examples:
//   - s3://genomes/hg38/hg38.fa.fai
//   - file:///data/train.gvd
//   - ./ckpt/model-000003
type Location struct {
	// Provider is ProviderS3 or ProviderFile.
	Provider provider.ProviderType

	// Bucket is the bucket name for s3 locations.
	Bucket string

	// Key is the object key for s3, or the cleaned local path for files.
	Key string
}

// String returns the location in canonical form.
func (l *Location) String() string {
	if l.Provider == provider.ProviderS3 {
		return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
	}
	return l.Key
}

// IsRemote reports whether the location lives in object storage.
func (l *Location) IsRemote() bool {
	return l.Provider == provider.ProviderS3
}

// Join returns a sibling location with name appended to the key's
// directory-like prefix.
func (l *Location) Join(name string) *Location {
	out := *l
	if l.Provider == provider.ProviderS3 {
		out.Key = strings.TrimSuffix(l.Key, "/") + "/" + strings.TrimPrefix(name, "/")
		return &out
	}
	out.Key = filepath.Join(l.Key, name)
	return &out
}

// ParseURI parses a local path or an s3:// URI.
//
// Anything without a scheme is a local path. Supported schemes are s3 and
// file; s3 URIs must name an object.
func ParseURI(uri string) (*Location, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return &Location{Provider: provider.ProviderFile, Key: filepath.Clean(uri)}, nil
	}

	scheme := strings.ToLower(uri[:schemeEnd])
	remainder := uri[schemeEnd+3:]
	switch scheme {
	case "file":
		if remainder == "" {
			return nil, fmt.Errorf("%w: empty path in %s", ErrInvalidURI, uri)
		}
		return &Location{Provider: provider.ProviderFile, Key: filepath.Clean(remainder)}, nil
	case "s3":
	default:
		return nil, fmt.Errorf("%w: %s (supported: s3, file)", ErrUnsupportedProvider, scheme)
	}

	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingKey, uri)
	}

	return &Location{Provider: provider.ProviderS3, Bucket: bucket, Key: key}, nil
}
