package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/3leaps/govarcall/pkg/provider"
	"github.com/3leaps/govarcall/pkg/provider/file"
	"github.com/3leaps/govarcall/pkg/provider/s3"
)

// S3Factory builds a provider for one bucket. Tests substitute it.
type S3Factory func(ctx context.Context, bucket string) (provider.Provider, error)

// Opener opens locations through the matching provider. S3 providers are
// created lazily, one per bucket, and reused.
type Opener struct {
	newS3 S3Factory

	mu      sync.Mutex
	buckets map[string]provider.Provider
}

// NewOpener returns an opener whose S3 providers share the template config;
// the bucket field is filled per location.
func NewOpener(template s3.Config) *Opener {
	return &Opener{
		newS3: func(ctx context.Context, bucket string) (provider.Provider, error) {
			cfg := template
			cfg.Bucket = bucket
			return s3.New(ctx, cfg)
		},
		buckets: make(map[string]provider.Provider),
	}
}

// WithS3Factory replaces how S3 providers are built.
func (o *Opener) WithS3Factory(f S3Factory) *Opener {
	o.newS3 = f
	return o
}

// Resolve returns the provider and key for a location.
func (o *Opener) Resolve(ctx context.Context, loc *Location) (provider.Provider, string, error) {
	if !loc.IsRemote() {
		p, err := file.New(file.Config{BaseDir: filepath.Dir(loc.Key)})
		if err != nil {
			return nil, "", err
		}
		return p, filepath.Base(loc.Key), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.buckets[loc.Bucket]; ok {
		return p, loc.Key, nil
	}
	p, err := o.newS3(ctx, loc.Bucket)
	if err != nil {
		return nil, "", err
	}
	o.buckets[loc.Bucket] = p
	return p, loc.Key, nil
}

// Open parses uri and opens the object for reading.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	p, key, err := o.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	body, _, err := p.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Stat parses uri and returns its metadata.
func (o *Opener) Stat(ctx context.Context, uri string) (*provider.ObjectMeta, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	p, key, err := o.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	return p.Head(ctx, key)
}

// Fetch makes uri available as a local file. Local locations are returned
// as-is; remote objects are downloaded into dir under their base name.
func (o *Opener) Fetch(ctx context.Context, uri, dir string) (string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if !loc.IsRemote() {
		return loc.Key, nil
	}

	body, err := o.Open(ctx, uri)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create fetch dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(loc.Key))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("download %s: %w", uri, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}

// Upload copies a local file to uri. The provider behind uri must support
// writes.
func (o *Opener) Upload(ctx context.Context, localPath, uri string) error {
	loc, err := ParseURI(uri)
	if err != nil {
		return err
	}
	p, key, err := o.Resolve(ctx, loc)
	if err != nil {
		return err
	}
	putter, ok := p.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("%w: %s provider does not support writes", ErrUnsupportedProvider, loc.Provider)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	return putter.PutObject(ctx, key, f, st.Size())
}

// Close closes every cached S3 provider.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var firstErr error
	for bucket, p := range o.buckets {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(o.buckets, bucket)
	}
	return firstErr
}
