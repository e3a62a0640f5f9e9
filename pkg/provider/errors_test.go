package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name:     "bucket and key",
			err:      &ProviderError{Op: "Head", Provider: ProviderS3, Bucket: "genomes", Key: "hg38.fa.fai", Err: ErrNotFound},
			expected: "s3 Head: genomes/hg38.fa.fai: object not found",
		},
		{
			name:     "key only",
			err:      &ProviderError{Op: "GetObject", Provider: ProviderFile, Key: "train.gvd", Err: ErrAccessDenied},
			expected: "file GetObject: train.gvd: access denied",
		},
		{
			name:     "bucket only",
			err:      &ProviderError{Op: "New", Provider: ProviderS3, Bucket: "genomes", Err: ErrInvalidCredentials},
			expected: "s3 New: genomes: invalid credentials",
		},
		{
			name:     "neither",
			err:      &ProviderError{Op: "New", Provider: ProviderS3, Err: errors.New("failed to load config")},
			expected: "s3 New: failed to load config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("open dataset: %w", &ProviderError{Op: "GetObject", Provider: ProviderS3, Err: err})
	}

	assert.True(t, IsNotFound(wrap(ErrNotFound)))
	assert.True(t, IsNotFound(wrap(ErrBucketNotFound)))
	assert.False(t, IsNotFound(wrap(ErrAccessDenied)))

	assert.True(t, IsAccessDenied(wrap(ErrAccessDenied)))
	assert.True(t, IsAccessDenied(wrap(ErrInvalidCredentials)))
	assert.False(t, IsAccessDenied(wrap(ErrThrottled)))

	assert.True(t, IsUnavailable(wrap(ErrThrottled)))
	assert.True(t, IsUnavailable(wrap(ErrProviderUnavailable)))
	assert.False(t, IsUnavailable(errors.New("other")))
}

func TestProviderType_String(t *testing.T) {
	assert.Equal(t, "s3", ProviderS3.String())
	assert.Equal(t, "file", ProviderFile.String())
}
