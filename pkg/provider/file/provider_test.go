package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/govarcall/pkg/provider"
)

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{BaseDir: "  "}.Validate())
	assert.NoError(t, Config{BaseDir: "/tmp"}.Validate())
}

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	body := "chr1\t248956422\t112\t60\t61\n"
	require.NoError(t, p.PutObject(ctx, "ref/hg38.fa.fai", strings.NewReader(body), int64(len(body))))

	meta, err := p.Head(ctx, "/ref/hg38.fa.fai")
	require.NoError(t, err)
	assert.Equal(t, "ref/hg38.fa.fai", meta.Key)
	assert.Equal(t, int64(len(body)), meta.Size)

	rc, size, err := p.GetObject(ctx, "ref/hg38.fa.fai")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.Equal(t, int64(len(body)), size)
}

func TestProviderPutOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	require.NoError(t, p.PutObject(ctx, "ckpt/model-000001", strings.NewReader("old"), 3))
	require.NoError(t, p.PutObject(ctx, "ckpt/model-000001", strings.NewReader("newer"), 5))

	data, err := os.ReadFile(filepath.Join(dir, "ckpt", "model-000001"))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestProviderDeleteObject(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, p.PutObject(ctx, "probe/x", strings.NewReader("x"), 1))
	require.NoError(t, p.DeleteObject(ctx, "probe/x"))
	_, err = p.Head(ctx, "probe/x")
	assert.True(t, provider.IsNotFound(err))

	assert.NoError(t, p.DeleteObject(ctx, "probe/x"), "missing keys delete cleanly")
}

var _ provider.ObjectDeleter = (*Provider)(nil)

func TestProviderErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{name: "head missing", call: func() error { _, err := p.Head(ctx, "missing.bed"); return err }, want: provider.ErrNotFound},
		{name: "head dir", call: func() error { _, err := p.Head(ctx, "sub"); return err }, want: provider.ErrNotFound},
		{name: "get missing", call: func() error { _, _, err := p.GetObject(ctx, "missing.bed"); return err }, want: provider.ErrNotFound},
		{name: "get dir", call: func() error { _, _, err := p.GetObject(ctx, "sub"); return err }, want: provider.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, provider.IsNotFound(err))
		})
	}
}

func TestFullPathTraversal(t *testing.T) {
	p, err := New(Config{BaseDir: "/data"})
	require.NoError(t, err)

	full, err := p.fullPath("a/../b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "b.txt"), full)

	// Leading slashes are stripped, so ../ cannot escape the base.
	full, err = p.fullPath("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "etc", "passwd"), full)

	_, err = p.fullPath("")
	assert.Error(t, err)
}
