//go:build cloudintegration

package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/govarcall/pkg/source"
	"github.com/3leaps/govarcall/test/cloudtest"
)

func TestExecuteCallRemoteIndexAndBED(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "ref/hg38.fa.fai", []byte("chr1\t25\t6\t60\t61\nchr2\t30\t40\t60\t61\n"))
	cloudtest.PutObject(t, ctx, bucket, "ref/targets.bed", []byte("chr2\t21\t22\n"))

	opts := callFixture(t)
	opts.Fai = "s3://" + bucket + "/ref/hg38.fa.fai"
	opts.Bed = "s3://" + bucket + "/ref/targets.bed"

	opener := source.NewOpener(cloudtest.ProviderConfig())
	defer func() { _ = opener.Close() }()

	var buf bytes.Buffer
	n, err := executeCall(ctx, opts, opener, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), `--ctgName "chr2" --ctgStart "20" --ctgEnd "30"`)
	assert.Contains(t, buf.String(), `--bed_fn "`+opts.Bed+`"`)
	assert.Contains(t, buf.String(), filepath.Base(opts.OutputPrefix))
}
