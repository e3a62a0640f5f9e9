package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/govarcall/internal/config"
	apperrors "github.com/3leaps/govarcall/internal/errors"
	"github.com/3leaps/govarcall/pkg/output"
	"github.com/3leaps/govarcall/pkg/provider/s3"
	"github.com/3leaps/govarcall/pkg/source"
)

func writeFile(t *testing.T, path, content string, mode os.FileMode) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

// callFixture lays out a checkpoint, reference with index, alignment and
// fake executables, and returns options that pass validation.
func callFixture(t *testing.T) callOptions {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "model", "model-000030.meta"), "", 0o644)
	ref := writeFile(t, filepath.Join(dir, "ref.fa"), ">chr1\n", 0o644)
	writeFile(t, ref+".fai", "chr1\t25\t6\t60\t61\nchrM\t100\t40\t60\t61\n2\t10\t200\t60\t61\n", 0o644)
	bam := writeFile(t, filepath.Join(dir, "sample.bam"), "", 0o644)
	pypy := writeFile(t, filepath.Join(dir, "bin", "pypy"), "#!/bin/sh\n", 0o755)
	samtools := writeFile(t, filepath.Join(dir, "bin", "samtools"), "#!/bin/sh\n", 0o755)

	return callOptions{
		Checkpoint:   filepath.Join(dir, "model", "model-000030"),
		Reference:    ref,
		Alignment:    bam,
		OutputPrefix: filepath.Join(dir, "out", "sample"),
		Python:       "python",
		Program:      config.DefaultCallProgram,
		Pypy:         pypy,
		Samtools:     samtools,
		Threshold:    0.2,
		MinCoverage:  4,
		Threads:      4,
		Delay:        10,
		SampleName:   "SAMPLE",
		ChunkSize:    10,
		Format:       formatText,
	}
}

func testOpener(t *testing.T) *source.Opener {
	t.Helper()
	o := source.NewOpener(s3.Config{})
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	var exitErr *apperrors.ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %T: %v", err, err)
	return exitErr.Code
}

func TestExecuteCallText(t *testing.T) {
	opts := callFixture(t)
	var buf bytes.Buffer

	n, err := executeCall(context.Background(), opts, testOpener(t), &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "python clair.py callVarBam "))
	assert.Contains(t, lines[0], `--chkpnt_fn "`+opts.Checkpoint+`"`)
	assert.Contains(t, lines[0], `--pypy "`+opts.Pypy+`"`)
	assert.Contains(t, lines[0], `--ctgName "chr1" --ctgStart "0" --ctgEnd "10"`)
	assert.Contains(t, lines[2], `--ctgStart "20" --ctgEnd "25"`)
	assert.Contains(t, lines[3], `--ctgName "2"`)
	assert.NotContains(t, buf.String(), "chrM")
	assert.NotContains(t, buf.String(), "--bed_fn")
}

func TestExecuteCallAllContigsAndFilter(t *testing.T) {
	opts := callFixture(t)
	opts.IncludeAllContigs = true
	opts.Excludes = []string{"chr1"}
	var buf bytes.Buffer

	n, err := executeCall(context.Background(), opts, testOpener(t), &buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n, "ten chrM regions plus one for contig 2")
	assert.NotContains(t, buf.String(), `"chr1"`)
}

func TestExecuteCallRestricted(t *testing.T) {
	opts := callFixture(t)
	opts.Bed = writeFile(t, filepath.Join(t.TempDir(), "targets.bed"), "chr1\t12\t14\n", 0o644)
	var buf bytes.Buffer

	n, err := executeCall(context.Background(), opts, testOpener(t), &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), `--ctgStart "10" --ctgEnd "20"`)
	assert.Contains(t, buf.String(), `--bed_fn "`+opts.Bed+`"`)
}

func TestExecuteCallJSONL(t *testing.T) {
	opts := callFixture(t)
	opts.Format = formatJSONL
	var buf bytes.Buffer

	n, err := executeCall(context.Background(), opts, testOpener(t), &buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	var rec output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, output.TypeRegion, rec.Type)
	assert.NotEmpty(t, rec.RunID)

	var region output.RegionRecord
	require.NoError(t, json.Unmarshal(rec.Data, &region))
	assert.Equal(t, "chr1", region.Contig)
	assert.Equal(t, 10, region.Start)
	assert.Equal(t, 20, region.End)
	assert.Equal(t, opts.OutputPrefix+".chr1_10_20.vcf", region.OutputPath)
	assert.Contains(t, region.Command, "--ctgName")
}

func TestExecuteCallActivation(t *testing.T) {
	opts := callFixture(t)
	opts.ActivationOnly = true
	opts.MaxPlot = 10
	opts.ParallelLevel = 2
	opts.Workers = 8
	var buf bytes.Buffer

	_, err := executeCall(context.Background(), opts, testOpener(t), &buf)
	require.NoError(t, err)
	first := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, 1, strings.Count(first, "--activation_only"))
	assert.Contains(t, first, `--workers "8"`)
}

func TestExecuteCallValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *callOptions)
		code   int
	}{
		{name: "bad format", mutate: func(o *callOptions) { o.Format = "xml" }, code: foundry.ExitInvalidArgument},
		{name: "zero chunk size", mutate: func(o *callOptions) { o.ChunkSize = 0 }, code: foundry.ExitInvalidArgument},
		{name: "bad glob", mutate: func(o *callOptions) { o.Includes = []string{"chr["} }, code: foundry.ExitInvalidArgument},
		{name: "missing pypy", mutate: func(o *callOptions) { o.Pypy = "/nonexistent/pypy" }, code: foundry.ExitFileNotFound},
		{name: "missing samtools", mutate: func(o *callOptions) { o.Samtools = "/nonexistent/samtools" }, code: foundry.ExitFileNotFound},
		{name: "missing checkpoint", mutate: func(o *callOptions) { o.Checkpoint += "-gone" }, code: foundry.ExitFileNotFound},
		{name: "missing alignment", mutate: func(o *callOptions) { o.Alignment += ".gone" }, code: foundry.ExitFileNotFound},
		{name: "missing candidates", mutate: func(o *callOptions) { o.CandidateSites = "/nonexistent.vcf" }, code: foundry.ExitFileNotFound},
		{name: "missing index", mutate: func(o *callOptions) { o.Fai = "/nonexistent.fai" }, code: foundry.ExitFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := callFixture(t)
			tt.mutate(&opts)
			var buf bytes.Buffer

			_, err := executeCall(context.Background(), opts, testOpener(t), &buf)
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCodeOf(t, err))
			assert.Empty(t, buf.String(), "nothing is written before validation passes")
		})
	}
}

func TestExecuteCallToFile(t *testing.T) {
	t.Run("writes every region", func(t *testing.T) {
		opts := callFixture(t)
		out := filepath.Join(t.TempDir(), "calls.sh")

		n, err := executeCallToFile(context.Background(), opts, testOpener(t), out)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)

		entries, err := os.ReadDir(filepath.Dir(out))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp file is left behind")
	})

	t.Run("validation failure keeps existing output", func(t *testing.T) {
		opts := callFixture(t)
		opts.Pypy = "nonexistent-pypy"
		out := writeFile(t, filepath.Join(t.TempDir(), "calls.sh"), "previous run\n", 0o644)

		_, err := executeCallToFile(context.Background(), opts, testOpener(t), out)
		require.Error(t, err)
		assert.Equal(t, foundry.ExitFileNotFound, exitCodeOf(t, err))

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "previous run\n", string(data))
	})

	t.Run("validation failure creates nothing", func(t *testing.T) {
		opts := callFixture(t)
		opts.ChunkSize = 0
		out := filepath.Join(t.TempDir(), "calls.sh")

		_, err := executeCallToFile(context.Background(), opts, testOpener(t), out)
		require.Error(t, err)
		assert.NoFileExists(t, out)
	})
}

func TestExistingFile(t *testing.T) {
	dir := t.TempDir()
	plain := writeFile(t, filepath.Join(dir, "a"), "", 0o644)
	writeFile(t, filepath.Join(dir, "b.meta"), "", 0o644)

	got, err := existingFile(plain, ".meta")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	got, err = existingFile(filepath.Join(dir, "b"), ".meta")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b"), got)

	_, err = existingFile(filepath.Join(dir, "c"), ".meta")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = existingFile("")
	assert.Error(t, err)
}
