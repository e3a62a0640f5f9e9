package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/govarcall/internal/config"
	"github.com/3leaps/govarcall/pkg/dataset"
	"github.com/3leaps/govarcall/pkg/manifest"
	"github.com/3leaps/govarcall/pkg/model"
	"github.com/3leaps/govarcall/pkg/output"
	"github.com/3leaps/govarcall/pkg/preflight"
	"github.com/3leaps/govarcall/pkg/runstore"
	"github.com/3leaps/govarcall/pkg/trainer"
)

// writeTrainDataset packs size rows with one feature and one-hot genotype
// labels for the default heads.
func writeTrainDataset(t *testing.T, dir string, size, blockSize int) string {
	t.Helper()
	heads := model.DefaultHeads
	b, err := dataset.NewBuilder(1, heads.Width(), blockSize)
	require.NoError(t, err)
	for i := 0; i < size; i++ {
		y := make([]float32, heads.Width())
		y[heads.GenotypeOffset()+i%heads.Genotype] = 1
		require.NoError(t, b.Append([]float32{float32(i%7) / 7}, y))
	}
	d, err := b.Finish()
	require.NoError(t, err)
	defer d.Close()

	path := filepath.Join(dir, "train.gvd")
	require.NoError(t, writeDataset(d, path))
	return path
}

func testTrainManifest(t *testing.T, dir string) *manifest.Manifest {
	t.Helper()
	m := manifestFromConfig(config.TrainConfig{
		Batch:            30,
		ValidationBatch:  25,
		TrainFraction:    0.8,
		MaxEpoch:         2,
		LearningRate:     1e-3,
		MaxLearningRate:  1e-2,
		L2Lambda:         1e-4,
		StepSizeConstant: 2,
		CLRMode:          "tri",
		CheckpointWidth:  6,
		Seed:             7,
	})
	m.Dataset = writeTrainDataset(t, dir, 100, 10)
	m.Checkpoints.Prefix = filepath.Join(dir, "ckpt", "model")
	return m
}

func TestExecuteTrain(t *testing.T) {
	dir := t.TempDir()
	m := testTrainManifest(t, dir)
	m.Output.Epochs = "stdout"
	m.Output.Ledger = filepath.Join(dir, "runs.db")
	m.Checkpoints.Upload = filepath.Join(dir, "uploaded")

	job := &trainJob{
		Manifest:      m,
		LedgerEnabled: true,
		Preflight:     preflight.ModeWriteProbe,
		Logger:        zaptest.NewLogger(t),
	}
	var out bytes.Buffer
	res, err := executeTrain(context.Background(), job, testOpener(t), &out)
	require.NoError(t, err)
	require.Len(t, res.Epochs, 2)
	require.True(t, res.HasBest)
	assert.Equal(t, trainer.CheckpointPath(m.Checkpoints.Prefix, res.Best.Epoch, 6), res.Restored)
	require.NotNil(t, res.Final)
	assert.Equal(t, 100, res.Final.Examples)

	// Checkpoints are copied under the upload prefix.
	assert.FileExists(t, filepath.Join(dir, "uploaded", "model-000001"))
	assert.FileExists(t, filepath.Join(dir, "uploaded", "model-000002"))

	// Preflight, two epoch records and a summary on stdout.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	var types []string
	var runID string
	for _, l := range lines {
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(l), &rec))
		types = append(types, rec.Type)
		runID = rec.RunID
	}
	assert.Equal(t, []string{output.TypePreflight, output.TypeEpoch, output.TypeEpoch, output.TypeSummary}, types)

	var pre output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &pre))
	var pf output.PreflightRecord
	require.NoError(t, json.Unmarshal(pre.Data, &pf))
	assert.Equal(t, "write-probe", pf.Mode)
	require.Len(t, pf.Results, 2)
	assert.Equal(t, preflight.CapUploadWrite, pf.Results[1].Capability)
	assert.True(t, pf.Results[1].Allowed)

	// The ledger holds the finished run under the same id.
	db, err := openLedger(context.Background(), config.StoreConfig{}, m.Output.Ledger)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	run, err := runstore.GetRun(context.Background(), db, runID)
	require.NoError(t, err)
	assert.Equal(t, runstore.RunStatusSuccess, run.Status)
	assert.Equal(t, 100, run.DatasetSize)
	require.NotNil(t, run.BestEpoch)
	assert.Equal(t, res.Best.Epoch, *run.BestEpoch)

	epochs, err := runstore.ListEpochs(context.Background(), db, runID)
	require.NoError(t, err)
	assert.Len(t, epochs, 2)
}

func TestExecuteTrainResume(t *testing.T) {
	dir := t.TempDir()
	m := testTrainManifest(t, dir)
	job := &trainJob{Manifest: m, Logger: zaptest.NewLogger(t)}

	first, err := executeTrain(context.Background(), job, testOpener(t), &bytes.Buffer{})
	require.NoError(t, err)
	require.Len(t, first.Epochs, 2)

	m.Checkpoints.Init = trainer.CheckpointPath(m.Checkpoints.Prefix, 2, 6)
	m.Training.MaxEpoch = 3
	second, err := executeTrain(context.Background(), job, testOpener(t), &bytes.Buffer{})
	require.NoError(t, err)
	require.Len(t, second.Epochs, 1)
	assert.Equal(t, 3, second.Epochs[0].Epoch)
}

func TestExecuteTrainErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *manifest.Manifest)
		code   int
	}{
		{name: "missing dataset", mutate: func(m *manifest.Manifest) { m.Dataset += ".gone" }, code: foundry.ExitFileNotFound},
		{name: "bad clr mode", mutate: func(m *manifest.Manifest) { m.Training.CLRMode = "sine" }, code: foundry.ExitInvalidArgument},
		{name: "bad fraction", mutate: func(m *manifest.Manifest) { m.Training.TrainFraction = 1.5 }, code: foundry.ExitInvalidArgument},
		{name: "heads mismatch", mutate: func(m *manifest.Manifest) {
			m.Model.Heads = &model.Heads{Base: 1, Genotype: 3, Indel1: 1, Indel2: 1}
		}, code: foundry.ExitInvalidArgument},
		{name: "missing init checkpoint", mutate: func(m *manifest.Manifest) {
			m.Checkpoints.Init = filepath.Join(os.TempDir(), "absent", "model-000004")
		}, code: foundry.ExitFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testTrainManifest(t, t.TempDir())
			tt.mutate(m)
			_, err := executeTrain(context.Background(), &trainJob{Manifest: m}, testOpener(t), &bytes.Buffer{})
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCodeOf(t, err))
		})
	}
}

func TestExecuteTrainPreflightRecord(t *testing.T) {
	t.Run("failure is reported", func(t *testing.T) {
		dir := t.TempDir()
		m := testTrainManifest(t, dir)
		m.Dataset = filepath.Join(dir, "missing.gvd")
		m.Output.Epochs = "stdout"

		var out bytes.Buffer
		_, err := executeTrain(context.Background(), &trainJob{Manifest: m}, testOpener(t), &out)
		require.Error(t, err)
		assert.Equal(t, foundry.ExitFileNotFound, exitCodeOf(t, err))

		var rec output.Record
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &rec))
		assert.Equal(t, output.TypePreflight, rec.Type)
		var pf output.PreflightRecord
		require.NoError(t, json.Unmarshal(rec.Data, &pf))
		assert.Equal(t, "read-safe", pf.Mode)
		require.Len(t, pf.Results, 1)
		assert.False(t, pf.Results[0].Allowed)
		assert.Equal(t, output.ErrCodeNotFound, pf.Results[0].ErrorCode)
	})

	t.Run("plan-only writes nothing", func(t *testing.T) {
		dir := t.TempDir()
		m := testTrainManifest(t, dir)
		m.Output.Epochs = "stdout"

		var out bytes.Buffer
		_, err := executeTrain(context.Background(), &trainJob{Manifest: m, Preflight: preflight.ModePlanOnly}, testOpener(t), &out)
		require.NoError(t, err)
		assert.NotContains(t, out.String(), output.TypePreflight)
	})
}

func TestExecuteTrainCancelled(t *testing.T) {
	dir := t.TempDir()
	m := testTrainManifest(t, dir)
	m.Output.Epochs = filepath.Join(dir, "epochs.jsonl")
	m.Output.Ledger = filepath.Join(dir, "runs.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := executeTrain(ctx, &trainJob{Manifest: m, LedgerEnabled: true}, testOpener(t), &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitSignalInt, exitCodeOf(t, err))
}

func TestManifestFromConfig(t *testing.T) {
	m := manifestFromConfig(config.TrainConfig{MaxEpoch: 5, CLRMode: "exp", L2Lambda: 0})
	assert.Equal(t, manifest.Version, m.Version)
	assert.Equal(t, 5, m.Training.MaxEpoch)
	assert.Equal(t, "exp", m.Training.CLRMode)
	require.NotNil(t, m.Training.L2Lambda)
	assert.Zero(t, *m.Training.L2Lambda, "an explicit zero disables regularisation")
	def := trainer.DefaultConfig()
	assert.Equal(t, def.TrainBatch, m.Training.TrainBatch)
	assert.Equal(t, def.CheckpointWidth, m.Checkpoints.Width)
}

func TestSplitAddr(t *testing.T) {
	host, port, err := splitAddr("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 8080, port)

	host, port, err = splitAddr(":9000")
	require.NoError(t, err)
	assert.Empty(t, host)
	assert.Equal(t, 9000, port)

	for _, bad := range []string{"localhost", "host:http", "host:0", "host:70000"} {
		_, _, err := splitAddr(bad)
		assert.Error(t, err, bad)
	}
}
