package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/govarcall/internal/config"
	"github.com/3leaps/govarcall/pkg/model"
	"github.com/3leaps/govarcall/pkg/runstore"
	"github.com/3leaps/govarcall/pkg/trainer"
)

func memoryLedger(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openLedger(context.Background(), config.StoreConfig{Path: ":memory:"}, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedRun(t *testing.T, db *sql.DB, id string, losses ...float64) {
	t.Helper()
	ctx := context.Background()
	_, err := runstore.CreateRun(ctx, db, runstore.RunParams{
		RunID:       id,
		DatasetURI:  "s3://genomes/" + id + ".gvd",
		DatasetSize: 100,
		MaxEpoch:    len(losses),
		CLRMode:     "tri",
	})
	require.NoError(t, err)

	rec := runstore.NewRecorder(db, id)
	res := &trainer.Result{}
	for i, l := range losses {
		er := trainer.EpochResult{
			Epoch:         i + 1,
			TrainingLoss:  l * 2,
			Validation:    model.Losses{Total: l},
			ValidationSum: l * 10,
			LearningRate:  0.001,
			Duration:      time.Second,
		}
		require.NoError(t, rec.OnEpoch(ctx, er))
		res.Epochs = append(res.Epochs, er)
	}
	pairs := make([]trainer.EpochLoss, len(res.Epochs))
	for i, e := range res.Epochs {
		pairs[i] = trainer.EpochLoss{Epoch: e.Epoch, Loss: e.ValidationSum}
	}
	res.Best, res.HasBest = trainer.SelectBest(pairs)
	require.NoError(t, rec.Finish(ctx, res, nil))
}

func TestExecuteRunsList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, executeRunsList(context.Background(), memoryLedger(t), 0, false, &buf))
		assert.Equal(t, "No runs recorded.\n", buf.String())
	})

	t.Run("table", func(t *testing.T) {
		db := memoryLedger(t)
		seedRun(t, db, "run-a", 5, 3, 4)
		var buf bytes.Buffer
		require.NoError(t, executeRunsList(context.Background(), db, 0, false, &buf))
		out := buf.String()
		assert.Contains(t, out, "RUN ID")
		assert.Contains(t, out, "run-a")
		assert.Contains(t, out, "success")
		assert.Contains(t, out, "s3://genomes/run-a.gvd")
	})

	t.Run("json", func(t *testing.T) {
		db := memoryLedger(t)
		seedRun(t, db, "run-a", 5, 3)
		var buf bytes.Buffer
		require.NoError(t, executeRunsList(context.Background(), db, 10, true, &buf))

		var runs []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "run-a", runs[0]["run_id"])
		assert.EqualValues(t, 2, runs[0]["best_epoch"])
	})
}

func TestExecuteRunsEpochs(t *testing.T) {
	db := memoryLedger(t)
	seedRun(t, db, "run-a", 5, 3, 3)

	t.Run("table marks best", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, executeRunsEpochs(context.Background(), db, "run-a", false, &buf))
		out := buf.String()
		assert.Contains(t, out, "Run run-a (success)")
		assert.Contains(t, out, "EPOCH")
		assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("*")), "ties resolve to the earliest epoch")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, executeRunsEpochs(context.Background(), db, "run-a", true, &buf))
		var got struct {
			Run    map[string]any   `json:"run"`
			Epochs []map[string]any `json:"epochs"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "run-a", got.Run["run_id"])
		assert.Len(t, got.Epochs, 3)
	})

	t.Run("missing run", func(t *testing.T) {
		err := executeRunsEpochs(context.Background(), db, "nope", false, &bytes.Buffer{})
		require.Error(t, err)
		assert.Equal(t, foundry.ExitFileNotFound, exitCodeOf(t, err))
	})
}
