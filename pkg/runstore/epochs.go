package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EpochSummary is one row of the epochs table.
type EpochSummary struct {
	RunID              string
	Epoch              int
	TrainingLoss       float64
	ValidationTotal    float64
	ValidationBase     float64
	ValidationGenotype float64
	ValidationIndel1   float64
	ValidationIndel2   float64
	ValidationL2       float64
	ValidationSum      float64
	TrainingExamples   int
	ValidationExamples int
	LearningRate       float64
	GlobalStep         int
	Checkpoint         string
	Duration           time.Duration
	RecordedAt         time.Time
}

// RecordEpoch upserts an epoch row. Re-recording an epoch (e.g. after a
// resume that repeats it) replaces the earlier row.
func RecordEpoch(ctx context.Context, db *sql.DB, e EpochSummary) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO epochs
		 (run_id, epoch, training_loss, validation_total, validation_base,
		  validation_genotype, validation_indel_1, validation_indel_2, validation_l2,
		  validation_sum, training_examples, validation_examples, learning_rate,
		  global_step, checkpoint, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, epoch) DO UPDATE SET
		  training_loss = excluded.training_loss,
		  validation_total = excluded.validation_total,
		  validation_base = excluded.validation_base,
		  validation_genotype = excluded.validation_genotype,
		  validation_indel_1 = excluded.validation_indel_1,
		  validation_indel_2 = excluded.validation_indel_2,
		  validation_l2 = excluded.validation_l2,
		  validation_sum = excluded.validation_sum,
		  training_examples = excluded.training_examples,
		  validation_examples = excluded.validation_examples,
		  learning_rate = excluded.learning_rate,
		  global_step = excluded.global_step,
		  checkpoint = excluded.checkpoint,
		  duration_ms = excluded.duration_ms,
		  recorded_at = excluded.recorded_at`,
		e.RunID, e.Epoch, e.TrainingLoss, e.ValidationTotal, e.ValidationBase,
		e.ValidationGenotype, e.ValidationIndel1, e.ValidationIndel2, e.ValidationL2,
		e.ValidationSum, e.TrainingExamples, e.ValidationExamples, e.LearningRate,
		e.GlobalStep, nullString(e.Checkpoint), e.Duration.Milliseconds(), formatTime(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("record epoch: %w", err)
	}
	return nil
}

const epochColumns = `run_id, epoch, training_loss, validation_total, validation_base,
	validation_genotype, validation_indel_1, validation_indel_2, validation_l2,
	validation_sum, training_examples, validation_examples, learning_rate,
	global_step, checkpoint, duration_ms, recorded_at`

func scanEpoch(s rowScanner) (*EpochSummary, error) {
	var e EpochSummary
	var checkpoint sql.NullString
	var durationMS int64
	var recordedAt string

	if err := s.Scan(&e.RunID, &e.Epoch, &e.TrainingLoss, &e.ValidationTotal, &e.ValidationBase,
		&e.ValidationGenotype, &e.ValidationIndel1, &e.ValidationIndel2, &e.ValidationL2,
		&e.ValidationSum, &e.TrainingExamples, &e.ValidationExamples, &e.LearningRate,
		&e.GlobalStep, &checkpoint, &durationMS, &recordedAt); err != nil {
		return nil, err
	}

	t, err := parseTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}
	e.RecordedAt = t
	e.Checkpoint = checkpoint.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return &e, nil
}

// ListEpochs returns a run's epochs in epoch order.
func ListEpochs(ctx context.Context, db *sql.DB, runID string) ([]EpochSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+epochColumns+` FROM epochs WHERE run_id = ? ORDER BY epoch ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var epochs []EpochSummary
	for rows.Next() {
		e, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		epochs = append(epochs, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epochs: %w", err)
	}
	return epochs, nil
}

// BestEpoch returns the epoch with the lowest validation sum, the earliest
// epoch winning ties. It returns (nil, nil) when the run has no epochs.
func BestEpoch(ctx context.Context, db *sql.DB, runID string) (*EpochSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+epochColumns+` FROM epochs
		 WHERE run_id = ?
		 ORDER BY validation_sum ASC, epoch ASC
		 LIMIT 1`, runID)
	e, err := scanEpoch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("best epoch: %w", err)
	}
	return e, nil
}
