package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the trainer.
type Run struct {
	RunID            string
	StartedAt        time.Time
	EndedAt          *time.Time
	Status           RunStatus
	DatasetURI       string
	DatasetSize      int
	CheckpointPrefix string
	MaxEpoch         int
	ConfigJSON       string
	CLRMode          string
	Seed             uint64
	BestEpoch        *int
	BestLoss         *float64
	Error            string
}

// RunParams describes a run at creation time.
type RunParams struct {
	// RunID is generated when empty.
	RunID            string
	DatasetURI       string
	DatasetSize      int
	CheckpointPrefix string
	MaxEpoch         int
	ConfigJSON       string
	CLRMode          string
	Seed             uint64
}

// CreateRun inserts a run in running status.
func CreateRun(ctx context.Context, db *sql.DB, p RunParams) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runID := p.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := db.ExecContext(ctx,
		`INSERT INTO runs
		 (run_id, started_at, status, dataset_uri, dataset_size,
		  checkpoint_prefix, max_epoch, config_json, clr_mode, seed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, formatTime(now), string(RunStatusRunning), p.DatasetURI, p.DatasetSize,
		nullString(p.CheckpointPrefix), p.MaxEpoch, nullString(p.ConfigJSON),
		nullString(p.CLRMode), int64(p.Seed))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	return &Run{
		RunID:            runID,
		StartedAt:        now,
		Status:           RunStatusRunning,
		DatasetURI:       p.DatasetURI,
		DatasetSize:      p.DatasetSize,
		CheckpointPrefix: p.CheckpointPrefix,
		MaxEpoch:         p.MaxEpoch,
		ConfigJSON:       p.ConfigJSON,
		CLRMode:          p.CLRMode,
		Seed:             p.Seed,
	}, nil
}

// FinishRun records the terminal status of a run. best may be nil when no
// epoch completed.
func FinishRun(ctx context.Context, db *sql.DB, runID string, status RunStatus, best *EpochSummary, errMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var bestEpoch, bestLoss any
	if best != nil {
		bestEpoch = best.Epoch
		bestLoss = best.ValidationSum
	}

	res, err := db.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?, ended_at = ?, best_epoch = ?, best_loss = ?, error = ?
		 WHERE run_id = ?`,
		string(status), formatTime(time.Now()), bestEpoch, bestLoss, nullString(errMsg), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `run_id, started_at, ended_at, status, dataset_uri, dataset_size,
	checkpoint_prefix, max_epoch, config_json, clr_mode, seed, best_epoch, best_loss, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var endedAt, prefix, cfg, mode, errMsg sql.NullString
	var seed, bestEpoch sql.NullInt64
	var bestLoss sql.NullFloat64
	var status string

	if err := s.Scan(&r.RunID, &startedAt, &endedAt, &status, &r.DatasetURI, &r.DatasetSize,
		&prefix, &r.MaxEpoch, &cfg, &mode, &seed, &bestEpoch, &bestLoss, &errMsg); err != nil {
		return nil, err
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	if r.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, fmt.Errorf("parse ended_at: %w", err)
	}

	r.Status = RunStatus(status)
	r.CheckpointPrefix = prefix.String
	r.ConfigJSON = cfg.String
	r.CLRMode = mode.String
	r.Seed = uint64(seed.Int64)
	r.Error = errMsg.String
	if bestEpoch.Valid {
		e := int(bestEpoch.Int64)
		r.BestEpoch = &e
	}
	if bestLoss.Valid {
		l := bestLoss.Float64
		r.BestLoss = &l
	}
	return &r, nil
}

// GetRun retrieves a run by ID.
func GetRun(ctx context.Context, db *sql.DB, runID string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns lists runs newest first. limit <= 0 lists all.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
