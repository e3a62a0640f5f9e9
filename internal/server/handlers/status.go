package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/govarcall/internal/errors"
	"github.com/3leaps/govarcall/pkg/runstore"
	"github.com/3leaps/govarcall/pkg/trainer"
)

// StatusProvider exposes a live training status. *trainer.Trainer
// implements it.
type StatusProvider interface {
	Status() trainer.Status
}

// StatusHandler serves the current trainer status.
func StatusHandler(p StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			apperrors.WriteHTTPError(w, http.StatusServiceUnavailable, apperrors.HTTPError{
				Code:    apperrors.CodeServiceUnavailable,
				Message: "no training run attached",
			})
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

// TrainerChecker reports unhealthy once the trainer has failed.
func TrainerChecker(p StatusProvider) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		s := p.Status()
		if s.Phase == trainer.PhaseFailed {
			return fmt.Errorf("training failed: %s", s.Error)
		}
		return nil
	})
}

// LedgerChecker pings the run ledger.
func LedgerChecker(db *sql.DB) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
}

// RunView is the JSON form of a ledger run.
type RunView struct {
	RunID            string     `json:"run_id"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	DatasetURI       string     `json:"dataset_uri"`
	DatasetSize      int        `json:"dataset_size"`
	CheckpointPrefix string     `json:"checkpoint_prefix,omitempty"`
	MaxEpoch         int        `json:"max_epoch"`
	CLRMode          string     `json:"clr_mode,omitempty"`
	Seed             uint64     `json:"seed"`
	BestEpoch        *int       `json:"best_epoch,omitempty"`
	BestLoss         *float64   `json:"best_loss,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// NewRunView converts a ledger run.
func NewRunView(r runstore.Run) RunView {
	return RunView{
		RunID:            r.RunID,
		Status:           string(r.Status),
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		DatasetURI:       r.DatasetURI,
		DatasetSize:      r.DatasetSize,
		CheckpointPrefix: r.CheckpointPrefix,
		MaxEpoch:         r.MaxEpoch,
		CLRMode:          r.CLRMode,
		Seed:             r.Seed,
		BestEpoch:        r.BestEpoch,
		BestLoss:         r.BestLoss,
		Error:            r.Error,
	}
}

// EpochView is the JSON form of a ledger epoch.
type EpochView struct {
	Epoch              int     `json:"epoch"`
	TrainingLoss       float64 `json:"training_loss"`
	ValidationTotal    float64 `json:"validation_total"`
	ValidationBase     float64 `json:"validation_base"`
	ValidationGenotype float64 `json:"validation_genotype"`
	ValidationIndel1   float64 `json:"validation_indel_1"`
	ValidationIndel2   float64 `json:"validation_indel_2"`
	ValidationL2       float64 `json:"validation_l2"`
	ValidationSum      float64 `json:"validation_sum"`
	LearningRate       float64 `json:"learning_rate"`
	GlobalStep         int     `json:"global_step"`
	Checkpoint         string  `json:"checkpoint,omitempty"`
	DurationMS         int64   `json:"duration_ms"`
}

// NewEpochView converts a ledger epoch.
func NewEpochView(e runstore.EpochSummary) EpochView {
	return EpochView{
		Epoch:              e.Epoch,
		TrainingLoss:       e.TrainingLoss,
		ValidationTotal:    e.ValidationTotal,
		ValidationBase:     e.ValidationBase,
		ValidationGenotype: e.ValidationGenotype,
		ValidationIndel1:   e.ValidationIndel1,
		ValidationIndel2:   e.ValidationIndel2,
		ValidationL2:       e.ValidationL2,
		ValidationSum:      e.ValidationSum,
		LearningRate:       e.LearningRate,
		GlobalStep:         e.GlobalStep,
		Checkpoint:         e.Checkpoint,
		DurationMS:         e.Duration.Milliseconds(),
	}
}

// RunsHandler lists ledger runs, newest first. ?limit=N bounds the list.
func RunsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				apperrors.WriteHTTPError(w, http.StatusBadRequest, apperrors.HTTPError{
					Code:    "INVALID_ARGUMENT",
					Message: "limit must be a non-negative integer",
				})
				return
			}
			limit = n
		}
		runs, err := runstore.ListRuns(r.Context(), db, limit)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		views := make([]RunView, 0, len(runs))
		for _, run := range runs {
			views = append(views, NewRunView(run))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// RunHandler serves one run and its epochs.
func RunHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		run, err := runstore.GetRun(r.Context(), db, runID)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		epochs, err := runstore.ListEpochs(r.Context(), db, runID)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		views := make([]EpochView, 0, len(epochs))
		for _, e := range epochs {
			views = append(views, NewEpochView(e))
		}
		writeJSON(w, http.StatusOK, struct {
			Run    RunView     `json:"run"`
			Epochs []EpochView `json:"epochs"`
		}{NewRunView(*run), views})
	}
}
