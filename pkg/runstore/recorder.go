package runstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/3leaps/govarcall/pkg/trainer"
)

// Recorder writes each finished epoch to the ledger. It implements
// trainer.Observer.
type Recorder struct {
	db    *sql.DB
	runID string
}

// NewRecorder binds a recorder to an existing run.
func NewRecorder(db *sql.DB, runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// OnEpoch implements trainer.Observer.
func (r *Recorder) OnEpoch(ctx context.Context, res trainer.EpochResult) error {
	if err := RecordEpoch(ctx, r.db, FromEpochResult(r.runID, res)); err != nil {
		return err
	}
	if res.Checkpoint == "" {
		return nil
	}
	return RecordRunEvent(ctx, r.db, RunEvent{
		RunID:         r.runID,
		EventType:     EventTypeCheckpointSaved,
		EventCategory: EventCategoryInfo,
		Detail:        StringPtr(res.Checkpoint),
	})
}

// Finish closes out the run from the trainer's result and error.
func (r *Recorder) Finish(ctx context.Context, res *trainer.Result, runErr error) error {
	status := RunStatusSuccess
	errMsg := ""
	switch {
	case runErr != nil && ctx.Err() != nil:
		status = RunStatusCancelled
		errMsg = runErr.Error()
	case runErr != nil:
		status = RunStatusFailed
		errMsg = runErr.Error()
	}

	var best *EpochSummary
	if res != nil && res.HasBest {
		best = &EpochSummary{Epoch: res.Best.Epoch, ValidationSum: res.Best.Loss}
	}

	// The caller's context may already be cancelled; the final write still has to land.
	finishCtx := context.WithoutCancel(ctx)
	if err := FinishRun(finishCtx, r.db, r.runID, status, best, errMsg); err != nil {
		return err
	}

	evType, category, detail := EventTypeRunCompleted, EventCategoryInfo, ""
	if runErr != nil {
		evType, category, detail = EventTypeRunFailed, EventCategoryError, errMsg
	} else if res != nil && res.Restored != "" {
		detail = fmt.Sprintf("restored %s", res.Restored)
	}
	ev := RunEvent{RunID: r.runID, EventType: evType, EventCategory: category}
	if detail != "" {
		ev.Detail = StringPtr(detail)
	}
	return RecordRunEvent(finishCtx, r.db, ev)
}

// FromEpochResult converts a trainer epoch result into a ledger row.
func FromEpochResult(runID string, res trainer.EpochResult) EpochSummary {
	return EpochSummary{
		RunID:              runID,
		Epoch:              res.Epoch,
		TrainingLoss:       res.TrainingLoss,
		ValidationTotal:    res.Validation.Total,
		ValidationBase:     res.Validation.Base,
		ValidationGenotype: res.Validation.Genotype,
		ValidationIndel1:   res.Validation.Indel1,
		ValidationIndel2:   res.Validation.Indel2,
		ValidationL2:       res.Validation.L2,
		ValidationSum:      res.ValidationSum,
		TrainingExamples:   res.TrainingExamples,
		ValidationExamples: res.ValidationExamples,
		LearningRate:       res.LearningRate,
		GlobalStep:         res.GlobalStep,
		Checkpoint:         res.Checkpoint,
		Duration:           res.Duration,
	}
}

var _ trainer.Observer = (*Recorder)(nil)
