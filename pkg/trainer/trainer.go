// Package trainer runs the overlapped training loop.
//
// Each iteration spawns the model operation for the batch already in hand
// and, while it runs, decompresses the next batch on the calling goroutine.
// The operation is joined before its losses are read and before the next
// operation starts, so the model is never mutated concurrently:
//
//	iteration i:  [ train/evaluate batch i ]
//	              [ fetch batch i+1        ] -> join -> bookkeeping
//
// Epochs end when the dataset is exhausted. At each boundary the trainer
// writes a checkpoint, notifies observers and reshuffles the training blocks.
// Validation blocks keep their order for the whole run.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/govarcall/pkg/clr"
	"github.com/3leaps/govarcall/pkg/dataset"
	"github.com/3leaps/govarcall/pkg/model"
)

// EpochResult is the per-epoch summary handed to observers.
type EpochResult struct {
	Epoch int `json:"epoch"`

	// TrainingLoss is the per-example training loss.
	TrainingLoss float64 `json:"training_loss"`

	// Validation holds per-example validation losses.
	Validation model.Losses `json:"validation"`

	// ValidationSum is the summed validation total used for model selection.
	ValidationSum float64 `json:"validation_sum"`

	TrainingExamples   int           `json:"training_examples"`
	ValidationExamples int           `json:"validation_examples"`
	LearningRate       float64       `json:"learning_rate"`
	GlobalStep         int           `json:"global_step"`
	Checkpoint         string        `json:"checkpoint,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// Observer receives epoch results as they complete. A returned error stops
// the run.
type Observer interface {
	OnEpoch(ctx context.Context, r EpochResult) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r EpochResult) error

func (f ObserverFunc) OnEpoch(ctx context.Context, r EpochResult) error { return f(ctx, r) }

// Result is returned by Run.
type Result struct {
	Plan     Plan
	Epochs   []EpochResult
	Best     EpochLoss
	HasBest  bool
	Final    *Evaluation
	Restored string
	Duration time.Duration
}

// State is the mutable loop state. It is owned by the run goroutine.
type State struct {
	Epoch      int
	Cursor     int
	GlobalStep int
	Order      []int

	// Batch is the batch fetched on the previous iteration, nil at epoch start.
	Batch *Batch

	trainLoss      float64
	trainSeen      int
	validation     model.Losses
	validationSeen int
}

func (s *State) resetEpoch() {
	s.Cursor = 0
	s.Batch = nil
	s.trainLoss = 0
	s.trainSeen = 0
	s.validation = model.Losses{}
	s.validationSeen = 0
}

// Trainer drives a Model over a Dataset.
//
// A Trainer is single use.
type Trainer struct {
	model     model.Model
	data      *dataset.Dataset
	heads     model.Heads
	config    Config
	logger    *zap.Logger
	observers []Observer
	status    statusBox
	progress  rate.Sometimes
}

// New creates a trainer. Zero-valued config fields fall back to DefaultConfig.
func New(m model.Model, data *dataset.Dataset, cfg Config) *Trainer {
	def := DefaultConfig()
	if cfg.TrainBatch <= 0 {
		cfg.TrainBatch = def.TrainBatch
	}
	if cfg.ValidationBatch <= 0 {
		cfg.ValidationBatch = def.ValidationBatch
	}
	if cfg.TrainFraction == 0 {
		cfg.TrainFraction = def.TrainFraction
	}
	if cfg.MaxEpoch == 0 {
		cfg.MaxEpoch = def.MaxEpoch
	}
	if cfg.CheckpointWidth <= 0 {
		cfg.CheckpointWidth = def.CheckpointWidth
	}
	if cfg.StepSizeConstant == 0 {
		cfg.StepSizeConstant = def.StepSizeConstant
	}
	if cfg.CLRMode == "" {
		cfg.CLRMode = def.CLRMode
	}

	return &Trainer{
		model:    m,
		data:     data,
		heads:    model.DefaultHeads,
		config:   cfg,
		logger:   zap.NewNop(),
		progress: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// WithLogger sets the logger. Returns the trainer for chaining.
func (t *Trainer) WithLogger(l *zap.Logger) *Trainer {
	if l != nil {
		t.logger = l
	}
	return t
}

// WithObserver appends an epoch observer.
func (t *Trainer) WithObserver(o Observer) *Trainer {
	t.observers = append(t.observers, o)
	return t
}

// WithHeads sets the label layout used by the final evaluation.
func (t *Trainer) WithHeads(h model.Heads) *Trainer {
	t.heads = h
	return t
}

// WithProgressInterval sets how often in-epoch progress is logged. Zero or
// negative keeps the default.
func (t *Trainer) WithProgressInterval(d time.Duration) *Trainer {
	if d > 0 {
		t.progress = rate.Sometimes{Interval: d}
	}
	return t
}

// WithRunID tags status snapshots.
func (t *Trainer) WithRunID(id string) *Trainer {
	t.status.update(func(s *Status) { s.RunID = id })
	return t
}

// Config returns the effective configuration.
func (t *Trainer) Config() Config { return t.config }

// Status returns a snapshot of the run.
func (t *Trainer) Status() Status { return t.status.get() }

// Run trains until MaxEpoch, selects the epoch with the lowest summed
// validation loss, restores it when checkpoints were written and evaluates
// the result over the whole dataset.
//
// Cancellation is checked between iterations. An in-flight model operation
// always completes first.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	res, err := t.run(ctx)
	if err != nil {
		t.status.update(func(s *Status) {
			s.Phase = PhaseFailed
			s.Error = err.Error()
		})
	}
	return res, err
}

func (t *Trainer) run(ctx context.Context) (*Result, error) {
	cfg := t.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := NewPlan(t.data.Size, t.data.BlockSize, cfg)
	if err != nil {
		return nil, err
	}
	schedule := clr.Schedule{
		Base:     cfg.LearningRate,
		Max:      cfg.MaxLearningRate,
		StepSize: plan.StepSize,
		Mode:     cfg.CLRMode,
		Gamma:    cfg.CLRGamma,
	}

	start := time.Now()
	st := &State{Epoch: 1, Order: dataset.IdentityOrder(plan.Blocks)}

	if cfg.InitCheckpoint != "" {
		if err := t.model.RestoreParameters(cfg.InitCheckpoint); err != nil {
			return nil, fmt.Errorf("restore %s: %w", cfg.InitCheckpoint, err)
		}
		last, err := EpochFromCheckpoint(cfg.InitCheckpoint, cfg.CheckpointWidth)
		if err != nil {
			return nil, err
		}
		st.Epoch = last + 1
	}

	lr := t.model.SetLearningRate(cfg.LearningRate)
	lambda := t.model.SetL2Lambda(cfg.L2Lambda)
	t.logger.Info("Start training",
		zap.Int("dataset_size", plan.Size),
		zap.Int("training_examples", plan.TrainingExamples),
		zap.Int("validation_start", plan.ValidationStart),
		zap.Int("validation_start_block", plan.ValidationStartBlock),
		zap.Float64("step_size", plan.StepSize),
		zap.Float64("learning_rate", lr),
		zap.Float64("l2_lambda", lambda),
		zap.String("clr_mode", string(cfg.CLRMode)),
		zap.Int("first_epoch", st.Epoch))

	t.status.update(func(s *Status) {
		s.Phase = PhaseRunning
		s.Epoch = st.Epoch
		s.MaxEpoch = cfg.MaxEpoch
		s.DatasetSize = plan.Size
		s.LearningRate = lr
		s.StartedAt = start.UTC()
	})

	stepper := clr.NewStepper(schedule, 0)
	provider := NewBatchProvider(t.data, cfg.TrainBatch, cfg.ValidationBatch)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	result := &Result{Plan: plan}
	epochStart := time.Now()

	for st.Epoch <= cfg.MaxEpoch {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		next, more, err := t.iterate(st, provider, plan)
		if err != nil {
			return result, err
		}
		st.Cursor += next.Count

		if more {
			st.Batch = &next
			lr = t.model.SetLearningRate(stepper.Next())
			st.GlobalStep = stepper.Step()
			t.status.update(func(s *Status) {
				s.Cursor = st.Cursor
				s.GlobalStep = st.GlobalStep
				s.LearningRate = lr
			})
			t.progress.Do(func() {
				t.logger.Debug("Training progress",
					zap.Int("epoch", st.Epoch),
					zap.Int("cursor", st.Cursor),
					zap.Int("global_step", st.GlobalStep),
					zap.Float64("learning_rate", lr))
			})
			continue
		}

		er, err := t.finishEpoch(ctx, st, plan, lr, time.Since(epochStart))
		if err != nil {
			return result, err
		}
		result.Epochs = append(result.Epochs, er)

		st.resetEpoch()
		ReshufflePrefix(st.Order, plan.ValidationStartBlock, rng)
		t.logger.Info("Shuffled blocks", zap.Ints("edges", ShuffleEdges(st.Order, 5)))
		st.Epoch++
		epochStart = time.Now()
		t.status.update(func(s *Status) {
			s.Phase = PhaseRunning
			s.Epoch = st.Epoch
			s.Cursor = 0
		})
	}

	t.logger.Info("Training finished", zap.Duration("elapsed", time.Since(start)))

	pairs := make([]EpochLoss, len(result.Epochs))
	for i, e := range result.Epochs {
		pairs[i] = EpochLoss{Loss: e.ValidationSum, Epoch: e.Epoch}
	}
	result.Best, result.HasBest = SelectBest(pairs)
	if result.HasBest {
		t.logger.Info("Best validation loss", zap.Int("epoch", result.Best.Epoch), zap.Float64("loss", result.Best.Loss))
		if cfg.CheckpointPrefix != "" {
			path := CheckpointPath(cfg.CheckpointPrefix, result.Best.Epoch, cfg.CheckpointWidth)
			if err := t.model.RestoreParameters(path); err != nil {
				return result, fmt.Errorf("restore best epoch %s: %w", path, err)
			}
			result.Restored = path
		}
	}

	t.status.update(func(s *Status) { s.Phase = PhaseEvaluating })
	ev, err := Evaluate(ctx, t.model, t.data, cfg.ValidationBatch, t.heads)
	if err != nil {
		return result, fmt.Errorf("final evaluation: %w", err)
	}
	result.Final = &ev
	result.Duration = time.Since(start)
	t.logger.Info("Final evaluation",
		zap.Int("examples", ev.Examples),
		zap.Float64("loss", ev.Losses.Total),
		zap.Float64("genotype_accuracy", ev.GenotypeAccuracy()))

	t.status.update(func(s *Status) { s.Phase = PhaseDone })
	return result, nil
}

// iterate runs one overlapped step: the model operation for st.Batch in a
// task, the next fetch on this goroutine, then the join and loss
// accumulation. The phase follows the cursor, which already points past
// st.Batch, so the batch ending on ValidationStart is evaluated.
func (t *Trainer) iterate(st *State, provider *BatchProvider, plan Plan) (Batch, bool, error) {
	cur := st.Batch
	training := cur != nil && st.Cursor < plan.ValidationStart

	var g errgroup.Group
	var losses model.Losses
	if cur != nil {
		g.Go(func() error {
			var err error
			if training {
				losses, err = t.model.Train(cur.X, cur.Y)
			} else {
				losses, err = t.model.Evaluate(cur.X, cur.Y)
			}
			return err
		})
	}

	next, more, fetchErr := provider.Next(st.Cursor, plan.ValidationStart, st.Order)
	if err := g.Wait(); err != nil {
		return Batch{}, false, fmt.Errorf("epoch %d batch at %d: %w", st.Epoch, cur.Start, err)
	}
	if fetchErr != nil {
		return Batch{}, false, fmt.Errorf("epoch %d fetch at %d: %w", st.Epoch, st.Cursor, fetchErr)
	}

	if cur != nil {
		if training {
			st.trainLoss += losses.Total
			st.trainSeen += cur.Count
		} else {
			st.validation = st.validation.Add(losses)
			st.validationSeen += cur.Count
		}
	}
	return next, more, nil
}

func (t *Trainer) finishEpoch(ctx context.Context, st *State, plan Plan, lr float64, elapsed time.Duration) (EpochResult, error) {
	t.status.update(func(s *Status) { s.Phase = PhaseEpochBoundary })

	er := EpochResult{
		Epoch:              st.Epoch,
		ValidationSum:      st.validation.Total,
		TrainingExamples:   st.trainSeen,
		ValidationExamples: st.validationSeen,
		LearningRate:       lr,
		GlobalStep:         st.GlobalStep,
		Duration:           elapsed,
	}
	if st.trainSeen > 0 {
		er.TrainingLoss = st.trainLoss / float64(st.trainSeen)
	}
	if st.validationSeen > 0 {
		er.Validation = st.validation.Scale(1 / float64(st.validationSeen))
	}

	t.logger.Info("Epoch complete",
		zap.Int("epoch", er.Epoch),
		zap.Float64("training_loss", er.TrainingLoss),
		zap.Float64("validation_loss", er.Validation.Total),
		zap.Float64("base_loss", er.Validation.Base),
		zap.Float64("genotype_loss", er.Validation.Genotype),
		zap.Float64("indel_1_loss", er.Validation.Indel1),
		zap.Float64("indel_2_loss", er.Validation.Indel2),
		zap.Duration("elapsed", elapsed))

	if prefix := t.config.CheckpointPrefix; prefix != "" {
		path := CheckpointPath(prefix, st.Epoch, t.config.CheckpointWidth)
		if err := t.model.SaveParameters(path); err != nil {
			return er, fmt.Errorf("save checkpoint %s: %w", path, err)
		}
		er.Checkpoint = path
	}

	var errs []error
	for _, o := range t.observers {
		if err := o.OnEpoch(ctx, er); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return er, fmt.Errorf("epoch %d observers: %w", st.Epoch, err)
	}

	t.status.update(func(s *Status) {
		e := er
		s.LastEpoch = &e
	})
	return er, nil
}
