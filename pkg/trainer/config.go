package trainer

import (
	"errors"
	"fmt"
	"math"

	"github.com/3leaps/govarcall/pkg/clr"
)

// Config holds the fixed parameters of a training run. It is never mutated
// once the run starts.
type Config struct {
	// TrainBatch is the training batch size.
	// Default: 10000
	TrainBatch int

	// ValidationBatch is the evaluation batch size. Validation batches are
	// aligned to multiples of this value.
	// Default: 10000
	ValidationBatch int

	// TrainFraction is the share of the dataset used for training. The rest,
	// minus one boundary example, is the validation split.
	// Default: 0.9
	TrainFraction float64

	// MaxEpoch is the last epoch to run (inclusive).
	// Default: 30
	MaxEpoch int

	// LearningRate is the initial and base cyclical learning rate.
	LearningRate float64

	// MaxLearningRate is the peak cyclical learning rate.
	MaxLearningRate float64

	// L2Lambda is the L2 regularisation weight.
	L2Lambda float64

	// StepSizeConstant multiplies the per-epoch iteration count to give the
	// cyclical half-period.
	StepSizeConstant float64

	// CLRMode is the cyclical schedule shape.
	CLRMode clr.Mode

	// CLRGamma is the decay base for clr.ModeExp. Zero selects clr.DefaultGamma.
	CLRGamma float64

	// CheckpointPrefix enables per-epoch checkpoints at <prefix>-<epoch>.
	// Empty disables checkpoints and best-epoch restore.
	CheckpointPrefix string

	// CheckpointWidth is the zero-padded width of the epoch suffix.
	// Default: 6
	CheckpointWidth int

	// InitCheckpoint restores parameters before training and resumes the
	// epoch counter from its suffix.
	InitCheckpoint string

	// Seed seeds the block shuffle.
	Seed uint64
}

// DefaultConfig returns the default training configuration.
func DefaultConfig() Config {
	return Config{
		TrainBatch:       10000,
		ValidationBatch:  10000,
		TrainFraction:    0.9,
		MaxEpoch:         30,
		LearningRate:     1e-3,
		MaxLearningRate:  1e-2,
		L2Lambda:         1e-4,
		StepSizeConstant: 2,
		CLRMode:          clr.ModeTriangular,
		CheckpointWidth:  6,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid training config")

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.TrainBatch < 1:
		return fmt.Errorf("%w: train batch %d", ErrInvalidConfig, c.TrainBatch)
	case c.ValidationBatch < 1:
		return fmt.Errorf("%w: validation batch %d", ErrInvalidConfig, c.ValidationBatch)
	case c.TrainFraction <= 0 || c.TrainFraction >= 1:
		return fmt.Errorf("%w: train fraction %v outside (0, 1)", ErrInvalidConfig, c.TrainFraction)
	case c.MaxEpoch < 1:
		return fmt.Errorf("%w: max epoch %d", ErrInvalidConfig, c.MaxEpoch)
	case c.CheckpointWidth < 1:
		return fmt.Errorf("%w: checkpoint width %d", ErrInvalidConfig, c.CheckpointWidth)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, c.LearningRate)
	case c.MaxLearningRate < c.LearningRate:
		return fmt.Errorf("%w: max learning rate %v below learning rate %v", ErrInvalidConfig, c.MaxLearningRate, c.LearningRate)
	case c.StepSizeConstant <= 0:
		return fmt.Errorf("%w: step size constant %v", ErrInvalidConfig, c.StepSizeConstant)
	}
	if _, err := clr.ParseMode(string(c.CLRMode)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Plan holds the split and schedule constants derived from a dataset.
type Plan struct {
	Size                 int
	BlockSize            int
	Blocks               int
	TrainingExamples     int
	ValidationStart      int
	ValidationExamples   int
	ValidationStartBlock int
	TotalIterations      float64
	StepSize             float64
}

// NewPlan derives the split for a dataset of size rows stored in blocks of
// blockSize rows.
func NewPlan(size, blockSize int, cfg Config) (Plan, error) {
	if size < 2 {
		return Plan{}, fmt.Errorf("%w: dataset of %d rows is too small to split", ErrInvalidConfig, size)
	}
	if blockSize < 1 {
		return Plan{}, fmt.Errorf("%w: block size %d", ErrInvalidConfig, blockSize)
	}
	p := Plan{Size: size, BlockSize: blockSize}
	p.Blocks = (size + blockSize - 1) / blockSize
	p.TrainingExamples = int(float64(size) * cfg.TrainFraction)
	p.ValidationStart = p.TrainingExamples + 1
	p.ValidationExamples = size - p.ValidationStart
	if p.ValidationExamples < 1 {
		return Plan{}, fmt.Errorf("%w: no validation examples for %d rows at fraction %v",
			ErrInvalidConfig, size, cfg.TrainFraction)
	}
	p.ValidationStartBlock = p.ValidationStart/blockSize - 1
	p.TotalIterations = math.Ceil(float64(p.TrainingExamples)/float64(cfg.TrainBatch)+1) +
		math.Ceil(float64(p.ValidationExamples)/float64(cfg.ValidationBatch)+1)
	p.StepSize = cfg.StepSizeConstant * p.TotalIterations
	return p, nil
}
