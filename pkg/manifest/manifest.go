// Package manifest provides loading and validation of govarcall train
// manifests.
//
// A train manifest is a YAML or JSON file that pins every knob of a training
// run: the dataset location, the schedule, checkpointing and where results
// go. Manifests are validated against an embedded JSON Schema that enforces
// strict typing and rejects unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	dataset: s3://genomes/hg002/train.gvd
//	training:
//	  train_batch: 10000
//	  validation_batch: 10000
//	  max_epoch: 30
//	  clr_mode: tri
//	checkpoints:
//	  prefix: ./ckpt/model
//	  upload: s3://genomes/hg002/runs/
//	output:
//	  epochs: ./epochs.jsonl
package manifest

import (
	"fmt"

	"github.com/3leaps/govarcall/pkg/clr"
	"github.com/3leaps/govarcall/pkg/model"
	"github.com/3leaps/govarcall/pkg/provider/s3"
	"github.com/3leaps/govarcall/pkg/trainer"
)

// Version is the only manifest version accepted.
const Version = "1.0"

// Manifest is a validated train manifest. Version and Dataset are required;
// everything else falls back to trainer.DefaultConfig.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Dataset is the dataset container location (local path or s3 URI).
	Dataset string `json:"dataset" yaml:"dataset"`

	Training    TrainingConfig   `json:"training,omitempty" yaml:"training,omitempty"`
	Checkpoints CheckpointConfig `json:"checkpoints,omitempty" yaml:"checkpoints,omitempty"`
	Model       ModelConfig      `json:"model,omitempty" yaml:"model,omitempty"`
	Connection  ConnectionConfig `json:"connection,omitempty" yaml:"connection,omitempty"`
	Output      OutputConfig     `json:"output,omitempty" yaml:"output,omitempty"`
}

// TrainingConfig mirrors trainer.Config. Zero values take the trainer default.
type TrainingConfig struct {
	TrainBatch       int     `json:"train_batch,omitempty" yaml:"train_batch,omitempty"`
	ValidationBatch  int     `json:"validation_batch,omitempty" yaml:"validation_batch,omitempty"`
	TrainFraction    float64 `json:"train_fraction,omitempty" yaml:"train_fraction,omitempty"`
	MaxEpoch         int     `json:"max_epoch,omitempty" yaml:"max_epoch,omitempty"`
	LearningRate     float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	MaxLearningRate  float64 `json:"max_learning_rate,omitempty" yaml:"max_learning_rate,omitempty"`
	StepSizeConstant float64 `json:"step_size_constant,omitempty" yaml:"step_size_constant,omitempty"`
	CLRMode          string  `json:"clr_mode,omitempty" yaml:"clr_mode,omitempty"`
	CLRGamma         float64 `json:"clr_gamma,omitempty" yaml:"clr_gamma,omitempty"`
	Seed             uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// L2Lambda is a pointer so an explicit 0 disables regularisation.
	L2Lambda *float64 `json:"l2_lambda,omitempty" yaml:"l2_lambda,omitempty"`
}

// CheckpointConfig configures per-epoch checkpoints.
type CheckpointConfig struct {
	// Prefix is the local checkpoint prefix; files are <prefix>-<epoch>.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Width is the zero-padded epoch suffix width. Default: 6.
	Width int `json:"width,omitempty" yaml:"width,omitempty"`

	// Init is a checkpoint to resume from (local path or s3 URI).
	Init string `json:"init,omitempty" yaml:"init,omitempty"`

	// Upload is an s3 prefix each saved checkpoint is copied to.
	Upload string `json:"upload,omitempty" yaml:"upload,omitempty"`
}

// ModelConfig configures the reference model.
type ModelConfig struct {
	// Heads is the label layout. Default: model.DefaultHeads.
	Heads *model.Heads `json:"heads,omitempty" yaml:"heads,omitempty"`
}

// ConnectionConfig configures S3 access for s3:// locations.
type ConnectionConfig struct {
	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile        string `json:"profile,omitempty" yaml:"profile,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// OutputConfig configures where run results go.
type OutputConfig struct {
	// Epochs is a JSONL file for per-epoch records, or "stdout".
	Epochs string `json:"epochs,omitempty" yaml:"epochs,omitempty"`

	// Ledger overrides the run ledger path.
	Ledger string `json:"ledger,omitempty" yaml:"ledger,omitempty"`

	// StatusAddr starts the status server on this address when set.
	StatusAddr string `json:"status_addr,omitempty" yaml:"status_addr,omitempty"`
}

// ApplyDefaults fills optional fields with trainer defaults.
func (m *Manifest) ApplyDefaults() {
	def := trainer.DefaultConfig()
	t := &m.Training
	if t.TrainBatch == 0 {
		t.TrainBatch = def.TrainBatch
	}
	if t.ValidationBatch == 0 {
		t.ValidationBatch = def.ValidationBatch
	}
	if t.TrainFraction == 0 {
		t.TrainFraction = def.TrainFraction
	}
	if t.MaxEpoch == 0 {
		t.MaxEpoch = def.MaxEpoch
	}
	if t.LearningRate == 0 {
		t.LearningRate = def.LearningRate
	}
	if t.MaxLearningRate == 0 {
		t.MaxLearningRate = def.MaxLearningRate
	}
	if t.StepSizeConstant == 0 {
		t.StepSizeConstant = def.StepSizeConstant
	}
	if t.CLRMode == "" {
		t.CLRMode = string(def.CLRMode)
	}
	if t.L2Lambda == nil {
		l2 := def.L2Lambda
		t.L2Lambda = &l2
	}
	if m.Checkpoints.Width == 0 {
		m.Checkpoints.Width = def.CheckpointWidth
	}
}

// validateRules checks constraints that span fields.
func (m *Manifest) validateRules() error {
	t := m.Training
	if t.LearningRate > 0 && t.MaxLearningRate > 0 && t.MaxLearningRate < t.LearningRate {
		return ValidationErrors{{
			Path:    "/training/max_learning_rate",
			Message: fmt.Sprintf("must be >= learning_rate (%g)", t.LearningRate),
		}}
	}
	if m.Checkpoints.Upload != "" && m.Checkpoints.Prefix == "" {
		return ValidationErrors{{
			Path:    "/checkpoints/upload",
			Message: "requires checkpoints.prefix",
		}}
	}
	return nil
}

// TrainerConfig converts the manifest to a trainer configuration.
func (m *Manifest) TrainerConfig() (trainer.Config, error) {
	mode, err := clr.ParseMode(m.Training.CLRMode)
	if err != nil {
		return trainer.Config{}, err
	}
	cfg := trainer.Config{
		TrainBatch:       m.Training.TrainBatch,
		ValidationBatch:  m.Training.ValidationBatch,
		TrainFraction:    m.Training.TrainFraction,
		MaxEpoch:         m.Training.MaxEpoch,
		LearningRate:     m.Training.LearningRate,
		MaxLearningRate:  m.Training.MaxLearningRate,
		StepSizeConstant: m.Training.StepSizeConstant,
		CLRMode:          mode,
		CLRGamma:         m.Training.CLRGamma,
		CheckpointPrefix: m.Checkpoints.Prefix,
		CheckpointWidth:  m.Checkpoints.Width,
		InitCheckpoint:   m.Checkpoints.Init,
		Seed:             m.Training.Seed,
	}
	if m.Training.L2Lambda != nil {
		cfg.L2Lambda = *m.Training.L2Lambda
	}
	return cfg, nil
}

// Heads returns the configured label layout or model.DefaultHeads.
func (m *Manifest) Heads() model.Heads {
	if m.Model.Heads == nil {
		return model.DefaultHeads
	}
	return *m.Model.Heads
}

// S3Config returns the S3 connection template; the bucket is filled per URI.
func (m *Manifest) S3Config() s3.Config {
	return s3.Config{
		Region:         m.Connection.Region,
		Endpoint:       m.Connection.Endpoint,
		Profile:        m.Connection.Profile,
		ForcePathStyle: m.Connection.ForcePathStyle,
	}
}
