// Package output provides JSONL output for region commands and training runs.
//
// Output is structured as typed record envelopes. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/govarcall/pkg/model"
)

// Record type constants follow the pattern govarcall.<type>.v<version>.
const (
	// TypeRegion identifies one per-region call-variant invocation.
	TypeRegion = "govarcall.region.v1"

	// TypeEpoch identifies a finished training epoch.
	TypeEpoch = "govarcall.epoch.v1"

	// TypeSummary identifies the final record of a training run.
	TypeSummary = "govarcall.summary.v1"

	// TypePreflight identifies the storage checks run before training.
	TypePreflight = "govarcall.preflight.v1"

	// TypeError identifies error records.
	TypeError = "govarcall.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "govarcall.region.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates records from one invocation.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// RegionRecord is one region of the genome and the command that calls it.
type RegionRecord struct {
	Contig     string `json:"contig"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	OutputPath string `json:"output_path"`

	// Restriction is the BED file forwarded to the caller, set only when the
	// region overlaps it.
	Restriction string `json:"restriction,omitempty"`

	Command string `json:"command"`
}

// EpochRecord is the payload for a finished epoch.
type EpochRecord struct {
	Epoch              int          `json:"epoch"`
	TrainingLoss       float64      `json:"training_loss"`
	Validation         model.Losses `json:"validation"`
	ValidationSum      float64      `json:"validation_sum"`
	TrainingExamples   int          `json:"training_examples"`
	ValidationExamples int          `json:"validation_examples"`
	LearningRate       float64      `json:"learning_rate"`
	GlobalStep         int          `json:"global_step"`
	Checkpoint         string       `json:"checkpoint,omitempty"`
	DurationMS         int64        `json:"duration_ms"`
}

// SummaryRecord closes a training run.
type SummaryRecord struct {
	Status    string `json:"status"`
	Epochs    int    `json:"epochs"`
	BestEpoch int    `json:"best_epoch,omitempty"`

	// BestLoss is the summed validation loss of BestEpoch.
	BestLoss float64 `json:"best_loss,omitempty"`

	Restored string `json:"restored,omitempty"`

	Final *EvaluationRecord `json:"final,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// EvaluationRecord is the final pass over the whole dataset.
type EvaluationRecord struct {
	Examples         int          `json:"examples"`
	Losses           model.Losses `json:"losses"`
	GenotypeAccuracy float64      `json:"genotype_accuracy"`

	// Confusion is indexed [true][predicted] by genotype code.
	Confusion [3][3]int `json:"confusion"`
}

// PreflightRecord reports the storage checks run before the first epoch.
type PreflightRecord struct {
	Mode        string                 `json:"mode"`
	ProbePrefix string                 `json:"probe_prefix,omitempty"`
	Results     []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is one capability check.
type PreflightCheckResult struct {
	// Capability is a stable name such as "dataset.read" or "upload.write".
	Capability string `json:"capability"`

	// Target is the URI the check ran against.
	Target string `json:"target"`

	Allowed   bool   `json:"allowed"`
	Method    string `json:"method"`
	ErrorCode string `json:"error_code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAccessDenied  = "ACCESS_DENIED"
	ErrCodeInconsistent  = "INCONSISTENT_DATA"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeInternal      = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
