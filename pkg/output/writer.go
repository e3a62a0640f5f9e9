package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/govarcall/pkg/region"
	"github.com/3leaps/govarcall/pkg/trainer"
)

// Writer outputs JSONL records.
//
// Implementations must be safe for concurrent use. Each Write* method emits
// a complete record as a single line of JSON followed by a newline.
type Writer interface {
	WriteRegion(ctx context.Context, rec *RegionRecord) error
	WriteEpoch(ctx context.Context, rec *EpochRecord) error
	WriteSummary(ctx context.Context, rec *SummaryRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// Close marks the writer closed. The underlying io.Writer is not closed.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized with a mutex so lines never interleave.
type JSONLWriter struct {
	w     io.Writer
	runID string
	mu    sync.Mutex

	closed bool
}

// NewJSONLWriter creates a JSONL writer stamping every record with runID.
func NewJSONLWriter(w io.Writer, runID string) *JSONLWriter {
	return &JSONLWriter{w: w, runID: runID}
}

// WriteRegion emits a region record.
func (jw *JSONLWriter) WriteRegion(ctx context.Context, rec *RegionRecord) error {
	return jw.writeRecord(ctx, TypeRegion, rec)
}

// WriteEpoch emits an epoch record.
func (jw *JSONLWriter) WriteEpoch(ctx context.Context, rec *EpochRecord) error {
	return jw.writeRecord(ctx, TypeEpoch, rec)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, rec *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, rec)
}

// WritePreflight emits a preflight record.
func (jw *JSONLWriter) WritePreflight(ctx context.Context, rec *PreflightRecord) error {
	return jw.writeRecord(ctx, TypePreflight, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// OnEpoch implements trainer.Observer.
func (jw *JSONLWriter) OnEpoch(ctx context.Context, r trainer.EpochResult) error {
	return jw.WriteEpoch(ctx, NewEpochRecord(r))
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recordBytes, err := json.Marshal(Record{
		Type:  recordType,
		TS:    time.Now().UTC(),
		RunID: jw.runID,
		Data:  dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// NewRegionRecord pairs a region with its rendered command line.
func NewRegionRecord(d region.Descriptor, command string) *RegionRecord {
	rec := &RegionRecord{
		Contig:     d.Contig,
		Start:      d.Start,
		End:        d.End,
		OutputPath: d.OutputPath,
		Command:    command,
	}
	if d.Restriction != nil {
		rec.Restriction = d.Restriction.Path
	}
	return rec
}

// NewEpochRecord converts a trainer epoch result.
func NewEpochRecord(r trainer.EpochResult) *EpochRecord {
	return &EpochRecord{
		Epoch:              r.Epoch,
		TrainingLoss:       r.TrainingLoss,
		Validation:         r.Validation,
		ValidationSum:      r.ValidationSum,
		TrainingExamples:   r.TrainingExamples,
		ValidationExamples: r.ValidationExamples,
		LearningRate:       r.LearningRate,
		GlobalStep:         r.GlobalStep,
		Checkpoint:         r.Checkpoint,
		DurationMS:         r.Duration.Milliseconds(),
	}
}

// NewSummaryRecord summarises a finished run. res may be nil when the run
// failed before producing a result.
func NewSummaryRecord(res *trainer.Result, status string) *SummaryRecord {
	rec := &SummaryRecord{Status: status}
	if res == nil {
		return rec
	}
	rec.Epochs = len(res.Epochs)
	if res.HasBest {
		rec.BestEpoch = res.Best.Epoch
		rec.BestLoss = res.Best.Loss
	}
	rec.Restored = res.Restored
	rec.Duration = res.Duration
	rec.DurationHuman = res.Duration.Round(time.Millisecond).String()
	if ev := res.Final; ev != nil {
		rec.Final = &EvaluationRecord{
			Examples:         ev.Examples,
			Losses:           ev.Losses,
			GenotypeAccuracy: ev.GenotypeAccuracy(),
			Confusion:        ev.Confusion,
		}
	}
	return rec
}

var (
	_ Writer           = (*JSONLWriter)(nil)
	_ trainer.Observer = (*JSONLWriter)(nil)
)
