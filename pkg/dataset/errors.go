package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent marks a feature/label decompression mismatch. It is
	// structural and never retried.
	ErrInconsistent = errors.New("inconsistent dataset arrays")

	// ErrFormat is returned when a container header or frame is malformed.
	ErrFormat = errors.New("invalid dataset container")

	// ErrBlockOrder is returned when a block order does not cover the array.
	ErrBlockOrder = errors.New("invalid block order")
)

// InconsistencyError reports the mismatching decompression results for one
// slice of the feature and label arrays.
type InconsistencyError struct {
	Start     int
	Requested int
	XCount    int
	YCount    int
	XEnd      bool
	YEnd      bool
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistency between decompressed arrays at %d (+%d): %d/%d rows, end %t/%t",
		e.Start, e.Requested, e.XCount, e.YCount, e.XEnd, e.YEnd)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrInconsistent
}

// FormatError wraps container parsing failures with the section that failed.
type FormatError struct {
	Section string
	Err     error
}

func (e *FormatError) Error() string {
	return "dataset " + e.Section + ": " + e.Err.Error()
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrFormat, e.Err}
}
