// Package errors classifies failures into process exit codes and the
// machine-readable codes used by JSONL error records and HTTP error bodies.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os/exec"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/govarcall/pkg/clr"
	"github.com/3leaps/govarcall/pkg/command"
	"github.com/3leaps/govarcall/pkg/dataset"
	"github.com/3leaps/govarcall/pkg/manifest"
	"github.com/3leaps/govarcall/pkg/match"
	"github.com/3leaps/govarcall/pkg/output"
	"github.com/3leaps/govarcall/pkg/provider"
	"github.com/3leaps/govarcall/pkg/region"
	"github.com/3leaps/govarcall/pkg/runstore"
	"github.com/3leaps/govarcall/pkg/source"
	"github.com/3leaps/govarcall/pkg/trainer"
)

// ExitFailure is the exit code for errors with no more specific class.
const ExitFailure = 1

// ExitError carries the process exit code chosen by a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// NewExitError wraps err with an exit code and a human message.
func NewExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code for err: the code of the outermost
// ExitError, otherwise the classified code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	code, _ := Classify(err)
	return code
}

// Classify maps err onto an exit code and an output error code.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return 0, ""
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return foundry.ExitSignalInt, output.ErrCodeCancelled
	case stderrors.Is(err, dataset.ErrInconsistent), stderrors.Is(err, dataset.ErrFormat), stderrors.Is(err, dataset.ErrBlockOrder):
		return foundry.ExitFileReadError, output.ErrCodeInconsistent
	case IsInvalidConfig(err):
		return foundry.ExitInvalidArgument, output.ErrCodeInvalidConfig
	case stderrors.Is(err, manifest.ErrManifestNotFound), stderrors.Is(err, fs.ErrNotExist),
		stderrors.Is(err, exec.ErrNotFound), stderrors.Is(err, runstore.ErrRunNotFound),
		provider.IsNotFound(err):
		return foundry.ExitFileNotFound, output.ErrCodeNotFound
	case provider.IsAccessDenied(err), stderrors.Is(err, fs.ErrPermission):
		return foundry.ExitExternalServiceUnavailable, output.ErrCodeAccessDenied
	case provider.IsUnavailable(err):
		return foundry.ExitExternalServiceUnavailable, output.ErrCodeInternal
	}
	return ExitFailure, output.ErrCodeInternal
}

// IsInvalidConfig reports whether err stems from user-supplied configuration.
func IsInvalidConfig(err error) bool {
	var verrs manifest.ValidationErrors
	var pattern *match.PatternError
	var cfgErr *ConfigError
	return stderrors.As(err, &verrs) ||
		stderrors.As(err, &pattern) ||
		stderrors.As(err, &cfgErr) ||
		stderrors.Is(err, manifest.ErrValidationFailed) ||
		stderrors.Is(err, trainer.ErrInvalidConfig) ||
		stderrors.Is(err, trainer.ErrCheckpointName) ||
		stderrors.Is(err, clr.ErrUnknownMode) ||
		stderrors.Is(err, region.ErrInvalidChunkSize) ||
		stderrors.Is(err, command.ErrMissingRequired) ||
		stderrors.Is(err, source.ErrInvalidURI) ||
		stderrors.Is(err, source.ErrUnsupportedProvider) ||
		stderrors.Is(err, source.ErrMissingBucket) ||
		stderrors.Is(err, source.ErrMissingKey)
}

// ConfigError reports an invalid flag or setting.
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError returns a ConfigError for field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
