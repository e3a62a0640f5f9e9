// Package preflight checks that a training run can reach its storage before
// any epoch starts. Each check is reported as an output.PreflightCheckResult.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/govarcall/pkg/output"
	"github.com/3leaps/govarcall/pkg/provider"
	"github.com/3leaps/govarcall/pkg/source"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly runs no checks.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe heads every input. Nothing is written.
	ModeReadSafe Mode = "read-safe"

	// ModeWriteProbe also writes and deletes a probe object under the
	// upload prefix.
	ModeWriteProbe Mode = "write-probe"
)

// ParseMode parses a mode name. The empty string is read-safe.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeReadSafe, nil
	case ModePlanOnly, ModeReadSafe, ModeWriteProbe:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown preflight mode")

// DefaultProbePrefix is where write probes land under the upload prefix.
const DefaultProbePrefix = "_govarcall/probe/"

// Capability names are stable strings used in JSONL output.
const (
	CapDatasetRead = "dataset.read"
	CapInitRead    = "init.read"
	CapUploadWrite = "upload.write"
)

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode        Mode
	ProbePrefix string
}

// Targets are the locations a training run touches.
type Targets struct {
	Dataset string
	Init    string
	Upload  string
}

// Resolver maps a location onto a provider and key. *source.Opener
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, loc *source.Location) (provider.Provider, string, error)
}

// Train runs the checks for a training run, stopping at the first failure.
// The returned record lists every check that ran, including the failed one.
//
// Ordering: dataset read, init read, upload write probe.
func Train(ctx context.Context, r Resolver, targets Targets, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}
	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	if err := headCheck(ctx, r, rec, CapDatasetRead, targets.Dataset); err != nil {
		return rec, err
	}
	if targets.Init != "" {
		if err := headCheck(ctx, r, rec, CapInitRead, targets.Init); err != nil {
			return rec, err
		}
	}

	if spec.Mode == ModeWriteProbe && targets.Upload != "" {
		rec.ProbePrefix = spec.ProbePrefix
		if rec.ProbePrefix == "" {
			rec.ProbePrefix = DefaultProbePrefix
		}
		if err := writeProbe(ctx, r, rec, targets.Upload); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func headCheck(ctx context.Context, r Resolver, rec *output.PreflightRecord, capability, uri string) error {
	const method = "HeadObject"
	p, key, err := resolve(ctx, r, uri)
	if err == nil {
		_, err = p.Head(ctx, key)
	}
	if err != nil {
		rec.Results = append(rec.Results, failed(capability, uri, method, err))
		return err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Capability: capability,
		Target:     uri,
		Allowed:    true,
		Method:     method,
	})
	return nil
}

// writeProbe puts an empty object under the upload prefix and deletes it.
func writeProbe(ctx context.Context, r Resolver, rec *output.PreflightRecord, upload string) error {
	method := "PutObject+DeleteObject"
	loc, err := source.ParseURI(upload)
	if err != nil {
		rec.Results = append(rec.Results, failed(CapUploadWrite, upload, method, err))
		return err
	}
	probe := loc.Join(joinPrefix(rec.ProbePrefix, "preflight-"+uuid.NewString()))
	target := probe.String()

	p, key, err := r.Resolve(ctx, probe)
	if err != nil {
		rec.Results = append(rec.Results, failed(CapUploadWrite, target, method, err))
		return err
	}
	putter, ok := p.(provider.ObjectPutter)
	if !ok {
		err := fmt.Errorf("%w: %s provider does not support writes", source.ErrUnsupportedProvider, loc.Provider)
		rec.Results = append(rec.Results, failed(CapUploadWrite, target, method, err))
		return err
	}
	deleter, canDelete := p.(provider.ObjectDeleter)
	if !canDelete {
		method = "PutObject"
	}

	if err := putter.PutObject(ctx, key, strings.NewReader(""), 0); err != nil {
		rec.Results = append(rec.Results, failed(CapUploadWrite, target, method, err))
		return err
	}
	if canDelete {
		// The probe must not outlive a cancelled run.
		if err := deleter.DeleteObject(context.WithoutCancel(ctx), key); err != nil {
			rec.Results = append(rec.Results, failed(CapUploadWrite, target, method, err))
			return err
		}
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Capability: CapUploadWrite,
		Target:     target,
		Allowed:    true,
		Method:     method,
	})
	return nil
}

func resolve(ctx context.Context, r Resolver, uri string) (provider.Provider, string, error) {
	loc, err := source.ParseURI(uri)
	if err != nil {
		return nil, "", err
	}
	return r.Resolve(ctx, loc)
}

func failed(capability, target, method string, err error) output.PreflightCheckResult {
	return output.PreflightCheckResult{
		Capability: capability,
		Target:     target,
		Allowed:    false,
		Method:     method,
		ErrorCode:  normalizeErrorCode(err),
		Detail:     err.Error(),
	}
}

func joinPrefix(prefix, suffix string) string {
	if prefix == "" {
		return strings.TrimPrefix(suffix, "/")
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + strings.TrimPrefix(suffix, "/")
	}
	return prefix + "/" + strings.TrimPrefix(suffix, "/")
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case errors.Is(err, source.ErrInvalidURI), errors.Is(err, source.ErrUnsupportedProvider),
		errors.Is(err, source.ErrMissingBucket), errors.Is(err, source.ErrMissingKey):
		return output.ErrCodeInvalidConfig
	default:
		return output.ErrCodeInternal
	}
}
