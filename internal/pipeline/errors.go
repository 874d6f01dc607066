package pipeline

import (
	"errors"
	"fmt"

	"github.com/specloom/loom/internal/engine"
	"github.com/specloom/loom/internal/receipt"
	"github.com/specloom/loom/internal/workspace"
)

// Exit codes form the contract between the pipeline and the command
// layer. They are stable; scripts depend on them.
const (
	ExitOK               = 0
	ExitValidation       = 1
	ExitExtraction       = 2
	ExitEmission         = 3
	ExitCanonicalization = 4
	ExitIO               = 5
	ExitTimeout          = 6
	ExitLockContention   = 7
)

// ValidationError aborts a run on blocking shape violations. Violations
// are never auto-corrected; every item carries the full context needed
// to fix the source.
type ValidationError struct {
	Transformation string
	Violations     []engine.Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("validation failed for %s", e.Transformation)
	}
	v := e.Violations[0]
	return fmt.Sprintf("validation failed for %s: %d violation(s), first: shape %s on %s: %s",
		e.Transformation, len(e.Violations), v.Shape, v.Focus, v.Message)
}

// CanonicalizationError wraps a canonicalizer failure with the output
// it was formatting.
type CanonicalizationError struct {
	Output string
	Err    error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalizing %s: %v", e.Output, e.Err)
}

func (e *CanonicalizationError) Unwrap() error {
	return e.Err
}

// TimeoutError marks a stage that exceeded its configured timeout. The
// run is retryable by re-invoking sync; nothing is retried internally.
type TimeoutError struct {
	Stage string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded its timeout", e.Stage)
}

// DriftError reports that verification found artifacts whose on-disk
// hashes no longer match the receipt. Advisory for interactive use;
// CI-style callers treat it as fatal.
type DriftError struct {
	Report receipt.Report
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("workspace drift: %d drifted, %d missing",
		e.Report.Count(receipt.StatusDrift), e.Report.Count(receipt.StatusMissing))
}

// IdempotenceViolationError reports that a no-op run produced a receipt
// that differs from the previous one. This is always a defect in an
// adapter or canonicalizer, never expected behavior.
type IdempotenceViolationError struct{}

func (e *IdempotenceViolationError) Error() string {
	return "no-op run produced a different receipt"
}

// ExitCode maps an error to the pipeline's exit-code contract. Errors
// outside the taxonomy are treated as I/O failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		validation *ValidationError
		extraction *engine.ExtractionError
		emission   *engine.EmissionError
		canonical  *CanonicalizationError
		timeout    *TimeoutError
		contention *workspace.ContentionError
		drift      *DriftError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &drift):
		return ExitValidation
	case errors.As(err, &extraction):
		return ExitExtraction
	case errors.As(err, &emission):
		return ExitEmission
	case errors.As(err, &canonical):
		return ExitCanonicalization
	case errors.As(err, &timeout):
		return ExitTimeout
	case errors.As(err, &contention):
		return ExitLockContention
	default:
		return ExitIO
	}
}
