package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/specloom/loom/internal/engine"
	"github.com/specloom/loom/internal/receipt"
	"github.com/specloom/loom/internal/workspace"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"validation", &ValidationError{Transformation: "t"}, ExitValidation},
		{"extraction", &engine.ExtractionError{Query: "q"}, ExitExtraction},
		{"emission", &engine.EmissionError{Template: "t"}, ExitEmission},
		{"canonicalization", &CanonicalizationError{Output: "o", Err: errors.New("x")}, ExitCanonicalization},
		{"io", errors.New("disk full"), ExitIO},
		{"timeout", &TimeoutError{Stage: StageEmit}, ExitTimeout},
		{"contention", &workspace.ContentionError{}, ExitLockContention},
		{"drift", &DriftError{}, ExitValidation},
		{"wrapped extraction", fmt.Errorf("stage extract: %w", &engine.ExtractionError{Query: "q"}), ExitExtraction},
		{"wrapped timeout", fmt.Errorf("run failed: %w", &TimeoutError{Stage: StageEmit}), ExitTimeout},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	verr := &ValidationError{
		Transformation: "command-list",
		Violations: []engine.Violation{
			{Shape: "CommandDescription", Focus: "verify", Message: "needs a description"},
		},
	}
	for _, want := range []string{"command-list", "CommandDescription", "verify", "needs a description"} {
		if got := verr.Error(); !strings.Contains(got, want) {
			t.Errorf("ValidationError %q missing %q", got, want)
		}
	}

	terr := &TimeoutError{Stage: StageCanonicalize}
	if !strings.Contains(terr.Error(), StageCanonicalize) {
		t.Errorf("TimeoutError %q does not name the stage", terr.Error())
	}

	derr := &DriftError{Report: receipt.Report{Results: []receipt.PathResult{
		{Path: "a", Status: receipt.StatusDrift},
		{Path: "b", Status: receipt.StatusMissing},
	}}}
	if !strings.Contains(derr.Error(), "1 drifted") || !strings.Contains(derr.Error(), "1 missing") {
		t.Errorf("DriftError = %q", derr.Error())
	}
}
