// Package plan computes the minimal regeneration set for a run: which
// outputs must be rebuilt given the previous receipt and the current
// input hashes. When safety cannot be proven (no receipt, a corrupt
// receipt, or an engine-version mismatch) the planner falls back to a
// full run rather than guess.
package plan

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/specloom/loom/internal/depgraph"
	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/manifest"
	"github.com/specloom/loom/internal/receipt"
)

// Plan is the planner's decision for one run.
type Plan struct {
	// Full marks a non-incremental run: every output regenerates.
	Full bool
	// Reason explains a Full plan for logs and dry-run output.
	Reason string
	// Regenerate lists the outputs to rebuild, sorted.
	Regenerate []string
	// Prune lists outputs the previous receipt produced that the
	// manifest no longer declares, sorted. The run removes them and
	// writes a receipt without them.
	Prune []string
	// CarryForward maps untouched outputs to their prior hashes,
	// copied unchanged into the next receipt.
	CarryForward map[string]string
	// InputHashes holds the current hash of every declared input.
	InputHashes map[string]string
}

// NoWork reports whether nothing needs regenerating or pruning. A
// manifest edit that drops a transformation is work even when no input
// content changed: the stale output goes away and the receipt shrinks.
func (p *Plan) NoWork() bool {
	return !p.Full && len(p.Regenerate) == 0 && len(p.Prune) == 0
}

// Compute hashes every declared input and diffs against the previous
// receipt. prev may be nil (first run); prevErr carries the outcome of
// loading it, so a corrupt receipt forces a full rebuild while a
// cleanly absent one is reported as such.
func Compute(root string, m *manifest.Manifest, g *depgraph.Graph, engineVersion string, prev *receipt.Receipt, prevErr error) (*Plan, error) {
	hashes := make(map[string]string)
	for _, in := range m.InputPaths() {
		h, err := digest.File(filepath.Join(root, in))
		if err != nil {
			return nil, fmt.Errorf("hashing input %s: %w", in, err)
		}
		hashes[in] = h
	}

	if reason := fullRunReason(engineVersion, prev, prevErr); reason != "" {
		return &Plan{
			Full:         true,
			Reason:       reason,
			Regenerate:   m.OutputPaths(),
			Prune:        prunedOutputs(m, prev),
			CarryForward: map[string]string{},
			InputHashes:  hashes,
		}, nil
	}

	// An input the previous receipt hashed that the manifest no longer
	// declares invalidates the carried hashes: the receipt cannot say
	// which outputs depended on it, so everything regenerates.
	for in := range prev.Inputs {
		if _, declared := hashes[in]; !declared {
			return &Plan{
				Full:         true,
				Reason:       fmt.Sprintf("input %s no longer declared", in),
				Regenerate:   m.OutputPaths(),
				Prune:        prunedOutputs(m, prev),
				CarryForward: map[string]string{},
				InputHashes:  hashes,
			}, nil
		}
	}

	dirty := make(map[string]bool)
	for in, h := range hashes {
		if prev.Inputs[in] != h {
			dirty[in] = true
		}
	}

	regenerate := g.Outputs(dirty)
	regenerating := make(map[string]bool, len(regenerate))
	for _, out := range regenerate {
		regenerating[out] = true
	}

	// Outputs the previous receipt knows about keep their hashes, but
	// only while the manifest still declares them.
	declared := make(map[string]bool)
	for _, out := range m.OutputPaths() {
		declared[out] = true
	}
	carry := make(map[string]string)
	for out, h := range prev.Outputs {
		if declared[out] && !regenerating[out] {
			carry[out] = h
		}
	}

	// A declared output the previous receipt never produced must be
	// generated even though no input changed.
	for _, out := range m.OutputPaths() {
		if _, known := prev.Outputs[out]; !known && !regenerating[out] {
			regenerating[out] = true
			regenerate = append(regenerate, out)
		}
	}

	sort.Strings(regenerate)
	return &Plan{
		Regenerate:   regenerate,
		Prune:        prunedOutputs(m, prev),
		CarryForward: carry,
		InputHashes:  hashes,
	}, nil
}

// prunedOutputs lists previously generated outputs the manifest no
// longer declares.
func prunedOutputs(m *manifest.Manifest, prev *receipt.Receipt) []string {
	if prev == nil {
		return nil
	}
	declared := make(map[string]bool)
	for _, out := range m.OutputPaths() {
		declared[out] = true
	}
	var prune []string
	for out := range prev.Outputs {
		if !declared[out] {
			prune = append(prune, out)
		}
	}
	sort.Strings(prune)
	return prune
}

func fullRunReason(engineVersion string, prev *receipt.Receipt, prevErr error) string {
	switch {
	case errors.Is(prevErr, receipt.ErrNoReceipt):
		return "no previous receipt"
	case prevErr != nil:
		return fmt.Sprintf("previous receipt unreadable: %v", prevErr)
	case prev == nil:
		return "no previous receipt"
	case prev.EngineVersion != engineVersion:
		return fmt.Sprintf("engine version changed (%s -> %s)", prev.EngineVersion, engineVersion)
	default:
		return ""
	}
}
