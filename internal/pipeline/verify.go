package pipeline

import (
	"context"

	"github.com/specloom/loom/internal/receipt"
	"github.com/specloom/loom/internal/telemetry"
)

// Verify recomputes the hash of every artifact the last receipt lists
// and reports per-path status. It never mutates the workspace and is
// safe to run at any time, including mid-failure-investigation. Under
// strict, a dirty report is returned as a *DriftError so CI-style
// callers fail; otherwise the report alone carries the findings.
func (p *Pipeline) Verify(ctx context.Context, strict bool) (receipt.Report, error) {
	if err := ctx.Err(); err != nil {
		return receipt.Report{}, err
	}

	rec, err := receipt.Load(p.Store.ReceiptPath())
	if err != nil {
		return receipt.Report{}, err
	}

	report := receipt.Verify(p.Store.Root(), rec)
	if !report.Clean() {
		for _, res := range report.Results {
			if res.Status == receipt.StatusValid {
				continue
			}
			p.event(telemetry.KindDriftFound, "", "", map[string]any{
				"path": res.Path, "status": string(res.Status),
			})
		}
		if strict {
			return report, &DriftError{Report: report}
		}
	}
	return report, nil
}
