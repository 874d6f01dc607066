package pipeline

import (
	"context"
	"time"

	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/plan"
	"github.com/specloom/loom/internal/receipt"
	"github.com/specloom/loom/internal/telemetry"
)

// tryResume inspects the persisted checkpoint and, when the interrupted
// run left durable stage output behind, finishes it instead of starting
// over. Returns resumed=false when there is nothing worth resuming:
// stages before emit keep no durable output, so a restart loses nothing.
func (p *Pipeline) tryResume(ctx context.Context, runID string, pl *plan.Plan, start time.Time) (*RunResult, bool, error) {
	st, err := p.Store.LoadRunState()
	if err != nil {
		return nil, false, err
	}
	if st == nil || !st.Completed(StageEmit) {
		return nil, false, nil
	}

	staging, err := p.Store.ResumeStaging()
	if err != nil {
		return nil, false, err
	}
	if staging == nil && !st.Completed(StageCanonicalize) {
		// The checkpoint claims emit committed but its staged output is
		// gone. Nothing durable to continue from.
		return nil, false, nil
	}

	p.event(telemetry.KindRecoveryStart, runID, st.CurrentStage, map[string]any{
		"completed": st.CompletedStages,
	})

	r := &run{
		p:        p,
		id:       runID,
		plan:     pl,
		state:    st,
		active:   p.activeTransformations(pl),
		staging:  staging,
		outHash:  make(map[string]string),
		outSize:  make(map[string]int64),
		builder:  receipt.NewBuilder(EngineVersion, start),
		lastHash: inputChainHash(pl),
	}

	// Replay the chain entries the interrupted run already committed so
	// the resumed receipt proves the same stage sequence.
	for _, l := range st.Chain {
		r.builder.AddStage(l.Stage, l.InputHash, l.OutputHash)
	}
	if n := len(st.Chain); n > 0 {
		r.lastHash = st.Chain[n-1].OutputHash
	}

	if !st.Completed(StageCanonicalize) {
		if err := r.runStage(ctx, StageCanonicalize, r.canonicalize); err != nil {
			return nil, true, err
		}
	} else if err := r.rehashCommitted(); err != nil {
		return nil, true, err
	}
	if err := r.runStage(ctx, StageReceipt, r.buildReceipt); err != nil {
		return nil, true, err
	}
	if err := p.Store.ClearRunState(); err != nil {
		return nil, true, err
	}

	rec, err := receipt.Load(p.Store.ReceiptPath())
	if err != nil {
		return nil, true, err
	}
	return &RunResult{
		RunID:          runID,
		Full:           pl.Full,
		Reason:         pl.Reason,
		Regenerated:    pl.Regenerate,
		Pruned:         pl.Prune,
		CarriedForward: len(pl.CarryForward),
		Resumed:        true,
		Receipt:        rec,
		Duration:       time.Since(start),
	}, true, nil
}

// rehashCommitted recomputes output hashes from the workspace for a
// resume that lands after canonicalize already committed. The artifacts
// are canonical on disk; only the receipt was lost.
func (r *run) rehashCommitted() error {
	for _, t := range r.active {
		h, err := digest.File(r.p.Store.Resolve(t.Output))
		if err != nil {
			return err
		}
		data, err := r.p.Store.ReadFile(t.Output)
		if err != nil {
			return err
		}
		r.outHash[t.Output] = h
		r.outSize[t.Output] = int64(len(data))
	}
	return nil
}
