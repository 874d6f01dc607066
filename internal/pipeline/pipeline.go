// Package pipeline sequences the five transformation stages, normalize
// through receipt, under a workspace lock, with a persisted checkpoint
// before and after every stage so an interrupted run can resume without
// redoing committed work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specloom/loom/internal/canon"
	"github.com/specloom/loom/internal/config"
	"github.com/specloom/loom/internal/depgraph"
	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/engine"
	"github.com/specloom/loom/internal/history"
	"github.com/specloom/loom/internal/manifest"
	"github.com/specloom/loom/internal/plan"
	"github.com/specloom/loom/internal/receipt"
	"github.com/specloom/loom/internal/telemetry"
	"github.com/specloom/loom/internal/workspace"
)

// EngineVersion tags every receipt. A mismatch with a stored receipt
// forces a full rebuild rather than trusting stale semantics.
const EngineVersion = "loom/1"

// Stage names, in execution order. They appear in checkpoints, receipts,
// telemetry, and error messages, so they are stable identifiers.
const (
	StageNormalize    = "normalize"
	StageExtract      = "extract"
	StageEmit         = "emit"
	StageCanonicalize = "canonicalize"
	StageReceipt      = "receipt"
)

// Pipeline orchestrates one workspace. The engines are injected so an
// implementation can be in-process, a subprocess, or remote without the
// orchestrator knowing the difference. Events and History may be nil.
type Pipeline struct {
	Store     *workspace.Store
	Manifest  *manifest.Manifest
	Validator engine.Validator
	Queries   engine.QueryEngine
	Templates engine.TemplateEngine
	Canon     *canon.Canonicalizer
	Events    *telemetry.Emitter
	History   *history.Store
	Config    config.Config
}

// New builds a pipeline with the in-process engine implementations.
func New(store *workspace.Store, m *manifest.Manifest, cfg config.Config) *Pipeline {
	return &Pipeline{
		Store:     store,
		Manifest:  m,
		Validator: engine.NewShapeValidator(),
		Queries:   engine.NewPatternQuery(),
		Templates: engine.NewGoTemplate(),
		Canon:     canon.New(),
		Config:    cfg,
	}
}

// SyncOptions selects the run mode.
type SyncOptions struct {
	// Force regenerates everything regardless of the previous receipt.
	Force bool
	// Incremental permits skipping unchanged outputs. When false the
	// run is full.
	Incremental bool
	// DryRun computes and reports the plan without writing anything.
	DryRun bool
	// Recovery resumes an interrupted run from its checkpoint.
	Recovery bool
}

// RunResult summarizes one sync invocation.
type RunResult struct {
	RunID          string
	Full           bool
	Reason         string
	Regenerated    []string
	Pruned         []string
	CarriedForward int
	NoWork         bool
	DryRun         bool
	Resumed        bool
	Violations     []engine.Violation
	Receipt        *receipt.Receipt
	Duration       time.Duration
}

// run carries the per-invocation state threaded through the stages.
type run struct {
	p       *Pipeline
	id      string
	plan    *plan.Plan
	state   *workspace.RunState
	active  []manifest.Transformation
	staging *workspace.Staging

	mu         sync.Mutex
	graphs     map[string]*engine.NormalizedGraph // keyed by output path
	bindings   map[string]*engine.BindingRecord
	advisories []engine.Violation
	outHash    map[string]string
	outSize    map[string]int64

	builder  *receipt.Builder
	lastHash string // hash-chain link between stages
}

// Sync executes one pipeline run. Dry runs only compute the plan; all
// other modes hold the workspace lock for their full duration.
func (p *Pipeline) Sync(ctx context.Context, opts SyncOptions) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	p.event(telemetry.KindRunStart, runID, "", map[string]any{
		"force": opts.Force, "incremental": opts.Incremental,
		"dry_run": opts.DryRun, "recovery": opts.Recovery,
	})

	if opts.DryRun {
		pl, err := p.computePlan(opts)
		if err != nil {
			return nil, p.failRun(runID, "", start, err)
		}
		p.event(telemetry.KindRunDone, runID, "", map[string]any{"dry_run": true})
		return &RunResult{
			RunID:          runID,
			Full:           pl.Full,
			Reason:         pl.Reason,
			Regenerated:    pl.Regenerate,
			Pruned:         pl.Prune,
			CarriedForward: len(pl.CarryForward),
			NoWork:         pl.NoWork(),
			DryRun:         true,
			Duration:       time.Since(start),
		}, nil
	}

	lock, err := p.Store.AcquireLock(p.Config.LockTTL(), p.Config.LockMaxWait())
	if err != nil {
		return nil, p.failRun(runID, "", start, err)
	}
	defer lock.Release()
	if lock.TookOverStale {
		p.event(telemetry.KindLockTakeover, runID, "", map[string]any{
			"stale_pid": lock.Stale.HolderPID, "stale_host": lock.Stale.HolderHost,
		})
	}
	p.event(telemetry.KindLockAcquired, runID, "", nil)
	defer p.event(telemetry.KindLockReleased, runID, "", nil)
	stopRenewal := p.startRenewal(lock)
	defer stopRenewal()

	pl, err := p.computePlan(opts)
	if err != nil {
		return nil, p.failRun(runID, "", start, err)
	}
	p.event(telemetry.KindPlanComputed, runID, "", map[string]any{
		"full": pl.Full, "reason": pl.Reason,
		"regenerate": len(pl.Regenerate), "prune": len(pl.Prune),
	})
	p.recordStart(ctx, runID, "sync", pl.Full)

	result, err := p.execute(ctx, runID, pl, opts, start)
	if err != nil {
		return nil, p.failRun(runID, "", start, err)
	}
	p.recordFinish(ctx, runID, result)
	p.event(telemetry.KindRunDone, runID, "", map[string]any{
		"regenerated": len(result.Regenerated), "no_work": result.NoWork,
	})
	return result, nil
}

// execute runs the stage sequence for a non-dry invocation.
func (p *Pipeline) execute(ctx context.Context, runID string, pl *plan.Plan, opts SyncOptions, start time.Time) (*RunResult, error) {
	if opts.Recovery {
		if result, resumed, err := p.tryResume(ctx, runID, pl, start); err != nil {
			return nil, err
		} else if resumed {
			return result, nil
		}
		// Nothing durable was committed; restart cleanly.
		if err := p.Store.ClearRunState(); err != nil {
			return nil, err
		}
	}

	if pl.NoWork() {
		return p.confirmNoWork(pl, start)
	}

	r := &run{
		p:        p,
		id:       runID,
		plan:     pl,
		state:    &workspace.RunState{StartedAt: start.UTC()},
		active:   p.activeTransformations(pl),
		graphs:   make(map[string]*engine.NormalizedGraph),
		bindings: make(map[string]*engine.BindingRecord),
		outHash:  make(map[string]string),
		outSize:  make(map[string]int64),
		builder:  receipt.NewBuilder(EngineVersion, start),
		lastHash: inputChainHash(pl),
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageNormalize, r.normalize},
		{StageExtract, r.extract},
		{StageEmit, r.emit},
		{StageCanonicalize, r.canonicalize},
		{StageReceipt, r.buildReceipt},
	}
	for _, s := range stages {
		if err := r.runStage(ctx, s.name, s.fn); err != nil {
			if s.name == StageEmit && r.staging != nil {
				r.staging.Rollback()
			}
			return nil, err
		}
	}

	if err := p.Store.ClearRunState(); err != nil {
		return nil, err
	}

	rec, err := receipt.Load(p.Store.ReceiptPath())
	if err != nil {
		return nil, err
	}
	return &RunResult{
		RunID:          runID,
		Full:           pl.Full,
		Reason:         pl.Reason,
		Regenerated:    pl.Regenerate,
		Pruned:         pl.Prune,
		CarriedForward: len(pl.CarryForward),
		Violations:     r.advisories,
		Receipt:        rec,
		Duration:       time.Since(start),
	}, nil
}

// computePlan loads the previous receipt and plans the run. Force and
// non-incremental modes override the planner's diff with a full plan.
func (p *Pipeline) computePlan(opts SyncOptions) (*plan.Plan, error) {
	prev, prevErr := receipt.Load(p.Store.ReceiptPath())
	g := depgraph.Build(p.Manifest)
	pl, err := plan.Compute(p.Store.Root(), p.Manifest, g, EngineVersion, prev, prevErr)
	if err != nil {
		return nil, err
	}
	if opts.Force || !opts.Incremental {
		reason := "full run requested"
		if opts.Force {
			reason = "forced regeneration"
		}
		return &plan.Plan{
			Full:         true,
			Reason:       reason,
			Regenerate:   p.Manifest.OutputPaths(),
			Prune:        pl.Prune,
			CarryForward: map[string]string{},
			InputHashes:  pl.InputHashes,
		}, nil
	}
	return pl, nil
}

// confirmNoWork rebuilds the receipt from unchanged hashes and checks it
// against the stored one. Any difference means an adapter or the
// canonicalizer is nondeterministic.
func (p *Pipeline) confirmNoWork(pl *plan.Plan, start time.Time) (*RunResult, error) {
	prev, err := receipt.Load(p.Store.ReceiptPath())
	if err != nil {
		return nil, err
	}

	b := receipt.NewBuilder(EngineVersion, start)
	for in, h := range pl.InputHashes {
		b.SetInput(in, h)
	}
	for out, h := range pl.CarryForward {
		// Size 0: the rebuilt receipt exists only for the Same check,
		// which excludes stats.
		b.CarryForward(out, h, 0)
	}
	rec := b.Build(time.Now())
	if !receipt.Same(prev, rec) {
		return nil, &IdempotenceViolationError{}
	}

	return &RunResult{
		NoWork:         true,
		CarriedForward: len(pl.CarryForward),
		Receipt:        prev,
		Duration:       time.Since(start),
	}, nil
}

// activeTransformations returns the transformations whose output is in
// the regeneration set, in declaration order.
func (p *Pipeline) activeTransformations(pl *plan.Plan) []manifest.Transformation {
	regen := make(map[string]bool, len(pl.Regenerate))
	for _, out := range pl.Regenerate {
		regen[out] = true
	}
	var active []manifest.Transformation
	for _, t := range p.Manifest.Transformations {
		if regen[t.Output] {
			active = append(active, t)
		}
	}
	return active
}

// runStage persists the checkpoint, executes the stage under its
// timeout, and marks it complete only after the work commits.
func (r *run) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	r.state.CurrentStage = stage
	if err := r.p.Store.SaveRunState(r.state); err != nil {
		return err
	}
	r.p.event(telemetry.KindStageStart, r.id, stage, nil)

	sctx := ctx
	cancel := func() {}
	if d := r.p.Config.StageTimeout(); d > 0 {
		sctx, cancel = context.WithTimeout(ctx, d)
	}
	err := fn(sctx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{Stage: stage}
		}
		r.p.event(telemetry.KindRunFailed, r.id, stage, map[string]any{"error": err.Error()})
		return err
	}

	r.state.MarkComplete(stage)
	if err := r.p.Store.SaveRunState(r.state); err != nil {
		return err
	}
	r.p.event(telemetry.KindStageDone, r.id, stage, nil)
	return nil
}

// normalize validates every active transformation's sources against its
// shapes and keeps the normalized graphs. Blocking violations, or any
// violation under strict mode, fail the run here.
func (r *run) normalize(ctx context.Context) error {
	if err := r.forEachActive(ctx, func(ctx context.Context, t manifest.Transformation) error {
		source, err := r.readJoined(t.Inputs)
		if err != nil {
			return err
		}
		shapes, err := r.readJoined(t.Shapes)
		if err != nil {
			return err
		}

		result, err := r.p.Validator.Validate(ctx, source, shapes)
		if err != nil {
			return err
		}
		if result.Blocking() || (r.p.Config.Strict && len(result.Violations) > 0) {
			return &ValidationError{Transformation: t.Name, Violations: result.Violations}
		}

		r.mu.Lock()
		r.graphs[t.Output] = result.Graph
		r.advisories = append(r.advisories, result.Violations...)
		r.mu.Unlock()
		return nil
	}); err != nil {
		return err
	}

	r.chainStage(StageNormalize, func(out string) string { return r.graphs[out].Hash })
	return nil
}

// extract runs each active transformation's query against its graph,
// concurrently up to the parallelism limit.
func (r *run) extract(ctx context.Context) error {
	if err := r.forEachActive(ctx, func(ctx context.Context, t manifest.Transformation) error {
		queryText, err := r.p.Store.ReadFile(t.Query)
		if err != nil {
			return err
		}
		r.mu.Lock()
		g := r.graphs[t.Output]
		r.mu.Unlock()

		binding, err := r.p.Queries.Query(ctx, g, t.Query, queryText)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.bindings[t.Output] = binding
		r.mu.Unlock()
		return nil
	}); err != nil {
		return err
	}

	r.chainStage(StageExtract, func(out string) string { return bindingDigest(r.bindings[out]) })
	return nil
}

// emit renders each active transformation into the staging area. The
// raw rendered bytes are durable from here on, which is what lets a
// recovery run resume at canonicalize.
func (r *run) emit(ctx context.Context) error {
	staging, err := r.p.Store.BeginStaging()
	if err != nil {
		return err
	}
	r.staging = staging

	if err := r.forEachActive(ctx, func(ctx context.Context, t manifest.Transformation) error {
		templateText, err := r.p.Store.ReadFile(t.Template)
		if err != nil {
			return err
		}
		r.mu.Lock()
		binding := r.bindings[t.Output]
		r.mu.Unlock()

		rendered, err := r.p.Templates.Render(ctx, t.Template, templateText, binding)
		if err != nil {
			return err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if err := staging.Write(t.Output, rendered); err != nil {
			return err
		}
		r.outHash[t.Output] = digest.Bytes(rendered)
		return nil
	}); err != nil {
		return err
	}

	r.chainStage(StageEmit, func(out string) string { return r.outHash[out] })
	return nil
}

// canonicalize rewrites every staged artifact into its canonical form
// and commits the staging area onto the workspace in one pass of atomic
// renames.
func (r *run) canonicalize(ctx context.Context) error {
	kinds := make(map[string]canon.Kind, len(r.active))
	for _, t := range r.active {
		kinds[t.Output] = t.OutputKind()
	}

	for _, out := range r.staging.Files() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := r.staging.Read(out)
		if err != nil {
			return err
		}
		canonical, err := r.p.Canon.Apply(kinds[out], raw)
		if err != nil {
			return &CanonicalizationError{Output: out, Err: err}
		}
		if err := r.staging.Write(out, canonical); err != nil {
			return err
		}
		r.outHash[out] = digest.Bytes(canonical)
		r.outSize[out] = int64(len(canonical))
	}

	if err := r.staging.Commit(); err != nil {
		return err
	}
	// Outputs the manifest no longer declares go away with the same
	// commit, so the workspace and the next receipt agree.
	if err := r.p.Store.RemoveOutputs(r.plan.Prune); err != nil {
		return err
	}
	r.chainStage(StageCanonicalize, func(out string) string { return r.outHash[out] })
	return nil
}

// buildReceipt assembles and atomically writes the receipt. Only after
// this stage commits is the run's output set durable and provable.
func (r *run) buildReceipt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for in, h := range r.plan.InputHashes {
		r.builder.SetInput(in, h)
	}
	for _, t := range r.active {
		r.builder.SetOutput(t.Output, r.outHash[t.Output], r.outSize[t.Output])
	}
	for out, h := range r.plan.CarryForward {
		size, err := r.p.Store.FileSize(out)
		if err != nil {
			return fmt.Errorf("sizing carried output %s: %w", out, err)
		}
		r.builder.CarryForward(out, h, size)
	}
	r.builder.AddStage(StageReceipt, r.lastHash, r.lastHash)

	rec := r.builder.Build(time.Now())
	return receipt.Save(r.p.Store.ReceiptPath(), rec)
}

// chainStage appends a hash-chain entry linking this stage's output
// digest to the previous stage's. The entry also goes into the
// checkpoint so a resumed run rebuilds an identical chain.
func (r *run) chainStage(stage string, hashFor func(string) string) {
	hashes := make([]string, 0, len(r.active))
	for _, t := range r.active {
		hashes = append(hashes, hashFor(t.Output))
	}
	sort.Strings(hashes)
	out := digest.Combine(hashes...)
	r.builder.AddStage(stage, r.lastHash, out)
	r.state.Chain = append(r.state.Chain, workspace.StageLink{
		Stage: stage, InputHash: r.lastHash, OutputHash: out,
	})
	r.lastHash = out
}

// forEachActive applies fn to every active transformation with bounded
// concurrency. The first error wins; later ones are dropped.
func (r *run) forEachActive(ctx context.Context, fn func(context.Context, manifest.Transformation) error) error {
	limit := r.p.Config.Parallelism
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	for _, t := range r.active {
		wg.Add(1)
		sem <- struct{}{}
		go func(t manifest.Transformation) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, t); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// readJoined reads and concatenates a set of workspace-relative files
// in declared order.
func (r *run) readJoined(paths []string) ([]byte, error) {
	var joined []byte
	for _, p := range paths {
		data, err := r.p.Store.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		joined = append(joined, data...)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			joined = append(joined, '\n')
		}
	}
	return joined, nil
}

// inputChainHash anchors the stage hash chain to the run's inputs.
func inputChainHash(pl *plan.Plan) string {
	paths := make([]string, 0, len(pl.InputHashes))
	for p := range pl.InputHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	hashes := make([]string, 0, len(paths))
	for _, p := range paths {
		hashes = append(hashes, pl.InputHashes[p])
	}
	return digest.Combine(hashes...)
}

// bindingDigest folds a binding record's rows and query identity into
// one digest for the stage hash chain.
func bindingDigest(b *engine.BindingRecord) string {
	lines := make([]string, 0, len(b.Rows))
	for _, row := range b.Rows {
		line := ""
		for _, v := range b.Vars {
			line += row[v] + "\x1f"
		}
		lines = append(lines, line)
	}
	return digest.Combine(b.QueryHash, digest.Statements(lines))
}

// startRenewal renews the lock on an interval so long stages are never
// mistaken for a stale holder. The returned stop function blocks until
// the renewal goroutine exits.
func (p *Pipeline) startRenewal(lock *workspace.Lock) func() {
	interval := p.Config.LockRenewal()
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// A failed renewal is not fatal; the lock stays valid
				// until its current expiry.
				_ = lock.Renew()
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// event emits telemetry if an emitter is configured.
func (p *Pipeline) event(kind, runID, stage string, data map[string]any) {
	var payload any
	if len(data) > 0 {
		payload = data
	}
	_ = p.Events.Emit(telemetry.Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		RunID:     runID,
		Stage:     stage,
		Data:      payload,
	})
}

// failRun records a failed run in telemetry and history and returns err.
func (p *Pipeline) failRun(runID, stage string, start time.Time, err error) error {
	p.event(telemetry.KindRunFailed, runID, stage, map[string]any{"error": err.Error()})
	if p.History != nil {
		_ = p.History.RecordFinish(context.Background(), runID, history.OutcomeFailed, err.Error(),
			0, 0, time.Since(start).Milliseconds())
	}
	return err
}

func (p *Pipeline) recordStart(ctx context.Context, runID, mode string, full bool) {
	if p.History == nil {
		return
	}
	_ = p.History.RecordStart(ctx, runID, mode, full)
}

func (p *Pipeline) recordFinish(ctx context.Context, runID string, result *RunResult) {
	if p.History == nil {
		return
	}
	outcome := history.OutcomeSuccess
	if result.NoWork {
		outcome = history.OutcomeNoWork
	}
	var outputs int
	var bytes int64
	if result.Receipt != nil {
		outputs = result.Receipt.Stats.Count
		bytes = result.Receipt.Stats.Bytes
	}
	_ = p.History.RecordFinish(ctx, runID, outcome, "", outputs, bytes, result.Duration.Milliseconds())
}
