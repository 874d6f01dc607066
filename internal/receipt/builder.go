package receipt

import "time"

// Builder accumulates hashes during a run and assembles the final
// Receipt after every stage commits. It is not safe for concurrent use;
// the orchestrator owns it and feeds it from one goroutine.
type Builder struct {
	engineVersion string
	startedAt     time.Time
	inputs        map[string]string
	outputs       map[string]string
	outputBytes   int64
	stages        []StageHash
}

// NewBuilder starts a receipt for one run.
func NewBuilder(engineVersion string, startedAt time.Time) *Builder {
	return &Builder{
		engineVersion: engineVersion,
		startedAt:     startedAt,
		inputs:        make(map[string]string),
		outputs:       make(map[string]string),
	}
}

// SetInput records an input path's content hash.
func (b *Builder) SetInput(path, hash string) {
	b.inputs[path] = hash
}

// SetOutput records a generated output's hash and size.
func (b *Builder) SetOutput(path, hash string, size int64) {
	b.outputs[path] = hash
	b.outputBytes += size
}

// CarryForward copies an unchanged output's hash from the previous
// receipt so incremental runs keep untouched artifacts accounted for,
// in both the output map and the byte stats.
func (b *Builder) CarryForward(path, hash string, size int64) {
	b.outputs[path] = hash
	b.outputBytes += size
}

// AddStage appends one stage's hash-chain entry.
func (b *Builder) AddStage(stage, inputHash, outputHash string) {
	b.stages = append(b.stages, StageHash{Stage: stage, InputHash: inputHash, OutputHash: outputHash})
}

// Build assembles the Receipt at completion time.
func (b *Builder) Build(now time.Time) *Receipt {
	return &Receipt{
		EngineVersion: b.engineVersion,
		GeneratedAt:   now.UTC(),
		Inputs:        b.inputs,
		Outputs:       b.outputs,
		Stages:        b.stages,
		Stats: Stats{
			Count:      len(b.outputs),
			Bytes:      b.outputBytes,
			DurationMS: now.Sub(b.startedAt).Milliseconds(),
		},
	}
}
