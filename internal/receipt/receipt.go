// Package receipt defines the durable manifest a successful run leaves
// behind: which input hashes produced which output hashes, under which
// engine version. The receipt is the basis for all verification and for
// the next run's incremental planning, so its field names are stable.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoReceipt indicates no receipt has been written yet.
var ErrNoReceipt = errors.New("no receipt found")

// Stats summarizes a run.
type Stats struct {
	Count      int   `json:"count"`
	Bytes      int64 `json:"bytes"`
	DurationMS int64 `json:"duration_ms"`
}

// StageHash chains one pipeline stage's input digest to its output
// digest. The ordered chain proves each stage's contribution to the
// final artifact set.
type StageHash struct {
	Stage      string `json:"stage"`
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
}

// Receipt is the durable output of a successful run. It is immutable
// once written; the next successful run supersedes it atomically.
type Receipt struct {
	EngineVersion string            `json:"engine_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Inputs        map[string]string `json:"inputs"`
	Outputs       map[string]string `json:"outputs"`
	Stages        []StageHash       `json:"stages,omitempty"`
	Stats         Stats             `json:"stats"`
}

// Load reads a receipt from path. A missing file returns ErrNoReceipt;
// an unparsable file returns an error the planner treats as grounds for
// a full rebuild.
func Load(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReceipt
		}
		return nil, fmt.Errorf("reading receipt: %w", err)
	}

	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing receipt: %w", err)
	}
	return &r, nil
}

// Save writes the receipt atomically (write temp + rename) so a reader
// never observes a half-written receipt.
func Save(path string, r *Receipt) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp receipt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming receipt: %w", err)
	}
	return nil
}

// Same reports whether two receipts are identical apart from their
// generation timestamps. Two consecutive no-op runs must satisfy this;
// a violation indicates nondeterminism in an adapter or canonicalizer.
func Same(a, b *Receipt) bool {
	if a.EngineVersion != b.EngineVersion {
		return false
	}
	if len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return false
	}
	for k, v := range a.Inputs {
		if b.Inputs[k] != v {
			return false
		}
	}
	for k, v := range a.Outputs {
		if b.Outputs[k] != v {
			return false
		}
	}
	return true
}
