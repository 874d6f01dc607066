package receipt

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/specloom/loom/internal/digest"
)

// Status classifies one verified output path.
type Status string

const (
	// StatusValid means the on-disk artifact matches its receipt hash.
	StatusValid Status = "valid"
	// StatusDrift means the artifact exists but its hash differs;
	// almost always a manual edit of a generated file.
	StatusDrift Status = "drift"
	// StatusMissing means the artifact listed in the receipt is gone.
	StatusMissing Status = "missing"
)

// PathResult is the verification outcome for one output path.
type PathResult struct {
	Path   string
	Status Status
	Want   string
	Got    string
}

// Report is the outcome of verifying every output in a receipt.
// Verification is read-only; producing a Report never mutates the
// workspace and is safe at any time.
type Report struct {
	Results []PathResult
}

// Clean reports whether every output is present and unmodified.
func (r Report) Clean() bool {
	for _, pr := range r.Results {
		if pr.Status != StatusValid {
			return false
		}
	}
	return true
}

// Count returns how many results carry the given status.
func (r Report) Count(s Status) int {
	n := 0
	for _, pr := range r.Results {
		if pr.Status == s {
			n++
		}
	}
	return n
}

// Verify recomputes the hash of every output listed in the receipt and
// compares it against the recorded value. Results are ordered by path.
func Verify(root string, rec *Receipt) Report {
	paths := make([]string, 0, len(rec.Outputs))
	for p := range rec.Outputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var report Report
	for _, p := range paths {
		want := rec.Outputs[p]
		full := filepath.Join(root, p)

		if _, err := os.Stat(full); os.IsNotExist(err) {
			report.Results = append(report.Results, PathResult{Path: p, Status: StatusMissing, Want: want})
			continue
		}

		got, err := digest.File(full)
		if err != nil {
			report.Results = append(report.Results, PathResult{Path: p, Status: StatusMissing, Want: want})
			continue
		}
		status := StatusValid
		if got != want {
			status = StatusDrift
		}
		report.Results = append(report.Results, PathResult{Path: p, Status: status, Want: want, Got: got})
	}
	return report
}
