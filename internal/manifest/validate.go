package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/specloom/loom/internal/canon"
)

// ValidationResult collects manifest problems. Errors block a run;
// warnings do not.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the manifest can drive a run.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks manifest structure: every transformation names its
// required files, output paths stay inside the workspace, and no two
// transformations claim the same output.
func Validate(m *Manifest, canonicalizer *canon.Canonicalizer) ValidationResult {
	var res ValidationResult

	if m.Project.Name == "" {
		res.Warnings = append(res.Warnings, "missing [project] name")
	}
	if len(m.Transformations) == 0 {
		res.Errors = append(res.Errors, "manifest declares no [[transformations]]")
		return res
	}

	seenNames := make(map[string]bool)
	seenOutputs := make(map[string]string)

	for i, t := range m.Transformations {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("transformation #%d", i+1)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: missing name", name))
		} else if seenNames[name] {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: duplicate transformation name", name))
		}
		seenNames[name] = true

		if len(t.Inputs) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: no inputs declared", name))
		}
		if t.Query == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: no query declared", name))
		}
		if t.Template == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: no template declared", name))
		}

		switch {
		case t.Output == "":
			res.Errors = append(res.Errors, fmt.Sprintf("%s: no output declared", name))
		case !insideWorkspace(t.Output):
			res.Errors = append(res.Errors, fmt.Sprintf("%s: output %q must be a relative path inside the workspace", name, t.Output))
		case seenOutputs[t.Output] != "":
			res.Errors = append(res.Errors, fmt.Sprintf("%s: output %q already produced by %s", name, t.Output, seenOutputs[t.Output]))
		default:
			seenOutputs[t.Output] = name
		}

		if canonicalizer != nil && !canonicalizer.Known(t.OutputKind()) {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown output kind %q", name, t.Kind))
		}
	}
	return res
}

// Preflight runs filesystem checks before any stage: every referenced
// input exists and is readable, and every output directory is writable.
// It belongs before lock acquisition so obviously doomed runs never
// take the lock.
func Preflight(root string, m *Manifest) ValidationResult {
	var res ValidationResult

	for _, path := range m.InputPaths() {
		full := filepath.Join(root, path)
		f, err := os.Open(full)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cannot read input %s: %v", path, err))
			continue
		}
		f.Close()
	}

	checkedDirs := make(map[string]bool)
	for _, out := range m.OutputPaths() {
		if out == "" {
			continue
		}
		dir := filepath.Dir(filepath.Join(root, out))
		if checkedDirs[dir] {
			continue
		}
		checkedDirs[dir] = true

		if err := os.MkdirAll(dir, 0o755); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cannot create output directory %s: %v", dir, err))
			continue
		}
		probe := filepath.Join(dir, ".loom-write-probe")
		if err := os.WriteFile(probe, nil, 0o644); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("output directory %s not writable: %v", dir, err))
			continue
		}
		os.Remove(probe)
	}
	return res
}
