// Package manifest loads and validates loom.toml, the declarative
// configuration naming which sources feed which queries feed which
// templates feed which outputs.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/specloom/loom/internal/canon"
)

// DefaultFileName is the manifest file looked up in the workspace root.
const DefaultFileName = "loom.toml"

// ErrNoManifest indicates no loom.toml was found in the workspace.
var ErrNoManifest = errors.New("loom.toml not found in workspace")

// Project carries optional project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Transformation declares one (sources, shapes, query, template) →
// output unit. Paths are relative to the workspace root.
type Transformation struct {
	Name     string   `toml:"name"`
	Inputs   []string `toml:"inputs"`
	Shapes   []string `toml:"shapes"`
	Query    string   `toml:"query"`
	Template string   `toml:"template"`
	Output   string   `toml:"output"`
	Kind     string   `toml:"kind"`
}

// Manifest is the parsed loom.toml.
type Manifest struct {
	Project         Project          `toml:"project"`
	Transformations []Transformation `toml:"transformations"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &m, nil
}

// OutputKind returns the transformation's canonicalization kind,
// defaulting to opaque when the manifest leaves it unset.
func (t Transformation) OutputKind() canon.Kind {
	if t.Kind == "" {
		return canon.KindOpaque
	}
	return canon.Kind(t.Kind)
}

// InputPaths returns every distinct input path the manifest references
// (sources, shapes, queries, templates), sorted. This is the watch set
// and the planner's hash set.
func (m *Manifest) InputPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, t := range m.Transformations {
		for _, in := range t.Inputs {
			add(in)
		}
		for _, s := range t.Shapes {
			add(s)
		}
		add(t.Query)
		add(t.Template)
	}
	sort.Strings(paths)
	return paths
}

// OutputPaths returns every declared output path, sorted.
func (m *Manifest) OutputPaths() []string {
	paths := make([]string, 0, len(m.Transformations))
	for _, t := range m.Transformations {
		paths = append(paths, t.Output)
	}
	sort.Strings(paths)
	return paths
}

// insideWorkspace reports whether a declared path stays within the
// workspace root: relative, with no ".." traversal.
func insideWorkspace(path string) bool {
	if path == "" || filepath.IsAbs(path) {
		return false
	}
	clean := filepath.Clean(path)
	return clean != ".." && !hasDotDotPrefix(clean)
}

func hasDotDotPrefix(clean string) bool {
	return len(clean) >= 3 && clean[:3] == ".."+string(filepath.Separator)
}
