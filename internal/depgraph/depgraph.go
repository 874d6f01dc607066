// Package depgraph maps every declared input (source, shape, query,
// template) to the outputs it influences. The graph is rebuilt from
// the manifest on every run; rebuilding is cheap and removes any chance
// of a stale graph surviving a manifest edit.
package depgraph

import (
	"sort"

	"github.com/specloom/loom/internal/manifest"
)

// InputKind tags which role an input plays in a transformation.
type InputKind string

const (
	KindSource   InputKind = "source"
	KindShape    InputKind = "shape"
	KindQuery    InputKind = "query"
	KindTemplate InputKind = "template"
)

// Edge records that one input influences one output. Many-to-many:
// an output typically has a source edge, shape edges, a query edge, and
// a template edge; an input may appear in edges of many outputs.
type Edge struct {
	InputID string
	Kind    InputKind
	Output  string
}

// Graph is the full edge list for one manifest.
type Graph struct {
	edges []Edge
}

// Build constructs the graph from the manifest's declarations.
func Build(m *manifest.Manifest) *Graph {
	var g Graph
	for _, t := range m.Transformations {
		for _, in := range t.Inputs {
			g.edges = append(g.edges, Edge{InputID: in, Kind: KindSource, Output: t.Output})
		}
		for _, s := range t.Shapes {
			g.edges = append(g.edges, Edge{InputID: s, Kind: KindShape, Output: t.Output})
		}
		if t.Query != "" {
			g.edges = append(g.edges, Edge{InputID: t.Query, Kind: KindQuery, Output: t.Output})
		}
		if t.Template != "" {
			g.edges = append(g.edges, Edge{InputID: t.Template, Kind: KindTemplate, Output: t.Output})
		}
	}
	return &g
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Outputs returns the distinct outputs reachable from any input in the
// dirty set, sorted. This is the regeneration set for those inputs.
func (g *Graph) Outputs(dirtyInputs map[string]bool) []string {
	seen := make(map[string]bool)
	var outputs []string
	for _, e := range g.edges {
		if dirtyInputs[e.InputID] && !seen[e.Output] {
			seen[e.Output] = true
			outputs = append(outputs, e.Output)
		}
	}
	sort.Strings(outputs)
	return outputs
}

// Inputs returns the distinct inputs feeding the given output, sorted.
func (g *Graph) Inputs(output string) []string {
	seen := make(map[string]bool)
	var inputs []string
	for _, e := range g.edges {
		if e.Output == output && !seen[e.InputID] {
			seen[e.InputID] = true
			inputs = append(inputs, e.InputID)
		}
	}
	sort.Strings(inputs)
	return inputs
}
