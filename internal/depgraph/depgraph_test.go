package depgraph

import (
	"reflect"
	"testing"

	"github.com/specloom/loom/internal/manifest"
)

func fixture() *manifest.Manifest {
	return &manifest.Manifest{Transformations: []manifest.Transformation{
		{
			Name:     "commands",
			Inputs:   []string{"specs/commands.trip"},
			Shapes:   []string{"shapes/commands.toml"},
			Query:    "queries/commands.lq",
			Template: "templates/commands.md.tmpl",
			Output:   "docs/commands.md",
		},
		{
			Name:     "index",
			Inputs:   []string{"specs/commands.trip", "specs/site.trip"},
			Shapes:   []string{"shapes/commands.toml"},
			Query:    "queries/index.lq",
			Template: "templates/index.json.tmpl",
			Output:   "docs/index.json",
		},
	}}
}

func TestOutputsFromDirtySource(t *testing.T) {
	t.Parallel()

	g := Build(fixture())

	tests := []struct {
		name  string
		dirty map[string]bool
		want  []string
	}{
		{
			name:  "shared source dirties both outputs",
			dirty: map[string]bool{"specs/commands.trip": true},
			want:  []string{"docs/commands.md", "docs/index.json"},
		},
		{
			name:  "exclusive source dirties one output",
			dirty: map[string]bool{"specs/site.trip": true},
			want:  []string{"docs/index.json"},
		},
		{
			name:  "shared shape dirties both outputs",
			dirty: map[string]bool{"shapes/commands.toml": true},
			want:  []string{"docs/commands.md", "docs/index.json"},
		},
		{
			name:  "template dirties only its output",
			dirty: map[string]bool{"templates/commands.md.tmpl": true},
			want:  []string{"docs/commands.md"},
		},
		{
			name:  "query dirties only its output",
			dirty: map[string]bool{"queries/index.lq": true},
			want:  []string{"docs/index.json"},
		},
		{
			name:  "nothing dirty",
			dirty: map[string]bool{},
			want:  nil,
		},
		{
			name:  "unknown input",
			dirty: map[string]bool{"specs/other.trip": true},
			want:  nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := g.Outputs(tt.dirty); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Outputs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInputsForOutput(t *testing.T) {
	t.Parallel()

	g := Build(fixture())
	want := []string{
		"queries/index.lq",
		"shapes/commands.toml",
		"specs/commands.trip",
		"specs/site.trip",
		"templates/index.json.tmpl",
	}
	if got := g.Inputs("docs/index.json"); !reflect.DeepEqual(got, want) {
		t.Errorf("Inputs = %v, want %v", got, want)
	}
}

func TestEdgeKinds(t *testing.T) {
	t.Parallel()

	g := Build(fixture())
	kinds := make(map[InputKind]int)
	for _, e := range g.Edges() {
		kinds[e.Kind]++
	}
	if kinds[KindSource] != 3 || kinds[KindShape] != 2 || kinds[KindQuery] != 2 || kinds[KindTemplate] != 2 {
		t.Errorf("edge kind counts = %v", kinds)
	}
}
