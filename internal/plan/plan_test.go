package plan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/specloom/loom/internal/depgraph"
	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/manifest"
	"github.com/specloom/loom/internal/receipt"
)

const engineVersion = "loom/0.3.0"

// workspace writes the fixture inputs and returns the root plus the
// manifest and graph describing them.
func workspace(t *testing.T) (string, *manifest.Manifest, *depgraph.Graph) {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"specs/commands.trip":     "sync type Command\n",
		"specs/site.trip":         "site hasTitle \"Aurora\"\n",
		"shapes/commands.toml":    "[[shapes]]\nid = \"s\"\nproperty = \"type\"\n",
		"queries/commands.lq":     "SELECT ?c\nWHERE ?c type Command\n",
		"queries/index.lq":        "SELECT ?s\nWHERE ?s hasTitle ?t\n",
		"templates/commands.tmpl": "{{.Count}}\n",
		"templates/index.tmpl":    "{{.Count}}\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := &manifest.Manifest{Transformations: []manifest.Transformation{
		{
			Name:     "commands",
			Inputs:   []string{"specs/commands.trip"},
			Shapes:   []string{"shapes/commands.toml"},
			Query:    "queries/commands.lq",
			Template: "templates/commands.tmpl",
			Output:   "docs/commands.md",
		},
		{
			Name:     "index",
			Inputs:   []string{"specs/commands.trip", "specs/site.trip"},
			Query:    "queries/index.lq",
			Template: "templates/index.tmpl",
			Output:   "docs/index.json",
		},
	}}
	return root, m, depgraph.Build(m)
}

// receiptFor builds a previous receipt whose input hashes match the
// workspace exactly, with both outputs recorded.
func receiptFor(t *testing.T, root string, m *manifest.Manifest) *receipt.Receipt {
	t.Helper()
	inputs := make(map[string]string)
	for _, in := range m.InputPaths() {
		h, err := digest.File(filepath.Join(root, in))
		if err != nil {
			t.Fatal(err)
		}
		inputs[in] = h
	}
	return &receipt.Receipt{
		EngineVersion: engineVersion,
		Inputs:        inputs,
		Outputs: map[string]string{
			"docs/commands.md": "hash-commands",
			"docs/index.json":  "hash-index",
		},
	}
}

func TestFullRunWithoutReceipt(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	p, err := Compute(root, m, g, engineVersion, nil, receipt.ErrNoReceipt)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !p.Full {
		t.Error("expected full run without a previous receipt")
	}
	want := []string{"docs/commands.md", "docs/index.json"}
	if !reflect.DeepEqual(p.Regenerate, want) {
		t.Errorf("regenerate = %v, want %v", p.Regenerate, want)
	}
	if len(p.InputHashes) != len(m.InputPaths()) {
		t.Errorf("hashed %d inputs, want %d", len(p.InputHashes), len(m.InputPaths()))
	}
}

func TestFullRunOnCorruptReceipt(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	p, err := Compute(root, m, g, engineVersion, nil, errors.New("parsing receipt: unexpected end of JSON input"))
	if err != nil {
		t.Fatal(err)
	}
	if !p.Full {
		t.Error("corrupt previous receipt must force a full run")
	}
}

func TestFullRunOnEngineVersionMismatch(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	prev := receiptFor(t, root, m)
	prev.EngineVersion = "loom/0.2.0"

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Full {
		t.Error("engine version mismatch must force a full run")
	}
}

func TestNoChangesNoWork(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	prev := receiptFor(t, root, m)

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.NoWork() {
		t.Errorf("expected no work, got regenerate=%v full=%v", p.Regenerate, p.Full)
	}
	if p.CarryForward["docs/commands.md"] != "hash-commands" {
		t.Errorf("carry-forward = %v", p.CarryForward)
	}
}

func TestSingleSourceChange(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	prev := receiptFor(t, root, m)

	// Editing site.trip affects only the index output.
	if err := os.WriteFile(filepath.Join(root, "specs/site.trip"), []byte("site hasTitle \"Borealis\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Full {
		t.Error("single input change should not force a full run")
	}
	if !reflect.DeepEqual(p.Regenerate, []string{"docs/index.json"}) {
		t.Errorf("regenerate = %v", p.Regenerate)
	}
	if p.CarryForward["docs/commands.md"] != "hash-commands" {
		t.Error("untouched output hash not carried forward")
	}
	if _, carried := p.CarryForward["docs/index.json"]; carried {
		t.Error("regenerating output must not be carried forward")
	}
}

func TestSharedShapeChangeDirtiesAllDependents(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	// Make the shape shared by both transformations.
	m.Transformations[1].Shapes = []string{"shapes/commands.toml"}
	g = depgraph.Build(m)
	prev := receiptFor(t, root, m)

	if err := os.WriteFile(filepath.Join(root, "shapes/commands.toml"), []byte("[[shapes]]\nid = \"s2\"\nproperty = \"hasName\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"docs/commands.md", "docs/index.json"}
	if !reflect.DeepEqual(p.Regenerate, want) {
		t.Errorf("regenerate = %v, want %v", p.Regenerate, want)
	}
}

func TestNewDeclaredOutputRegenerates(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	prev := receiptFor(t, root, m)
	delete(prev.Outputs, "docs/index.json")

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.Regenerate, []string{"docs/index.json"}) {
		t.Errorf("regenerate = %v", p.Regenerate)
	}
}

func TestRemovedOutputNotCarried(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	prev := receiptFor(t, root, m)
	prev.Outputs["docs/stale.md"] = "hash-stale"

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, carried := p.CarryForward["docs/stale.md"]; carried {
		t.Error("output no longer declared must not be carried forward")
	}
	if !reflect.DeepEqual(p.Prune, []string{"docs/stale.md"}) {
		t.Errorf("prune = %v, want the undeclared output", p.Prune)
	}
	if p.NoWork() {
		t.Error("a plan with outputs to prune is not a no-op")
	}
}

func TestRemovedTransformationPlansWork(t *testing.T) {
	t.Parallel()

	root, m, _ := workspace(t)
	prev := receiptFor(t, root, m)

	// Drop the index transformation; its input and output leave the
	// declared sets while every remaining file is unchanged.
	m.Transformations = m.Transformations[:1]
	g := depgraph.Build(m)

	p, err := Compute(root, m, g, engineVersion, prev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.NoWork() {
		t.Fatal("dropping a transformation must not plan as a no-op")
	}
	if !p.Full {
		t.Error("a shrunken input set should force a full run")
	}
	if !reflect.DeepEqual(p.Regenerate, []string{"docs/commands.md"}) {
		t.Errorf("regenerate = %v", p.Regenerate)
	}
	if !reflect.DeepEqual(p.Prune, []string{"docs/index.json"}) {
		t.Errorf("prune = %v, want the dropped output", p.Prune)
	}
	if len(p.InputHashes) != len(m.InputPaths()) {
		t.Errorf("hashed %d inputs, want %d", len(p.InputHashes), len(m.InputPaths()))
	}
}

func TestMissingInputFails(t *testing.T) {
	t.Parallel()

	root, m, g := workspace(t)
	os.Remove(filepath.Join(root, "queries/index.lq"))

	if _, err := Compute(root, m, g, engineVersion, nil, receipt.ErrNoReceipt); err == nil {
		t.Error("expected error for unreadable input")
	}
}
