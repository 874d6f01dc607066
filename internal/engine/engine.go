// Package engine defines the three narrow contracts the pipeline calls
// into (shape validation, graph query, and template rendering) plus
// in-process implementations of each. The contracts are deliberately
// small so an implementation can be a library, a subprocess, or a
// remote service without the orchestrator knowing the difference.
package engine

import (
	"context"

	"github.com/specloom/loom/internal/graph"
)

// Severity tiers a shape violation. Blocking violations always fail the
// run; advisory violations fail it only when the pipeline runs strict.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// NormalizedGraph is a validated graph plus its content hash. The hash
// is computed from the graph's canonical statement set, so statement
// order in the source never affects it.
type NormalizedGraph struct {
	Graph *graph.Graph
	Hash  string
}

// Violation is one shape-validation finding with enough context to
// render an actionable error without re-invoking the engine.
type Violation struct {
	Shape    string   `json:"shape"`
	Focus    string   `json:"focus"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult pairs the normalized graph with any violations
// found. The graph is withheld when a blocking violation is present;
// advisory findings ride along with a usable graph so non-strict runs
// can report them and proceed.
type ValidationResult struct {
	Graph      *NormalizedGraph
	Violations []Violation
}

// Blocking reports whether any violation is blocking-severity.
func (r ValidationResult) Blocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// BindingRecord is the ordered result of one query against one
// normalized graph. Rows are in the engine's documented deterministic
// order; Vars fixes the column order.
type BindingRecord struct {
	Query     string
	QueryHash string
	Vars      []string
	Rows      []map[string]string
}

// Empty reports whether the query matched nothing.
func (b *BindingRecord) Empty() bool {
	return len(b.Rows) == 0
}

// Validator checks a specification source against a shape set. Given
// identical content it must always return an equivalent result.
type Validator interface {
	Validate(ctx context.Context, source, shapes []byte) (ValidationResult, error)
}

// QueryEngine executes one query against a normalized graph and returns
// its bindings in deterministic order. It never returns partial rows:
// on failure the record is nil and the error carries the diagnostic.
type QueryEngine interface {
	Query(ctx context.Context, g *NormalizedGraph, name string, queryText []byte) (*BindingRecord, error)
}

// TemplateEngine renders a template against a binding record. A
// reference to a binding the record does not carry is an error, never
// silently empty output.
type TemplateEngine interface {
	Render(ctx context.Context, name string, templateText []byte, binding *BindingRecord) ([]byte, error)
}
