package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/graph"
)

func normalizedFrom(t *testing.T, source string) *NormalizedGraph {
	t.Helper()
	g, err := graph.Parse([]byte(source))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return &NormalizedGraph{Graph: g, Hash: digest.Statements(g.CanonicalLines())}
}

const queryFixture = `
beta type Command
beta hasName "beta"
alpha type Command
alpha hasName "alpha"
orphan type Widget
`

func TestQueryDeterministicOrder(t *testing.T) {
	t.Parallel()

	queryText := []byte("SELECT ?name\nWHERE ?cmd type Command\nWHERE ?cmd hasName ?name\n")
	q := NewPatternQuery()

	record, err := q.Query(context.Background(), normalizedFrom(t, queryFixture), "commands", queryText)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	want := []map[string]string{{"name": "alpha"}, {"name": "beta"}}
	if !reflect.DeepEqual(record.Rows, want) {
		t.Errorf("rows = %v, want %v", record.Rows, want)
	}
	if record.QueryHash != digest.Bytes(queryText) {
		t.Error("record does not carry the query's content hash")
	}
	if !reflect.DeepEqual(record.Vars, []string{"name"}) {
		t.Errorf("vars = %v, want [name]", record.Vars)
	}
}

func TestQueryEmptyResult(t *testing.T) {
	t.Parallel()

	q := NewPatternQuery()
	record, err := q.Query(context.Background(), normalizedFrom(t, queryFixture), "gadgets",
		[]byte("SELECT ?g\nWHERE ?g type Gadget\n"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !record.Empty() {
		t.Errorf("expected empty record, got %d rows", len(record.Rows))
	}
}

func TestQueryJoinAcrossPatterns(t *testing.T) {
	t.Parallel()

	source := `
a type Command
a dependsOn b
b type Command
b hasName "base"
`
	q := NewPatternQuery()
	record, err := q.Query(context.Background(), normalizedFrom(t, source), "deps",
		[]byte("SELECT ?dep ?name\nWHERE ?cmd dependsOn ?dep\nWHERE ?dep hasName ?name\n"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []map[string]string{{"dep": "b", "name": "base"}}
	if !reflect.DeepEqual(record.Rows, want) {
		t.Errorf("rows = %v, want %v", record.Rows, want)
	}
}

func TestQueryMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
	}{
		{"no select", "WHERE ?a type Command\n"},
		{"no where", "SELECT ?a\n"},
		{"bad clause", "FETCH ?a\n"},
		{"short pattern", "SELECT ?a\nWHERE ?a type\n"},
		{"unbound selection", "SELECT ?missing\nWHERE ?a type Command\n"},
		{"non-variable selection", "SELECT name\nWHERE ?a type Command\n"},
		{"duplicate select", "SELECT ?a\nSELECT ?b\nWHERE ?a type Command\n"},
	}

	q := NewPatternQuery()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := q.Query(context.Background(), normalizedFrom(t, queryFixture), tt.name, []byte(tt.query))
			if err == nil {
				t.Fatal("expected error")
			}
			var ee *ExtractionError
			if !errors.As(err, &ee) {
				t.Fatalf("expected *ExtractionError, got %T", err)
			}
			if ee.Query != tt.name {
				t.Errorf("error query identity = %q, want %q", ee.Query, tt.name)
			}
			if ee.Diagnostic == "" {
				t.Error("extraction error carries no diagnostic")
			}
		})
	}
}
