package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/graph"
)

// PatternQuery is the in-process QueryEngine. A query document selects
// variables and binds them by matching triple patterns:
//
//	SELECT ?name ?description
//	WHERE ?cmd type Command
//	WHERE ?cmd hasName ?name
//	WHERE ?cmd hasDescription ?description
//
// Variables start with '?'. The returned record strips the prefix from
// column names, and rows are sorted by the selected values so identical
// inputs always yield identical row order.
type PatternQuery struct{}

// NewPatternQuery returns the in-process query engine.
func NewPatternQuery() *PatternQuery {
	return &PatternQuery{}
}

type pattern struct {
	subject   string
	predicate string
	object    string
}

// Query parses and executes one query. Malformed queries surface as an
// *ExtractionError; a query that matches nothing returns an empty,
// non-nil record.
func (q *PatternQuery) Query(ctx context.Context, g *NormalizedGraph, name string, queryText []byte) (*BindingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vars, patterns, err := parseQuery(string(queryText))
	if err != nil {
		return nil, &ExtractionError{Query: name, Diagnostic: err.Error(), Err: err}
	}

	rows := matchPatterns(g.Graph, patterns)

	columns := make([]string, len(vars))
	for i, v := range vars {
		columns[i] = strings.TrimPrefix(v, "?")
	}

	projected := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]string, len(vars))
		for i, v := range vars {
			value, ok := row[v]
			if !ok {
				err := fmt.Errorf("selected variable %q is never bound", v)
				return nil, &ExtractionError{Query: name, Diagnostic: err.Error(), Err: err}
			}
			out[columns[i]] = value
		}
		projected = append(projected, out)
	}

	sortRows(projected, columns)
	projected = dedupeRows(projected, columns)

	return &BindingRecord{
		Query:     name,
		QueryHash: digest.Bytes(queryText),
		Vars:      columns,
		Rows:      projected,
	}, nil
}

func parseQuery(text string) (vars []string, patterns []pattern, err error) {
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "SELECT "):
			if vars != nil {
				return nil, nil, fmt.Errorf("line %d: duplicate SELECT clause", i+1)
			}
			vars = strings.Fields(strings.TrimPrefix(line, "SELECT "))
			if len(vars) == 0 {
				return nil, nil, fmt.Errorf("line %d: SELECT names no variables", i+1)
			}
			for _, v := range vars {
				if !strings.HasPrefix(v, "?") {
					return nil, nil, fmt.Errorf("line %d: selected name %q is not a variable", i+1, v)
				}
			}
		case strings.HasPrefix(line, "WHERE "):
			fields := strings.Fields(strings.TrimPrefix(line, "WHERE "))
			if len(fields) != 3 {
				return nil, nil, fmt.Errorf("line %d: WHERE pattern needs subject, predicate, object", i+1)
			}
			patterns = append(patterns, pattern{fields[0], fields[1], fields[2]})
		default:
			return nil, nil, fmt.Errorf("line %d: unrecognized clause %q", i+1, line)
		}
	}

	if vars == nil {
		return nil, nil, fmt.Errorf("query has no SELECT clause")
	}
	if len(patterns) == 0 {
		return nil, nil, fmt.Errorf("query has no WHERE patterns")
	}
	return vars, patterns, nil
}

// matchPatterns evaluates patterns left to right, extending candidate
// bindings against the graph's statements at each step.
func matchPatterns(g *graph.Graph, patterns []pattern) []map[string]string {
	bindings := []map[string]string{{}}

	for _, p := range patterns {
		var next []map[string]string
		for _, binding := range bindings {
			for _, stmt := range g.Statements() {
				extended, ok := matchStatement(binding, p, stmt)
				if ok {
					next = append(next, extended)
				}
			}
		}
		bindings = next
		if len(bindings) == 0 {
			break
		}
	}
	return bindings
}

func matchStatement(binding map[string]string, p pattern, stmt graph.Statement) (map[string]string, bool) {
	extended := binding
	cloned := false

	bind := func(term, value string) bool {
		if !strings.HasPrefix(term, "?") {
			return term == value
		}
		if bound, ok := extended[term]; ok {
			return bound == value
		}
		if !cloned {
			clone := make(map[string]string, len(extended)+1)
			for k, v := range extended {
				clone[k] = v
			}
			extended = clone
			cloned = true
		}
		extended[term] = value
		return true
	}

	if !bind(p.subject, stmt.Subject) {
		return nil, false
	}
	if !bind(p.predicate, stmt.Predicate) {
		return nil, false
	}
	if !bind(p.object, stmt.Object) {
		return nil, false
	}
	return extended, true
}

// sortRows orders rows by their selected values, var by var, so results
// never depend on statement iteration order.
func sortRows(rows []map[string]string, vars []string) {
	sort.Slice(rows, func(i, j int) bool {
		for _, v := range vars {
			if rows[i][v] != rows[j][v] {
				return rows[i][v] < rows[j][v]
			}
		}
		return false
	})
}

func dedupeRows(rows []map[string]string, vars []string) []map[string]string {
	out := rows[:0]
	var prev string
	for i, row := range rows {
		var b strings.Builder
		for _, v := range vars {
			b.WriteString(row[v])
			b.WriteByte(0)
		}
		key := b.String()
		if i == 0 || key != prev {
			out = append(out, row)
		}
		prev = key
	}
	return out
}
