// Package graph holds the minimal statement model shared by the
// in-process validation and query engines. A graph is an unordered set
// of subject/predicate/object statements; its canonical form sorts the
// statements so hashing never depends on insertion order.
package graph

import (
	"sort"
	"strings"
)

// Statement is a single subject/predicate/object triple. Objects that
// were quoted in the source are stored unquoted with Literal set.
type Statement struct {
	Subject   string
	Predicate string
	Object    string
	Literal   bool
}

// Graph is a set of statements. The zero value is an empty graph ready
// for use.
type Graph struct {
	statements []Statement
}

// Add appends a statement to the graph. Duplicates are kept; canonical
// serialization deduplicates them.
func (g *Graph) Add(s Statement) {
	g.statements = append(g.statements, s)
}

// Len returns the number of statements, duplicates included.
func (g *Graph) Len() int {
	return len(g.statements)
}

// Statements returns a copy of the graph's statements in insertion order.
func (g *Graph) Statements() []Statement {
	out := make([]Statement, len(g.statements))
	copy(out, g.statements)
	return out
}

// Subjects returns the distinct subjects in lexicographic order.
func (g *Graph) Subjects() []string {
	seen := make(map[string]bool)
	var subjects []string
	for _, s := range g.statements {
		if !seen[s.Subject] {
			seen[s.Subject] = true
			subjects = append(subjects, s.Subject)
		}
	}
	sort.Strings(subjects)
	return subjects
}

// Objects returns the objects of all statements matching subject and
// predicate, in lexicographic order.
func (g *Graph) Objects(subject, predicate string) []string {
	var objects []string
	for _, s := range g.statements {
		if s.Subject == subject && s.Predicate == predicate {
			objects = append(objects, s.Object)
		}
	}
	sort.Strings(objects)
	return objects
}

// CanonicalLines returns the graph's statements as sorted, deduplicated
// serialized lines. Two graphs with the same statement set produce
// identical output regardless of how the statements were added.
func (g *Graph) CanonicalLines() []string {
	seen := make(map[string]bool, len(g.statements))
	lines := make([]string, 0, len(g.statements))
	for _, s := range g.statements {
		line := s.serialize()
		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)
	return lines
}

func (s Statement) serialize() string {
	obj := s.Object
	if s.Literal {
		obj = `"` + strings.ReplaceAll(obj, `"`, `\"`) + `"`
	}
	return s.Subject + " " + s.Predicate + " " + obj
}
