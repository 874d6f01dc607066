package graph

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed line in a triple source, carrying the
// line number so the caller can point at the offending input.
type ParseError struct {
	Line    int
	Content string
	Reason  string
}

// Error returns a human-readable description with line context.
func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Content)
}

// Parse reads a line-oriented triple document into a Graph. Each
// non-blank, non-comment line holds a subject, a predicate, and an
// object; objects may be double-quoted literals containing spaces.
//
//	aurora type Command
//	aurora hasDescription "synchronize specification artifacts"
func Parse(data []byte) (*Graph, error) {
	g := &Graph{}
	for i, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		stmt, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Content: line, Reason: err.Error()}
		}
		g.Add(stmt)
	}
	return g, nil
}

func parseLine(line string) (Statement, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 3 {
		return Statement{}, fmt.Errorf("expected subject, predicate, object")
	}

	subject := fields[0]
	predicate := fields[1]
	object := strings.TrimSpace(fields[2])

	if strings.HasPrefix(object, `"`) {
		if !strings.HasSuffix(object, `"`) || len(object) < 2 {
			return Statement{}, fmt.Errorf("unterminated literal")
		}
		unquoted := strings.ReplaceAll(object[1:len(object)-1], `\"`, `"`)
		return Statement{Subject: subject, Predicate: predicate, Object: unquoted, Literal: true}, nil
	}
	if strings.ContainsAny(object, " \t") {
		return Statement{}, fmt.Errorf("unquoted object contains whitespace")
	}
	return Statement{Subject: subject, Predicate: predicate, Object: object}, nil
}
