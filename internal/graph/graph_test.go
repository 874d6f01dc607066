package graph

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []Statement
		wantErr bool
	}{
		{
			name:  "plain triples",
			input: "cmd type Command\ncmd hasArg verbose\n",
			want: []Statement{
				{Subject: "cmd", Predicate: "type", Object: "Command"},
				{Subject: "cmd", Predicate: "hasArg", Object: "verbose"},
			},
		},
		{
			name:  "quoted literal with spaces",
			input: `cmd hasDescription "sync all specs"`,
			want: []Statement{
				{Subject: "cmd", Predicate: "hasDescription", Object: "sync all specs", Literal: true},
			},
		},
		{
			name:  "comments and blank lines skipped",
			input: "# header\n\ncmd type Command\n   \n",
			want: []Statement{
				{Subject: "cmd", Predicate: "type", Object: "Command"},
			},
		},
		{
			name:  "escaped quote in literal",
			input: `cmd hasDescription "say \"hi\""`,
			want: []Statement{
				{Subject: "cmd", Predicate: "hasDescription", Object: `say "hi"`, Literal: true},
			},
		},
		{
			name:    "missing object",
			input:   "cmd type",
			wantErr: true,
		},
		{
			name:    "unterminated literal",
			input:   `cmd hasDescription "oops`,
			wantErr: true,
		},
		{
			name:    "unquoted object with space",
			input:   "cmd hasArg two words",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, err := Parse([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("expected *ParseError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(g.Statements(), tt.want) {
				t.Errorf("statements = %+v, want %+v", g.Statements(), tt.want)
			}
		})
	}
}

func TestCanonicalLinesOrderIndependent(t *testing.T) {
	t.Parallel()

	var a, b Graph
	a.Add(Statement{Subject: "x", Predicate: "p", Object: "1"})
	a.Add(Statement{Subject: "y", Predicate: "p", Object: "2"})
	b.Add(Statement{Subject: "y", Predicate: "p", Object: "2"})
	b.Add(Statement{Subject: "x", Predicate: "p", Object: "1"})

	if !reflect.DeepEqual(a.CanonicalLines(), b.CanonicalLines()) {
		t.Errorf("canonical lines differ across insertion orders: %v vs %v",
			a.CanonicalLines(), b.CanonicalLines())
	}
}

func TestCanonicalLinesDeduplicates(t *testing.T) {
	t.Parallel()

	var g Graph
	g.Add(Statement{Subject: "x", Predicate: "p", Object: "1"})
	g.Add(Statement{Subject: "x", Predicate: "p", Object: "1"})

	if got := len(g.CanonicalLines()); got != 1 {
		t.Errorf("expected 1 canonical line, got %d", got)
	}
}

func TestObjectsSorted(t *testing.T) {
	t.Parallel()

	var g Graph
	g.Add(Statement{Subject: "cmd", Predicate: "hasArg", Object: "zeta"})
	g.Add(Statement{Subject: "cmd", Predicate: "hasArg", Object: "alpha"})
	g.Add(Statement{Subject: "other", Predicate: "hasArg", Object: "skip"})

	want := []string{"alpha", "zeta"}
	if got := g.Objects("cmd", "hasArg"); !reflect.DeepEqual(got, want) {
		t.Errorf("Objects = %v, want %v", got, want)
	}
}

func TestSubjectsDistinctSorted(t *testing.T) {
	t.Parallel()

	var g Graph
	g.Add(Statement{Subject: "b", Predicate: "p", Object: "1"})
	g.Add(Statement{Subject: "a", Predicate: "p", Object: "2"})
	g.Add(Statement{Subject: "b", Predicate: "q", Object: "3"})

	want := []string{"a", "b"}
	if got := g.Subjects(); !reflect.DeepEqual(got, want) {
		t.Errorf("Subjects = %v, want %v", got, want)
	}
}
