package engine

import (
	"bytes"
	"context"
	"strings"
	"text/template"
)

// GoTemplate is the in-process TemplateEngine built on text/template.
// Missing keys are hard errors so a template referencing a binding the
// record does not carry fails loudly instead of rendering "<no value>".
//
// The render context exposes:
//
//	.Rows  the binding rows, each a map of column name to value
//	.Vars  column names in declaration order
//	.Count number of rows
type GoTemplate struct {
	funcs template.FuncMap
}

// NewGoTemplate returns the in-process template engine with its fixed
// function set. The set contains no time-, locale-, or host-dependent
// functions, keeping renders deterministic across machines.
func NewGoTemplate() *GoTemplate {
	return &GoTemplate{
		funcs: template.FuncMap{
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
			"join":  strings.Join,
			"replace": func(s, old, new string) string {
				return strings.ReplaceAll(s, old, new)
			},
		},
	}
}

type renderContext struct {
	Rows  []map[string]string
	Vars  []string
	Count int
}

// Render executes the template against the binding record. Parse and
// execution failures surface as an *EmissionError carrying the engine
// diagnostic verbatim.
func (t *GoTemplate) Render(ctx context.Context, name string, templateText []byte, binding *BindingRecord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Funcs(t.funcs).Option("missingkey=error").Parse(string(templateText))
	if err != nil {
		return nil, &EmissionError{Template: name, Diagnostic: err.Error(), Err: err}
	}

	var buf bytes.Buffer
	rc := renderContext{Rows: binding.Rows, Vars: binding.Vars, Count: len(binding.Rows)}
	if err := tmpl.Execute(&buf, rc); err != nil {
		return nil, &EmissionError{Template: name, Diagnostic: err.Error(), Err: err}
	}
	return buf.Bytes(), nil
}
