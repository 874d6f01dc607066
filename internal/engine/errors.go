package engine

import "fmt"

// ExtractionError reports a failed query execution, carrying the query
// identity and the engine's own diagnostic verbatim.
type ExtractionError struct {
	Query      string
	Diagnostic string
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("query %q: %s", e.Query, e.Diagnostic)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// EmissionError reports a failed template render, carrying the template
// identity and the engine's own diagnostic verbatim.
type EmissionError struct {
	Template   string
	Diagnostic string
	Err        error
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("template %q: %s", e.Template, e.Diagnostic)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *EmissionError) Unwrap() error {
	return e.Err
}
