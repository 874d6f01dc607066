package engine

import (
	"context"
	"fmt"
	"regexp"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/specloom/loom/internal/digest"
	"github.com/specloom/loom/internal/graph"
)

// shapeSet mirrors the TOML structure of a shape file.
type shapeSet struct {
	Shapes []shapeDef `toml:"shapes"`
}

// shapeDef is one constraint: subjects whose `type` matches Target must
// carry at least MinCount values of Property, each matching Pattern.
type shapeDef struct {
	ID       string `toml:"id"`
	Target   string `toml:"target"`
	Property string `toml:"property"`
	MinCount int    `toml:"min_count"`
	Pattern  string `toml:"pattern"`
	Severity string `toml:"severity"`
	Message  string `toml:"message"`
}

// ShapeValidator is the in-process Validator. Shapes are declared in a
// TOML document; the source is the line-oriented triple format.
type ShapeValidator struct{}

// NewShapeValidator returns the in-process shape validator.
func NewShapeValidator() *ShapeValidator {
	return &ShapeValidator{}
}

// typePredicate links a subject to its type for shape targeting.
const typePredicate = "type"

// Validate parses the source and shape set and checks every shape. A
// source that does not parse yields a single blocking violation rather
// than an engine error, so the caller reports it like any other
// validation failure.
func (v *ShapeValidator) Validate(ctx context.Context, source, shapes []byte) (ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return ValidationResult{}, err
	}

	g, err := graph.Parse(source)
	if err != nil {
		return ValidationResult{Violations: []Violation{{
			Shape:    "well-formed-source",
			Message:  err.Error(),
			Severity: SeverityBlocking,
		}}}, nil
	}

	var set shapeSet
	if err := toml.Unmarshal(shapes, &set); err != nil {
		return ValidationResult{}, fmt.Errorf("parsing shape set: %w", err)
	}

	var violations []Violation
	for _, shape := range set.Shapes {
		checked, err := checkShape(g, shape)
		if err != nil {
			return ValidationResult{}, fmt.Errorf("shape %q: %w", shape.ID, err)
		}
		violations = append(violations, checked...)
	}

	result := ValidationResult{Violations: violations}
	if !result.Blocking() {
		// Advisory findings ride along with a usable graph; blocking
		// findings withhold it.
		result.Graph = &NormalizedGraph{
			Graph: g,
			Hash:  digest.Statements(g.CanonicalLines()),
		}
	}
	return result, nil
}

func checkShape(g *graph.Graph, shape shapeDef) ([]Violation, error) {
	severity := Severity(shape.Severity)
	switch severity {
	case SeverityBlocking, SeverityAdvisory:
	case "":
		severity = SeverityBlocking
	default:
		return nil, fmt.Errorf("unknown severity %q", shape.Severity)
	}

	var pattern *regexp.Regexp
	if shape.Pattern != "" {
		re, err := regexp.Compile(shape.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		pattern = re
	}

	minCount := shape.MinCount
	if minCount == 0 && pattern == nil {
		minCount = 1 // a shape with no constraints at all still requires presence
	}

	var violations []Violation
	for _, subject := range g.Subjects() {
		if shape.Target != "" && !hasType(g, subject, shape.Target) {
			continue
		}

		values := g.Objects(subject, shape.Property)
		if len(values) < minCount {
			violations = append(violations, Violation{
				Shape:    shape.ID,
				Focus:    subject,
				Path:     shape.Property,
				Message:  shapeMessage(shape, fmt.Sprintf("requires at least %d value(s) of %s, found %d", minCount, shape.Property, len(values))),
				Severity: severity,
			})
			continue
		}

		if pattern == nil {
			continue
		}
		for _, value := range values {
			if !pattern.MatchString(value) {
				violations = append(violations, Violation{
					Shape:    shape.ID,
					Focus:    subject,
					Path:     shape.Property,
					Message:  shapeMessage(shape, fmt.Sprintf("value %q does not match pattern %s", value, shape.Pattern)),
					Severity: severity,
				})
			}
		}
	}
	return violations, nil
}

func hasType(g *graph.Graph, subject, target string) bool {
	for _, obj := range g.Objects(subject, typePredicate) {
		if obj == target {
			return true
		}
	}
	return false
}

func shapeMessage(shape shapeDef, fallback string) string {
	if shape.Message != "" {
		return shape.Message
	}
	return fallback
}
