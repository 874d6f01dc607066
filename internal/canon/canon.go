// Package canon normalizes rendered artifact content so semantically
// identical input always yields byte-identical output. Each declared
// output kind selects a formatting strategy; every strategy is
// idempotent and free of locale, timezone, or filesystem-order effects.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind names a canonicalization strategy declared per output in the
// manifest.
type Kind string

const (
	// KindMarkdown normalizes line endings and whitespace for
	// structured text: LF endings, no trailing spaces, at most one
	// consecutive blank line, exactly one trailing newline.
	KindMarkdown Kind = "markdown"
	// KindJSON re-encodes JSON with sorted object keys and two-space
	// indentation.
	KindJSON Kind = "json"
	// KindText normalizes line endings and guarantees a trailing
	// newline but otherwise leaves content alone.
	KindText Kind = "text"
	// KindOpaque passes content through untouched.
	KindOpaque Kind = "opaque"
)

// Func is a canonicalization strategy. Implementations must be
// idempotent: applying the function twice equals applying it once.
type Func func([]byte) ([]byte, error)

// Canonicalizer maps output kinds to strategies. The zero value is not
// usable; construct with New.
type Canonicalizer struct {
	strategies map[Kind]Func
}

// New returns a Canonicalizer with the built-in strategies registered.
func New() *Canonicalizer {
	return &Canonicalizer{strategies: map[Kind]Func{
		KindMarkdown: Markdown,
		KindJSON:     JSON,
		KindText:     Text,
		KindOpaque:   Opaque,
	}}
}

// Register installs or replaces the strategy for a kind.
func (c *Canonicalizer) Register(kind Kind, fn Func) {
	c.strategies[kind] = fn
}

// Apply canonicalizes content according to its declared kind. An
// unknown kind is an error rather than a silent pass-through.
func (c *Canonicalizer) Apply(kind Kind, content []byte) ([]byte, error) {
	fn, ok := c.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("canon: unknown output kind %q", kind)
	}
	return fn(content)
}

// Known reports whether a strategy is registered for kind.
func (c *Canonicalizer) Known(kind Kind) bool {
	_, ok := c.strategies[kind]
	return ok
}

// Opaque returns content unchanged.
func Opaque(content []byte) ([]byte, error) {
	return content, nil
}

// Text converts CRLF to LF and guarantees exactly one trailing newline.
func Text(content []byte) ([]byte, error) {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	s = strings.TrimRight(s, "\n") + "\n"
	return []byte(s), nil
}

// Markdown applies Text normalization, strips trailing whitespace from
// every line, and collapses runs of blank lines to a single blank line.
func Markdown(content []byte) ([]byte, error) {
	normalized, err := Text(content)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(normalized), "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	// Drop a trailing blank line left by the collapse pass.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return []byte(strings.Join(out, "\n") + "\n"), nil
}

// JSON decodes and re-encodes content with sorted keys and two-space
// indentation. Invalid JSON is an error.
func JSON(content []byte) ([]byte, error) {
	var value any
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("canon: invalid JSON: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeSorted(&buf, value, ""); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// encodeSorted writes value as JSON with object keys in sorted order.
// encoding/json already sorts map keys, but an explicit encoder keeps
// indentation rules under our control and avoids HTML escaping.
func encodeSorted(buf *bytes.Buffer, value any, indent string) error {
	const step = "  "
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			buf.WriteString("{}")
			return nil
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteString("{\n")
		for i, k := range keys {
			buf.WriteString(indent + step)
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteString(": ")
			if err := encodeSorted(buf, v[k], indent+step); err != nil {
				return err
			}
			if i < len(keys)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString(indent + "}")
		return nil
	case []any:
		if len(v) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, item := range v {
			buf.WriteString(indent + step)
			if err := encodeSorted(buf, item, indent+step); err != nil {
				return err
			}
			if i < len(v)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString(indent + "]")
		return nil
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	}
}
