package canon

import (
	"testing"
)

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    Kind
		content string
	}{
		{"markdown messy", KindMarkdown, "# Title  \r\n\r\n\r\n\r\nbody \t\ntail"},
		{"markdown clean", KindMarkdown, "# Title\n\nbody\n"},
		{"text crlf", KindText, "a\r\nb\r\n\r\n"},
		{"json nested", KindJSON, `{"z":1,"a":{"c":[3,2],"b":"x"}}`},
		{"opaque binary-ish", KindOpaque, "no\ttrailing\nnewline"},
	}

	c := New()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			once, err := c.Apply(tt.kind, []byte(tt.content))
			if err != nil {
				t.Fatalf("first Apply: %v", err)
			}
			twice, err := c.Apply(tt.kind, once)
			if err != nil {
				t.Fatalf("second Apply: %v", err)
			}
			if string(once) != string(twice) {
				t.Errorf("not idempotent:\nonce:  %q\ntwice: %q", once, twice)
			}
		})
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapse blanks", "a\n\n\n\nb\n", "a\n\nb\n"},
		{"strip trailing spaces", "a  \nb\t\n", "a\nb\n"},
		{"crlf to lf", "a\r\nb\r\n", "a\nb\n"},
		{"leading blanks dropped", "\n\na\n", "a\n"},
		{"trailing blanks dropped", "a\n\n\n", "a\n"},
		{"ensures final newline", "a", "a\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Markdown([]byte(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("Markdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSONSortsKeys(t *testing.T) {
	t.Parallel()

	a, err := JSON([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := JSON([]byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("key order changed canonical JSON:\n%s\nvs\n%s", a, b)
	}

	want := "{\n  \"a\": 1,\n  \"b\": 2\n}\n"
	if string(a) != want {
		t.Errorf("canonical JSON = %q, want %q", a, want)
	}
}

func TestJSONPreservesNumbers(t *testing.T) {
	t.Parallel()

	got, err := JSON([]byte(`{"n": 12345678901234567890.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{\n  \"n\": 12345678901234567890.5\n}\n" {
		t.Errorf("number was mangled: %s", got)
	}
}

func TestJSONInvalid(t *testing.T) {
	t.Parallel()

	if _, err := JSON([]byte("{nope")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestApplyUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New().Apply(Kind("yaml"), []byte("a: 1")); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestRegisterCustomStrategy(t *testing.T) {
	t.Parallel()

	c := New()
	c.Register(Kind("shout"), func(b []byte) ([]byte, error) {
		return append([]byte("!"), b...), nil
	})
	got, err := c.Apply(Kind("shout"), []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "!hi" {
		t.Errorf("custom strategy not applied: %q", got)
	}
}

func TestOpaqueUntouched(t *testing.T) {
	t.Parallel()

	in := []byte("raw \r\n bytes\x00")
	got, err := Opaque(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(in) {
		t.Error("opaque content was modified")
	}
}
