package patterns

import (
	"errors"
	"testing"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

func TestEmbeddedSignaturesCompile(t *testing.T) {
	s, err := EmbeddedSignatures()
	if err != nil {
		t.Fatalf("EmbeddedSignatures() error = %v", err)
	}
	if s.Len() == 0 {
		t.Error("expected embedded rules")
	}
}

func TestParseCondition(t *testing.T) {
	ids := []string{"a", "b", "c"}
	tests := []struct {
		cond string
		hits []string
		want bool
	}{
		{"a and b", []string{"a"}, false},
		{"a and b", []string{"a", "b"}, true},
		{"a or b", []string{"b"}, true},
		{"(a and b) or c", []string{"c"}, true},
		{"(a and b) or c", []string{"a"}, false},
		{"a and (b or c)", []string{"a", "c"}, true},
		{"not a", nil, true},
		{"not a", []string{"a"}, false},
		{"$a or $b", []string{"b"}, true},
		{"any of them", []string{"c"}, true},
		{"any of them", nil, false},
		{"all of them", []string{"a", "b"}, false},
		{"all of them", []string{"a", "b", "c"}, true},
		{"2 of them", []string{"a", "c"}, true},
		{"2 of them", []string{"a"}, false},
	}

	for _, tt := range tests {
		fn, err := parseCondition(tt.cond, ids)
		if err != nil {
			t.Errorf("parseCondition(%q) error = %v", tt.cond, err)
			continue
		}
		hits := make(map[string]bool)
		for _, h := range tt.hits {
			hits[h] = true
		}
		if got := fn(hits); got != tt.want {
			t.Errorf("%q with %v = %v, want %v", tt.cond, tt.hits, got, tt.want)
		}
	}
}

func TestParseConditionErrors(t *testing.T) {
	ids := []string{"a", "b"}
	for _, cond := range []string{"a and", "missing", "A or B", "a b", "(a", "a)", "1 of those", "a & b", "$"} {
		if _, err := parseCondition(cond, ids); err == nil {
			t.Errorf("parseCondition(%q) expected error", cond)
		}
	}
}

func TestCompileSignaturesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid yaml", "rules: [}"},
		{"no rules", "version: x"},
		{"missing name", "rules:\n  - strings:\n      - {id: a, text: x}\n"},
		{"bad regex", "rules:\n  - name: r\n    strings:\n      - {id: a, regex: '(unclosed'}\n"},
		{"both text and regex", "rules:\n  - name: r\n    strings:\n      - {id: a, text: x, regex: y}\n"},
		{"unknown string in condition", "rules:\n  - name: r\n    strings:\n      - {id: a, text: x}\n    condition: a or b\n"},
		{"bad confidence", "rules:\n  - name: r\n    meta: {confidence: extreme}\n    strings:\n      - {id: a, text: x}\n"},
		{"duplicate rule", "rules:\n  - name: r\n    strings:\n      - {id: a, text: x}\n  - name: r\n    strings:\n      - {id: a, text: x}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSignatures([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, types.ErrSignatureCompile) {
				t.Errorf("error %v should wrap ErrSignatureCompile", err)
			}
		})
	}
}

func TestSignaturesMatch(t *testing.T) {
	s, err := CompileSignatures([]byte(`
rules:
  - name: Literal
    meta: {category: test, confidence: medium}
    strings:
      - {id: word, text: Turnstile, nocase: true}
  - name: Regex
    strings:
      - {id: key, regex: 'key=[0-9]+'}
`))
	if err != nil {
		t.Fatal(err)
	}

	got := s.match("xx turnstile yy key=42")
	if len(got) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(got))
	}
	if got[0].Rule != "Literal" || got[0].Strings[0].Offset != 3 || got[0].Strings[0].MatchedData != "turnstile" {
		t.Errorf("unexpected literal detection %+v", got[0])
	}
	if got[1].Confidence != ConfidenceLow || got[1].Category != "unknown" {
		t.Errorf("defaults not applied: %+v", got[1])
	}
	if got[1].Strings[0].Length != len("key=42") {
		t.Errorf("length = %d", got[1].Strings[0].Length)
	}
}
