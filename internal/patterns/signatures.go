package patterns

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

//go:embed signatures.yaml
var embeddedSignatures []byte

// Signature rule confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// SignatureFile is the on-disk rule format.
type SignatureFile struct {
	Version string          `yaml:"version"`
	Rules   []SignatureRule `yaml:"rules"`
}

// SignatureRule is a named set of strings plus the condition that fires it.
type SignatureRule struct {
	Name      string            `yaml:"name"`
	Meta      RuleMeta          `yaml:"meta"`
	Strings   []SignatureString `yaml:"strings"`
	Condition string            `yaml:"condition"`
}

// RuleMeta is descriptive rule metadata reported with each detection.
type RuleMeta struct {
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Confidence  string `yaml:"confidence"`
}

// SignatureString is either a literal (Text) or an RE2 expression (Regex).
type SignatureString struct {
	ID     string `yaml:"id"`
	Text   string `yaml:"text"`
	Regex  string `yaml:"regex"`
	NoCase bool   `yaml:"nocase"`
}

// Signatures is a compiled rule set.
type Signatures struct {
	Version string
	rules   []compiledRule
}

type compiledRule struct {
	name    string
	meta    RuleMeta
	strings []compiledString
	cond    condFunc
}

type compiledString struct {
	id string
	re *regexp.Regexp
}

// condFunc evaluates a rule condition given which string ids matched.
type condFunc func(hits map[string]bool) bool

// CompileSignatures parses and compiles a YAML rule file.
// All failures wrap types.ErrSignatureCompile.
func CompileSignatures(data []byte) (*Signatures, error) {
	var f SignatureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSignatureCompile, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules defined", types.ErrSignatureCompile)
	}

	s := &Signatures{Version: f.Version}
	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: rule without name", types.ErrSignatureCompile)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: duplicate rule %s", types.ErrSignatureCompile, r.Name)
		}
		seen[r.Name] = true

		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", types.ErrSignatureCompile, r.Name, err)
		}
		s.rules = append(s.rules, cr)
	}
	return s, nil
}

// EmbeddedSignatures returns the rule set compiled into the binary.
func EmbeddedSignatures() (*Signatures, error) {
	return CompileSignatures(embeddedSignatures)
}

// Len returns the number of compiled rules.
func (s *Signatures) Len() int {
	return len(s.rules)
}

func compileRule(r SignatureRule) (compiledRule, error) {
	cr := compiledRule{name: r.Name, meta: r.Meta}
	if cr.meta.Category == "" {
		cr.meta.Category = "unknown"
	}
	switch cr.meta.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	case "":
		cr.meta.Confidence = ConfidenceLow
	default:
		return cr, fmt.Errorf("unknown confidence %q", cr.meta.Confidence)
	}
	if len(r.Strings) == 0 {
		return cr, fmt.Errorf("no strings")
	}

	ids := make([]string, 0, len(r.Strings))
	for _, str := range r.Strings {
		id := strings.TrimPrefix(str.ID, "$")
		if id == "" {
			return cr, fmt.Errorf("string without id")
		}
		var expr string
		switch {
		case str.Text != "" && str.Regex != "":
			return cr, fmt.Errorf("string %s sets both text and regex", id)
		case str.Text != "":
			expr = regexp.QuoteMeta(str.Text)
		case str.Regex != "":
			expr = str.Regex
		default:
			return cr, fmt.Errorf("string %s is empty", id)
		}
		if str.NoCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return cr, fmt.Errorf("string %s: %w", id, err)
		}
		cr.strings = append(cr.strings, compiledString{id: id, re: re})
		ids = append(ids, id)
	}

	cond := strings.TrimSpace(r.Condition)
	if cond == "" {
		cond = "any of them"
	}
	fn, err := parseCondition(cond, ids)
	if err != nil {
		return cr, fmt.Errorf("condition: %w", err)
	}
	cr.cond = fn
	return cr, nil
}

// match runs every rule over content and returns the ones that fired.
func (s *Signatures) match(content string) []Detection {
	var out []Detection
	for _, r := range s.rules {
		hits := make(map[string]bool, len(r.strings))
		var found []StringMatch
		for _, cs := range r.strings {
			loc := cs.re.FindStringIndex(content)
			if loc == nil {
				continue
			}
			hits[cs.id] = true
			found = append(found, StringMatch{
				Identifier:  cs.id,
				Offset:      loc[0],
				MatchedData: content[loc[0]:loc[1]],
				Length:      loc[1] - loc[0],
			})
		}
		if len(found) == 0 || !r.cond(hits) {
			continue
		}
		out = append(out, Detection{
			Rule:        r.name,
			Category:    r.meta.Category,
			Description: r.meta.Description,
			Confidence:  r.meta.Confidence,
			Strings:     found,
		})
	}
	return out
}

// Condition grammar:
//
//	expr    = and { "or" and }
//	and     = unary { "and" unary }
//	unary   = "not" unary | primary
//	primary = "(" expr ")" | ("any" | "all" | N) "of" "them" | ident

type condParser struct {
	toks []string
	pos  int
	ids  map[string]bool
	all  []string
}

func parseCondition(src string, ids []string) (condFunc, error) {
	toks, err := tokenizeCondition(src)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks, ids: make(map[string]bool, len(ids)), all: ids}
	for _, id := range ids {
		p.ids[id] = true
	}
	fn, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q", p.toks[p.pos])
	}
	return fn, nil
}

func tokenizeCondition(src string) ([]string, error) {
	var toks []string
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			toks = append(toks, string(r))
			i++
		case r == '$' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i
			if r == '$' {
				j++
			}
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			tok := strings.TrimPrefix(string(rs[i:j]), "$")
			if tok == "" {
				return nil, fmt.Errorf("bare $ at %d", i)
			}
			toks = append(toks, tok)
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	return toks, nil
}

func (p *condParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *condParser) parseOr() (condFunc, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(h map[string]bool) bool { return l(h) || r(h) }
	}
	return left, nil
}

func (p *condParser) parseAnd() (condFunc, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(h map[string]bool) bool { return l(h) && r(h) }
	}
	return left, nil
}

func (p *condParser) parseUnary() (condFunc, error) {
	if strings.EqualFold(p.peek(), "not") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return func(h map[string]bool) bool { return !inner(h) }, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (condFunc, error) {
	tok := p.next()
	switch {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of condition")
	case tok == "(":
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing )")
		}
		return inner, nil
	case tok == ")":
		return nil, fmt.Errorf("unexpected )")
	}

	lower := strings.ToLower(tok)
	need := -1
	switch lower {
	case "any":
		need = 1
	case "all":
		need = len(p.all)
	default:
		if n, err := strconv.Atoi(tok); err == nil {
			need = n
		}
	}
	if need >= 0 {
		if !strings.EqualFold(p.next(), "of") || !strings.EqualFold(p.next(), "them") {
			return nil, fmt.Errorf("expected \"of them\" after %q", tok)
		}
		all := p.all
		return func(h map[string]bool) bool {
			n := 0
			for _, id := range all {
				if h[id] {
					n++
				}
			}
			return n >= need
		}, nil
	}

	if !p.ids[tok] {
		return nil, fmt.Errorf("undefined string %q", tok)
	}
	id := tok
	return func(h map[string]bool) bool { return h[id] }, nil
}
