package patterns

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// compound is a single CSS compound selector: an optional tag plus attribute
// conditions. Combinators and pseudo-classes are not supported by the static
// matcher; the live detector evaluates those selectors in the page instead.
type compound struct {
	tag   string
	conds []attrCond
}

type attrCond struct {
	name string
	op   string // "" (exists), "=", "*=", "^=", "$=", "~=", "|="
	val  string
}

// parseSelector parses a compound selector such as
// `input[type="checkbox"][id*=cf-chl]` or `div.cf-turnstile`.
func parseSelector(sel string) (*compound, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, fmt.Errorf("empty selector")
	}
	c := &compound{}
	i := 0

	if sel[0] == '*' {
		i++
	} else if isIdentChar(sel[0]) {
		j := i
		for j < len(sel) && isIdentChar(sel[j]) {
			j++
		}
		c.tag = strings.ToLower(sel[i:j])
		i = j
	}

	for i < len(sel) {
		switch sel[i] {
		case '.', '#':
			j := i + 1
			for j < len(sel) && isIdentChar(sel[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty name at %d in %q", i, sel)
			}
			if sel[i] == '.' {
				c.conds = append(c.conds, attrCond{name: "class", op: "~=", val: sel[i+1 : j]})
			} else {
				c.conds = append(c.conds, attrCond{name: "id", op: "=", val: sel[i+1 : j]})
			}
			i = j
		case '[':
			cond, n, err := parseAttr(sel[i:])
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, sel)
			}
			c.conds = append(c.conds, cond)
			i += n
		default:
			return nil, fmt.Errorf("unsupported selector syntax %q", sel)
		}
	}
	return c, nil
}

// parseAttr parses one [..] block and returns it with the bytes consumed.
func parseAttr(s string) (attrCond, int, error) {
	var cond attrCond
	i := 1
	for i < len(s) && s[i] == ' ' {
		i++
	}
	j := i
	for j < len(s) && (isIdentChar(s[j]) || s[j] == ':') {
		j++
	}
	if j == i {
		return cond, 0, fmt.Errorf("missing attribute name")
	}
	cond.name = strings.ToLower(s[i:j])
	i = j
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i >= len(s) {
		return cond, 0, fmt.Errorf("unterminated attribute")
	}
	if s[i] == ']' {
		return cond, i + 1, nil
	}

	for _, op := range []string{"*=", "^=", "$=", "~=", "|=", "="} {
		if strings.HasPrefix(s[i:], op) {
			cond.op = op
			i += len(op)
			break
		}
	}
	if cond.op == "" {
		return cond, 0, fmt.Errorf("unknown attribute operator")
	}
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i >= len(s) {
		return cond, 0, fmt.Errorf("unterminated attribute")
	}

	if q := s[i]; q == '"' || q == '\'' {
		end := strings.IndexByte(s[i+1:], q)
		if end < 0 {
			return cond, 0, fmt.Errorf("unterminated string")
		}
		cond.val = s[i+1 : i+1+end]
		i += end + 2
	} else {
		j := i
		for j < len(s) && s[j] != ']' && s[j] != ' ' {
			j++
		}
		cond.val = s[i:j]
		i = j
	}

	// Optional case flag; the static matcher is always case-insensitive.
	for i < len(s) && s[i] != ']' {
		if c := s[i]; c != ' ' && c != 'i' && c != 'I' && c != 's' && c != 'S' {
			return cond, 0, fmt.Errorf("unexpected %q in attribute", c)
		}
		i++
	}
	if i >= len(s) {
		return cond, 0, fmt.Errorf("unterminated attribute")
	}
	return cond, i + 1, nil
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// matches reports whether a start tag satisfies the selector.
func (c *compound) matches(tok html.Token) bool {
	if c.tag != "" && !strings.EqualFold(tok.Data, c.tag) {
		return false
	}
	for _, cond := range c.conds {
		val, ok := attrValue(tok, cond.name)
		if !ok || !cond.test(val) {
			return false
		}
	}
	return true
}

func (a attrCond) test(val string) bool {
	val = strings.ToLower(val)
	want := strings.ToLower(a.val)
	switch a.op {
	case "":
		return true
	case "=":
		return val == want
	case "*=":
		return want != "" && strings.Contains(val, want)
	case "^=":
		return want != "" && strings.HasPrefix(val, want)
	case "$=":
		return want != "" && strings.HasSuffix(val, want)
	case "~=":
		for _, w := range strings.Fields(val) {
			if w == want {
				return true
			}
		}
		return false
	case "|=":
		return val == want || strings.HasPrefix(val, want+"-")
	}
	return false
}

func attrValue(tok html.Token, name string) (string, bool) {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}
