// Package sitekey classifies Turnstile sitekeys and extracts them from markup.
package sitekey

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Classification types.
const (
	TypeDemo          = "demo"
	TypeFake          = "fake"
	TypeInvalidFormat = "invalid_format"
	TypeInvalidHex    = "invalid_hex"
	TypeProduction    = "production"
	TypeDevelopment   = "development"
	TypeUnusual       = "unusual_format"
)

// Result is the classification of one sitekey. Exactly one of IsDemo,
// IsFake, IsValid is set.
type Result struct {
	Sitekey      string   `json:"sitekey"`
	IsValid      bool     `json:"is_valid"`
	IsDemo       bool     `json:"is_demo"`
	IsFake       bool     `json:"is_fake"`
	Type         string   `json:"type"`
	Confidence   int      `json:"confidence"`
	EntropyScore float64  `json:"entropy_score"`
	Reason       string   `json:"reason,omitempty"`
	Description  string   `json:"description,omitempty"`
	Warnings     []string `json:"warnings"`
	Notes        []string `json:"notes"`
	Domain       string   `json:"domain,omitempty"`
}

// Rejected reports whether the key must not be sent to a solving page.
func (r Result) Rejected() bool {
	return r.IsDemo || r.IsFake
}

// DemoKeys are Cloudflare's documented test sitekeys.
var DemoKeys = map[string]string{
	"1x00000000000000000000AA": "Demo - always passes (visible)",
	"2x00000000000000000000AB": "Demo - always blocks",
	"3x00000000000000000000FF": "Demo - always passes (invisible)",
}

// placeholders are matched as case-insensitive substrings.
var placeholders = []string{
	"0x4AAAAAAA", "YOUR_SITE_KEY", "PLACEHOLDER", "EXAMPLE", "TEST_KEY",
	"DEMO", "FAKE", "NULL", "UNDEFINED",
}

type heuristic struct {
	reason string
	match  func(key string) bool
}

func pattern(expr string) func(string) bool {
	re := regexp.MustCompile(`(?i)` + expr)
	return re.MatchString
}

// repeated matches a [01]x prefix followed by a hex unit of one of the given
// lengths repeated at least minCount times, case-insensitively.
func repeated(unitLens []int, minCount int) func(string) bool {
	return func(key string) bool {
		if !hasPrefix(key) {
			return false
		}
		body := key[2:]
		if !isHex(body) {
			return false
		}
		for _, n := range unitLens {
			if n == 0 || len(body)%n != 0 || len(body)/n < minCount {
				continue
			}
			unit := body[:n]
			ok := true
			for i := n; i < len(body); i += n {
				if !strings.EqualFold(body[i:i+n], unit) {
					ok = false
					break
				}
			}
			if ok {
				return true
			}
		}
		return false
	}
}

// heuristics are evaluated in order; the first hit wins.
var heuristics = []heuristic{
	{"Contains too many zeros (likely placeholder)", pattern(`^[01]x0{20,}[0-9a-f]*$`)},
	{"Ends with too many zeros (likely placeholder)", pattern(`^[01]x[0-9a-f]*0{20,}$`)},
	{"Contains repeating single character (likely test key)", repeated([]int{1}, 26)},
	{"Contains repeating 2-char pattern (likely test key)", repeated([]int{2}, 13)},
	{"Contains repeating 4-char pattern (likely test key)", repeated([]int{4}, 7)},
	{"Contains sequential hex pattern (likely test key)", pattern(`^[01]x(0123456789ABCDEF){2,}$`)},
	{"Contains reverse sequential pattern (likely test key)", pattern(`^[01]x(FEDCBA9876543210){2,}$`)},
	{"Starts with sequential pattern (likely test key)", pattern(`^[01]x123456789ABCDEF`)},
	{"Contains all F characters (likely placeholder)", pattern(`^[01]xF{20,}$`)},
	{"Contains all A characters (likely placeholder)", pattern(`^[01]xA{20,}$`)},
	{"Contains only numbers (invalid hex format)", pattern(`^[01]x[0-9]{20,}$`)},
	{"Contains common hex test words", pattern(`^[01]x.*(DEAD|BEEF|CAFE|FACE|BABE|FADE){4,}`)},
	{"Contains test/fake keywords", pattern(`^[01]x.*(TEST|FAKE|DEMO|EXAMPLE|PLACEHOLDER)`)},
	{"Starts with 4AAA... (common placeholder pattern)", pattern(`^[01]x4A{6,}`)},
	{"Contains short repeating pattern", repeated([]int{1, 2, 3}, 9)},
	{"Contains obvious test sequences", pattern(`^[01]x(12|AB|CD|EF){10,}$`)},
}

// Validate classifies sitekey. url, when non-empty, only fills Domain.
// It never fails; malformed input is reported in the Result.
func Validate(sitekey, rawURL string) Result {
	r := Result{Sitekey: sitekey, Warnings: []string{}, Notes: []string{}}
	if rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil {
			r.Domain = u.Host
		}
	}

	if desc, ok := DemoKeys[sitekey]; ok {
		r.IsDemo = true
		r.Type = TypeDemo
		r.Confidence = 100
		r.Description = desc
		r.Reason = "Known Cloudflare test sitekey"
		r.Warnings = append(r.Warnings, "Demo keys only work on specific domains", "Not suitable for real solving")
		r.Notes = append(r.Notes, "Use for testing Turnstile integration only")
		return r
	}

	upper := strings.ToUpper(sitekey)
	for _, p := range placeholders {
		if strings.Contains(upper, strings.ToUpper(p)) {
			r.IsFake = true
			r.Type = TypeFake
			r.Confidence = 95
			r.Reason = "Contains placeholder text: " + p
			r.Warnings = append(r.Warnings, "This is clearly a placeholder/fake sitekey")
			r.Notes = append(r.Notes, "Extract from a real Turnstile-protected website")
			return r
		}
	}

	for _, h := range heuristics {
		if h.match(sitekey) {
			r.IsFake = true
			r.Type = TypeFake
			r.Confidence = 90
			r.Reason = h.reason
			r.Warnings = append(r.Warnings, "Pattern suggests fake/test sitekey")
			r.Notes = append(r.Notes, "Real sitekeys have random-looking hex characters")
			return r
		}
	}

	if len(sitekey) < 20 || !hasPrefix(sitekey) {
		r.IsFake = true
		r.Type = TypeInvalidFormat
		r.Confidence = 100
		r.Reason = "Invalid format - must start with 1x/0x and be 20+ chars"
		r.Warnings = append(r.Warnings, "Does not match Turnstile sitekey format")
		r.Notes = append(r.Notes, `Real Turnstile sitekeys start with "1x" or "0x"`)
		return r
	}

	if len(sitekey) != 32 {
		r.IsValid = true
		r.Type = TypeUnusual
		r.Confidence = 30
		r.Reason = "Unusual length: " + strconv.Itoa(len(sitekey)) + " chars (expected 32)"
		r.Warnings = append(r.Warnings, "Non-standard length for Turnstile sitekey")
		r.Notes = append(r.Notes, "May be valid but unusual format")
		return r
	}

	payload := sitekey[2:]
	if !isHex(payload) {
		r.IsFake = true
		r.Type = TypeInvalidHex
		r.Confidence = 95
		r.Reason = "Contains non-hex characters after prefix"
		r.Warnings = append(r.Warnings, "Invalid hex encoding")
		r.Notes = append(r.Notes, "Real sitekeys are hex-encoded after the prefix")
		return r
	}

	e := Entropy(payload)
	r.IsValid = true
	r.EntropyScore = e
	if strings.EqualFold(sitekey[:2], "1x") {
		r.Type = TypeProduction
	} else {
		r.Type = TypeDevelopment
	}
	r.Confidence = min(50+int(e*50), 95)
	r.Notes = append(r.Notes,
		"Valid "+r.Type+" sitekey format",
		"Sitekeys are domain-restricted by Cloudflare",
		"Test by using with local server")
	if e < 0.5 {
		r.Warnings = append(r.Warnings, "Low entropy - may be a test pattern")
		r.Confidence -= 20
	}
	return r
}

// Entropy returns the Shannon entropy of s's character distribution,
// normalised by log2(16) and clamped to [0,1]. Characters are counted
// case-sensitively.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	n := 0
	for _, c := range s {
		counts[c]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return math.Min(h/4, 1)
}

// hasPrefix reports a 0x/1x prefix, case-insensitive on the x.
func hasPrefix(key string) bool {
	return len(key) >= 2 && (key[0] == '0' || key[0] == '1') && (key[1] == 'x' || key[1] == 'X')
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
