package patterns

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// Rule sources reported in ScanResult.RulesSource.
const (
	SourceExternal  = "external_file"
	SourceEmbedded  = "embedded_fallback"
	SourceSelectors = "selector_fallback"
)

const maxMatchedData = 200

// CatalogSource supplies the active pattern catalog.
type CatalogSource interface {
	Get() *Catalog
}

// StringMatch is the first occurrence of one rule string.
type StringMatch struct {
	Identifier  string `json:"identifier"`
	Offset      int    `json:"offset"`
	MatchedData string `json:"matched_data"`
	Length      int    `json:"length"`
}

// Detection is one fired rule.
type Detection struct {
	Rule        string        `json:"rule"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Confidence  string        `json:"confidence"`
	Strings     []StringMatch `json:"strings"`
}

// ScanResult summarises a static markup scan.
type ScanResult struct {
	Detections      []Detection `json:"detections"`
	SitekeysFound   []string    `json:"sitekeys_found"`
	TotalMatches    int         `json:"total_matches"`
	ConfidenceScore int         `json:"confidence_score"`
	HasTurnstile    bool        `json:"has_turnstile"`
	Categories      []string    `json:"categories"`
	RulesSource     string      `json:"rules_source"`
}

// SignatureVerdict is the signature engine's opinion of a single sitekey.
type SignatureVerdict struct {
	Verdict    string   `json:"verdict"` // fake, plausible, unknown
	Reason     string   `json:"reason"`
	Categories []string `json:"categories"`
}

var (
	demoKeyPattern       = regexp.MustCompile(`(?i)^[0-3]x[0-9A-F]{20,30}$`)
	matchSitekeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)data-sitekey=['"]([01x3][x0-9A-F]{20,})['"]`),
		regexp.MustCompile(`(?i)sitekey['"\s:=]+['"]([01x3][x0-9A-F]{20,})['"]`),
		regexp.MustCompile(`(?i)['"]([01x3][x0-9A-F]{30,})['"]`),
	}
	attrSitekeyPattern = regexp.MustCompile(`(?i)^[0-3]x[0-9A-F]{20,}$`)
)

var confidenceWeights = map[string]int{
	ConfidenceHigh:   3,
	ConfidenceMedium: 2,
	ConfidenceLow:    1,
}

// Scanner scans raw markup for Turnstile traces. It prefers compiled
// signatures and falls back to the catalog's selector rules when no rule set
// compiles.
type Scanner struct {
	catalog CatalogSource
	sigs    *Signatures
	source  string
}

// NewScanner loads signatures from signaturesPath when set, falling back to
// the embedded rule set and finally to selector rules.
func NewScanner(catalog CatalogSource, signaturesPath string) *Scanner {
	if signaturesPath != "" {
		data, err := os.ReadFile(signaturesPath)
		if err != nil {
			log.Warn().Err(err).Str("path", signaturesPath).Msg("Failed to read signature file, using embedded rules")
		} else if sigs, err := CompileSignatures(data); err != nil {
			log.Warn().Err(err).Str("path", signaturesPath).Msg("Failed to compile signature file, using embedded rules")
		} else {
			log.Info().Str("path", signaturesPath).Int("rules", sigs.Len()).Msg("Loaded signature rules")
			return &Scanner{catalog: catalog, sigs: sigs, source: SourceExternal}
		}
	}
	return newScanner(catalog, embeddedSignatures, SourceEmbedded)
}

func newScanner(catalog CatalogSource, rules []byte, source string) *Scanner {
	sigs, err := CompileSignatures(rules)
	if err != nil {
		log.Warn().Err(err).Msg("Signature engine unavailable, falling back to selector rules")
		return &Scanner{catalog: catalog, source: SourceSelectors}
	}
	return &Scanner{catalog: catalog, sigs: sigs, source: source}
}

// Source reports which rule set the scanner is using.
func (s *Scanner) Source() string {
	return s.source
}

// Scan runs the active rules over content.
func (s *Scanner) Scan(content string) *ScanResult {
	var (
		detections []Detection
		sitekeys   []string
	)
	if s.sigs != nil {
		detections = s.sigs.match(content)
		sitekeys = sitekeysFromDetections(detections)
	} else {
		detections, sitekeys = s.selectorScan(content)
	}

	res := &ScanResult{
		Detections:    detections,
		SitekeysFound: sitekeys,
		TotalMatches:  len(detections),
		HasTurnstile:  len(detections) > 0,
		RulesSource:   s.source,
	}
	if res.Detections == nil {
		res.Detections = []Detection{}
	}
	if res.SitekeysFound == nil {
		res.SitekeysFound = []string{}
	}

	total := 0
	cats := make(map[string]bool)
	for _, d := range detections {
		w, ok := confidenceWeights[d.Confidence]
		if !ok {
			w = 1
		}
		total += w
		cats[d.Category] = true
	}
	res.ConfidenceScore = min(total*10, 100)
	res.Categories = make([]string, 0, len(cats))
	for c := range cats {
		res.Categories = append(res.Categories, c)
	}
	sort.Strings(res.Categories)

	return res
}

// ScanFile reads a file (or stdin for "-") and scans it.
func (s *Scanner) ScanFile(path string) (*ScanResult, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Scan(string(data)), nil
}

// CheckSitekey asks the rule set whether a sitekey looks synthetic by scanning
// a minimal widget that embeds it.
func (s *Scanner) CheckSitekey(sitekey string) SignatureVerdict {
	res := s.Scan(`<div class="cf-turnstile" data-sitekey="` + html.EscapeString(sitekey) + `"></div>`)
	for _, d := range res.Detections {
		if d.Category == "captcha_fake" {
			return SignatureVerdict{
				Verdict:    "fake",
				Reason:     "signature " + d.Rule + " matched a placeholder pattern",
				Categories: res.Categories,
			}
		}
	}
	if res.HasTurnstile {
		return SignatureVerdict{Verdict: "plausible", Reason: "widget signatures matched", Categories: res.Categories}
	}
	return SignatureVerdict{Verdict: "unknown", Reason: "no signatures matched", Categories: []string{}}
}

// sitekeysFromDetections pulls sitekeys out of matched strings whose id names
// a sitekey or demo key.
func sitekeysFromDetections(detections []Detection) []string {
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if len(k) >= 20 && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for _, d := range detections {
		for _, m := range d.Strings {
			id := strings.ToLower(m.Identifier)
			switch {
			case strings.Contains(id, "demo_"):
				if demoKeyPattern.MatchString(m.MatchedData) {
					add(m.MatchedData)
				}
			case strings.Contains(id, "sitekey"):
				for _, re := range matchSitekeyPatterns {
					for _, sub := range re.FindAllStringSubmatch(m.MatchedData, -1) {
						add(sub[1])
					}
				}
			}
		}
	}
	return keys
}

type selectorGroup struct {
	kind       string
	category   string
	confidence string
	selectors  []string
}

// selectorScan applies the catalog's compound selectors to every start tag.
// Selectors the static matcher cannot express are skipped.
func (s *Scanner) selectorScan(content string) ([]Detection, []string) {
	cat := s.catalog.Get()
	groups := []selectorGroup{
		{"container", "captcha", ConfidenceMedium, cat.Containers},
		{"iframe", "captcha_iframe", ConfidenceHigh, cat.Iframes},
		{"script", "captcha_js", ConfidenceMedium, cat.Scripts},
		{"response-field", "captcha_response", ConfidenceLow, cat.ResponseFields},
	}

	type parsedGroup struct {
		selectorGroup
		parsed  []*compound
		sources []string
		hits    []StringMatch
		matched map[string]bool
	}
	pgs := make([]*parsedGroup, 0, len(groups))
	for _, g := range groups {
		pg := &parsedGroup{selectorGroup: g, matched: make(map[string]bool)}
		for _, sel := range g.selectors {
			c, err := parseSelector(sel)
			if err != nil {
				log.Debug().Err(err).Str("selector", sel).Msg("Skipping selector in static scan")
				continue
			}
			pg.parsed = append(pg.parsed, c)
			pg.sources = append(pg.sources, sel)
		}
		pgs = append(pgs, pg)
	}

	var sitekeys []string
	seenKeys := make(map[string]bool)

	z := html.NewTokenizer(strings.NewReader(content))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := string(z.Raw())
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			tok := z.Token()
			for _, pg := range pgs {
				for i, c := range pg.parsed {
					sel := pg.sources[i]
					if pg.matched[sel] || !c.matches(tok) {
						continue
					}
					pg.matched[sel] = true
					data := raw
					if len(data) > maxMatchedData {
						data = data[:maxMatchedData]
					}
					pg.hits = append(pg.hits, StringMatch{
						Identifier:  sel,
						Offset:      offset,
						MatchedData: data,
						Length:      len(raw),
					})
				}
			}
			if k, ok := attrValue(tok, "data-sitekey"); ok {
				if attrSitekeyPattern.MatchString(k) && !seenKeys[k] {
					seenKeys[k] = true
					sitekeys = append(sitekeys, k)
				}
			}
		}
		offset += len(raw)
	}

	var detections []Detection
	for _, pg := range pgs {
		if len(pg.hits) == 0 {
			continue
		}
		detections = append(detections, Detection{
			Rule:        "Selector_" + strings.ReplaceAll(pg.kind, "-", "_"),
			Category:    pg.category,
			Description: "Catalog " + pg.kind + " selectors",
			Confidence:  pg.confidence,
			Strings:     pg.hits,
		})
	}
	return detections, sitekeys
}
