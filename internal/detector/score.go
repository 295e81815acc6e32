package detector

import (
	"strings"

	"github.com/Rorqualx/turnstile-solver-go/internal/patterns"
)

// Confidence weights. Scores are advisory; whether a widget was found never
// depends on them.
const (
	weightSitekey        = 0.4
	weightSelectorName   = 0.3
	weightTrustedFrame   = 0.3
	weightStrongCheckbox = 0.4
	weightCheckbox       = 0.2
	weightThemeCallback  = 0.2
	weightVendor         = 0.2
	weightKeyword        = 0.1

	adjustError   = 0.1
	adjustLoading = -0.1
	adjustSuccess = -0.3

	// Elements that cannot be seen or clicked never score above this.
	nonVisualCap = 0.3
)

// Score computes a record's confidence in [0,1] from its corroborating
// signals and state.
func Score(w WidgetRecord, cat *patterns.Catalog) float64 {
	sel := strings.ToLower(w.Selector)
	var c float64

	if w.Sitekey() != "" {
		c += weightSitekey
	}
	if strings.Contains(sel, "turnstile") {
		c += weightSelectorName
	}
	if w.Kind == KindIframe && cat.TrustedFrame(w.Attributes["src"]) {
		c += weightTrustedFrame
	}
	if w.HasCheckbox {
		id := strings.ToLower(w.Attributes["id"])
		name := strings.ToLower(w.Attributes["name"])
		if strings.Contains(id, "cf-chl") || strings.Contains(name, "turnstile") {
			c += weightStrongCheckbox
		} else {
			c += weightCheckbox
		}
	}
	if w.Attributes["data-theme"] != "" || w.Attributes["data-callback"] != "" {
		c += weightThemeCallback
	}
	if strings.Contains(sel, "cloudflare") {
		c += weightVendor
	}
	for _, kw := range cat.ChallengeKeywords {
		if kw != "" && strings.Contains(sel, strings.ToLower(kw)) {
			c += weightKeyword
			break
		}
	}

	switch w.State {
	case StateError:
		c += adjustError
	case StateLoading:
		c += adjustLoading
	case StateSuccess:
		c += adjustSuccess
	}

	c = min(max(c, 0), 1)
	if w.Kind == KindScript || w.Kind == KindResponseField {
		c = min(c, nonVisualCap)
	}
	return c
}
