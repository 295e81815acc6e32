// Package patterns holds the Turnstile pattern catalog, the signature engine
// used for static markup scans, and the JavaScript snippets evaluated in pages.
package patterns

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogFS embed.FS

// RefreshControls describes how refresh/retry controls are found inside an
// errored widget: candidate selectors plus visible texts they may carry.
type RefreshControls struct {
	Selectors []string `yaml:"selectors" json:"selectors"`
	Texts     []string `yaml:"texts" json:"texts"`
}

// StateKeywords are text fragments that classify a widget's visual state.
type StateKeywords struct {
	Error   []string `yaml:"error" json:"error"`
	Loading []string `yaml:"loading" json:"loading"`
	Success []string `yaml:"success" json:"success"`
}

// Catalog contains every pattern used to locate Turnstile widgets.
type Catalog struct {
	Version             string          `yaml:"version" json:"version"`
	Containers          []string        `yaml:"containers" json:"containers"`
	Iframes             []string        `yaml:"iframes" json:"iframes"`
	Scripts             []string        `yaml:"scripts" json:"scripts"`
	ResponseFields      []string        `yaml:"response_fields" json:"responseFields"`
	Network             []string        `yaml:"network" json:"network"`
	DataAttributes      []string        `yaml:"data_attributes" json:"dataAttributes"`
	TrustedFrameDomains []string        `yaml:"trusted_frame_domains" json:"trustedFrameDomains"`
	ChallengeKeywords   []string        `yaml:"challenge_keywords" json:"challengeKeywords"`
	FrameClickTargets   []string        `yaml:"frame_click_targets" json:"frameClickTargets"`
	PageClickTargets    []string        `yaml:"page_click_targets" json:"pageClickTargets"`
	RefreshControls     RefreshControls `yaml:"refresh_controls" json:"refreshControls"`
	States              StateKeywords   `yaml:"states" json:"states"`
}

var (
	instance *Catalog
	once     sync.Once
	loadErr  error
)

// Get returns the singleton embedded Catalog.
func Get() *Catalog {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load pattern catalog, using defaults")
			instance = defaultCatalog()
		}
	})
	return instance
}

func load() (*Catalog, error) {
	data, err := defaultCatalogFS.ReadFile("catalog.yaml")
	if err != nil {
		return nil, err
	}
	c, err := parseCatalog(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("version", c.Version).
		Int("containers", len(c.Containers)).
		Int("iframes", len(c.Iframes)).
		Int("scripts", len(c.Scripts)).
		Msg("Pattern catalog loaded")

	return c, nil
}

// parseCatalog parses YAML data and validates the result.
func parseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the catalog has something to search for.
func (c *Catalog) Validate() error {
	if len(c.Containers) == 0 && len(c.Iframes) == 0 && len(c.Scripts) == 0 {
		return fmt.Errorf("catalog must have at least one pattern in containers, iframes, or scripts")
	}
	return nil
}

// TrustedFrame reports whether an iframe src points at a Turnstile origin.
func (c *Catalog) TrustedFrame(src string) bool {
	src = strings.ToLower(src)
	for _, d := range c.TrustedFrameDomains {
		if d != "" && strings.Contains(src, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// SelectorGroups returns the detection selectors keyed by widget kind, in the
// form handed to the in-page detection script.
func (c *Catalog) SelectorGroups() map[string][]string {
	return map[string][]string{
		"container":      c.Containers,
		"iframe":         c.Iframes,
		"script":         c.Scripts,
		"response-field": c.ResponseFields,
	}
}

// merge returns a copy of c where every empty field is taken from base.
func (c *Catalog) merge(base *Catalog) *Catalog {
	pick := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		return b
	}
	out := &Catalog{
		Version:             c.Version,
		Containers:          pick(c.Containers, base.Containers),
		Iframes:             pick(c.Iframes, base.Iframes),
		Scripts:             pick(c.Scripts, base.Scripts),
		ResponseFields:      pick(c.ResponseFields, base.ResponseFields),
		Network:             pick(c.Network, base.Network),
		DataAttributes:      pick(c.DataAttributes, base.DataAttributes),
		TrustedFrameDomains: pick(c.TrustedFrameDomains, base.TrustedFrameDomains),
		ChallengeKeywords:   pick(c.ChallengeKeywords, base.ChallengeKeywords),
		FrameClickTargets:   pick(c.FrameClickTargets, base.FrameClickTargets),
		PageClickTargets:    pick(c.PageClickTargets, base.PageClickTargets),
		RefreshControls: RefreshControls{
			Selectors: pick(c.RefreshControls.Selectors, base.RefreshControls.Selectors),
			Texts:     pick(c.RefreshControls.Texts, base.RefreshControls.Texts),
		},
		States: StateKeywords{
			Error:   pick(c.States.Error, base.States.Error),
			Loading: pick(c.States.Loading, base.States.Loading),
			Success: pick(c.States.Success, base.States.Success),
		},
	}
	if out.Version == "" {
		out.Version = base.Version
	}
	return out
}

// defaultCatalog returns hardcoded fallback patterns.
func defaultCatalog() *Catalog {
	return &Catalog{
		Version: "builtin",
		Containers: []string{
			"div.cf-turnstile",
			".cf-turnstile",
			"[data-sitekey]",
			".turnstile-widget",
			"[class*=\"turnstile\"]",
			"[id*=\"turnstile\"]",
		},
		Iframes: []string{
			"iframe[src*=\"challenges.cloudflare.com\"]",
			"iframe[src*=\"/turnstile/\"]",
			"iframe[title*=\"cloudflare\"]",
		},
		Scripts: []string{
			"script[src*=\"challenges.cloudflare.com/turnstile\"]",
			"script[src*=\"turnstile/v0/api.js\"]",
		},
		ResponseFields: []string{
			"input[name=\"cf-turnstile-response\"]",
			"textarea[name=\"cf-turnstile-response\"]",
		},
		Network: []string{
			"challenges.cloudflare.com/turnstile",
			"challenges.cloudflare.com/cdn-cgi/challenge-platform",
		},
		DataAttributes: []string{
			"data-sitekey", "data-theme", "data-callback", "data-size",
			"data-action", "data-cdata",
		},
		TrustedFrameDomains: []string{"challenges.cloudflare.com", "/turnstile/"},
		ChallengeKeywords:   []string{"challenge", "verification"},
		FrameClickTargets: []string{
			"input[type='checkbox']",
			"button",
			"div[role='button']",
			"label",
		},
		PageClickTargets: []string{
			".cf-turnstile",
			"[data-sitekey]",
			"[class*=\"turnstile\"]",
		},
		RefreshControls: RefreshControls{
			Selectors: []string{".refresh", ".retry", ".reload", "button", "a"},
			Texts:     []string{"Try again", "Refresh"},
		},
		States: StateKeywords{
			Error:   []string{"Error", "Having trouble?", "Send Feedback"},
			Loading: []string{"Loading", "Verifying", "Please wait"},
			Success: []string{"Success", "Verified", "Complete"},
		},
	}
}
