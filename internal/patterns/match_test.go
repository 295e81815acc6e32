package patterns

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func firstStartTag(t *testing.T, markup string) html.Token {
	t.Helper()
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			t.Fatalf("no start tag in %q", markup)
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			return z.Token()
		}
	}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		sel     string
		tag     string
		conds   int
		wantErr bool
	}{
		{"div.cf-turnstile", "div", 1, false},
		{"[data-sitekey]", "", 1, false},
		{"*[data-sitekey]", "", 1, false},
		{`input[type="checkbox"][id*=cf-chl]`, "input", 2, false},
		{`iframe[src*='challenges.cloudflare.com']`, "iframe", 1, false},
		{`div[data-sitekey^="0x" i]`, "div", 1, false},
		{"#widget.a.b", "", 3, false},
		{".challenge-form input", "", 0, true},
		{"a:hover", "", 0, true},
		{"[data-x", "", 0, true},
		{`[data-x="abc]`, "", 0, true},
		{"", "", 0, true},
	}
	for _, tt := range tests {
		c, err := parseSelector(tt.sel)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseSelector(%q) expected error", tt.sel)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSelector(%q) error = %v", tt.sel, err)
			continue
		}
		if c.tag != tt.tag || len(c.conds) != tt.conds {
			t.Errorf("parseSelector(%q) = tag %q, %d conds", tt.sel, c.tag, len(c.conds))
		}
	}
}

func TestCompoundMatches(t *testing.T) {
	tests := []struct {
		sel    string
		markup string
		want   bool
	}{
		{"div.cf-turnstile", `<div class="x cf-turnstile">`, true},
		{"div.cf-turnstile", `<span class="cf-turnstile">`, false},
		{".CF-Turnstile", `<div class="cf-turnstile">`, true},
		{"[data-sitekey]", `<div DATA-SITEKEY="1x">`, true},
		{`[data-sitekey^="0x"]`, `<div data-sitekey="0X4AAA">`, true},
		{`[data-sitekey^="0x"]`, `<div data-sitekey="1x4AAA">`, false},
		{`iframe[src*="challenges.cloudflare.com"]`, `<iframe src="https://challenges.cloudflare.com/x">`, true},
		{`script[src$="api.js"]`, `<script src="/turnstile/v0/api.js">`, true},
		{`input[type="checkbox"][id*="cf-chl"]`, `<input type="checkbox" id="cf-chl-widget">`, true},
		{`input[type="checkbox"][id*="cf-chl"]`, `<input type="text" id="cf-chl-widget">`, false},
		{`[class*=""]`, `<div class="a">`, false},
		{`[lang|="en"]`, `<p lang="en-US">`, true},
		{"#main", `<div id="main">`, true},
	}
	for _, tt := range tests {
		c, err := parseSelector(tt.sel)
		if err != nil {
			t.Fatalf("parseSelector(%q) error = %v", tt.sel, err)
		}
		if got := c.matches(firstStartTag(t, tt.markup)); got != tt.want {
			t.Errorf("%q on %s = %v, want %v", tt.sel, tt.markup, got, tt.want)
		}
	}
}
