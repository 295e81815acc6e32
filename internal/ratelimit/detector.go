// Package ratelimit recognises Cloudflare block and rate-limit pages, which
// no amount of widget solving will clear.
package ratelimit

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxScanLen bounds how much of a page body the patterns run over.
const maxScanLen = 100 * 1024

// Category is the broad kind of block.
type Category string

// Block categories.
const (
	CategoryRateLimit    Category = "rate_limit"
	CategoryAccessDenied Category = "access_denied"
	CategoryGeoBlocked   Category = "geo_blocked"
)

// Info describes a detected block. The zero value means none was found.
type Info struct {
	Detected       bool          `json:"detected"`
	Code           string        `json:"code,omitempty"`
	Category       Category      `json:"category,omitempty"`
	SuggestedDelay time.Duration `json:"suggested_delay,omitempty"`
	Description    string        `json:"description,omitempty"`
}

// Retryable reports whether waiting SuggestedDelay could help.
func (i Info) Retryable() bool {
	return i.Detected && i.Category != CategoryGeoBlocked
}

type pattern struct {
	re   *regexp.Regexp
	info Info
}

// cfErrorCodes are the Cloudflare 10xx error pages, most specific first.
var cfErrorCodes = []struct {
	code        int
	category    Category
	delay       time.Duration
	description string
}{
	{1015, CategoryRateLimit, time.Minute, "Cloudflare rate limit exceeded"},
	{1020, CategoryAccessDenied, 30 * time.Second, "Cloudflare access denied - suspicious request"},
	{1006, CategoryAccessDenied, 30 * time.Second, "Cloudflare access denied"},
	{1007, CategoryAccessDenied, 30 * time.Second, "Cloudflare access denied"},
	{1008, CategoryAccessDenied, 30 * time.Second, "Cloudflare access denied"},
	{1009, CategoryGeoBlocked, 0, "Cloudflare geo-restriction"},
	{1010, CategoryAccessDenied, 30 * time.Second, "Cloudflare browser signature rejected"},
	{1012, CategoryAccessDenied, 30 * time.Second, "Cloudflare access denied"},
}

// [^<]{0,N} keeps matches inside one text node and avoids backtracking
// across the whole document.
var patterns = buildPatterns()

func buildPatterns() []pattern {
	out := make([]pattern, 0, len(cfErrorCodes)+4)
	for _, c := range cfErrorCodes {
		out = append(out, pattern{
			re: regexp.MustCompile(fmt.Sprintf(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}%d`, c.code)),
			info: Info{
				Detected:       true,
				Code:           fmt.Sprintf("CF_%d", c.code),
				Category:       c.category,
				SuggestedDelay: c.delay,
				Description:    c.description,
			},
		})
	}
	generic := []struct {
		expr string
		info Info
	}{
		{`(?i)access\s{1,5}denied`, Info{Code: "ACCESS_DENIED", Category: CategoryAccessDenied, SuggestedDelay: 5 * time.Second, Description: "Generic access denied"}},
		{`(?i)rate\s{0,3}limit`, Info{Code: "RATE_LIMITED", Category: CategoryRateLimit, SuggestedDelay: 10 * time.Second, Description: "Generic rate limit"}},
		{`(?i)too\s{1,5}many\s{1,5}requests`, Info{Code: "TOO_MANY_REQUESTS", Category: CategoryRateLimit, SuggestedDelay: 10 * time.Second, Description: "Too many requests"}},
		{`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`, Info{Code: "BLOCKED", Category: CategoryAccessDenied, SuggestedDelay: 15 * time.Second, Description: "Request blocked"}},
	}
	for _, g := range generic {
		g.info.Detected = true
		out = append(out, pattern{re: regexp.MustCompile(g.expr), info: g.info})
	}
	return out
}

// Detect inspects a response status and body. Pass status 0 when only the
// rendered page is known. Body patterns win over the status code.
func Detect(status int, body string) Info {
	if len(body) > maxScanLen {
		body = body[:maxScanLen]
	}

	for _, p := range patterns {
		if p.re.MatchString(body) {
			return p.info
		}
	}

	switch status {
	case 429:
		return Info{Detected: true, Code: "HTTP_429", Category: CategoryRateLimit, SuggestedDelay: time.Minute, Description: "HTTP 429 Too Many Requests"}
	case 503:
		return Info{Detected: true, Code: "HTTP_503", Category: CategoryRateLimit, SuggestedDelay: 30 * time.Second, Description: "HTTP 503 Service Unavailable"}
	case 403:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "cloudflare") && !isChallenge(lower) {
			return Info{Detected: true, Code: "CF_403", Category: CategoryAccessDenied, SuggestedDelay: 30 * time.Second, Description: "Cloudflare 403 Forbidden"}
		}
	}
	return Info{}
}

// isChallenge reports whether a lowercased body serves a solvable challenge
// rather than a hard block.
func isChallenge(lower string) bool {
	return strings.Contains(lower, "challenges.cloudflare.com") || strings.Contains(lower, "cf-turnstile")
}
