package sitekey

import "regexp"

var extractPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)data-sitekey=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)"sitekey":\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)sitekey:\s*["']([^"']+)["']`),
}

// Extract returns the distinct candidate sitekeys found in markup or script
// text. Obvious non-keys (too short, the literal
// YOUR_SITE_KEY) are dropped; everything else is left for Validate.
func Extract(markup string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, re := range extractPatterns {
		for _, m := range re.FindAllStringSubmatch(markup, -1) {
			k := m[1]
			if len(k) < 10 || k == "YOUR_SITE_KEY" || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
