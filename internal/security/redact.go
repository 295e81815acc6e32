package security

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveParams are substrings of query parameter names that likely carry
// secrets. Turnstile response tokens travel as cf-turnstile-response.
var sensitiveParams = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"clientkey",
	"auth",
	"session",
	"response",
	"cdata",
}

// RedactURL strips credentials and secret-looking query values from a URL
// for logging.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}
	if parsed.User != nil {
		parsed.User = url.User(redacted)
	}
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for key := range q {
			lower := strings.ToLower(key)
			for _, p := range sensitiveParams {
				if strings.Contains(lower, p) {
					q[key] = []string{redacted}
					break
				}
			}
		}
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

// RedactProxyURL hides the password of a proxy URL, keeping the username.
func RedactProxyURL(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return "[invalid-proxy-url]"
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), redacted)
		}
	}
	return parsed.String()
}
