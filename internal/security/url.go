// Package security validates user-supplied URLs and identifiers and redacts
// secrets before they reach the logs.
package security

import (
	"errors"
	"net/url"
	"strings"
)

// URL validation errors.
var (
	ErrInvalidURL         = errors.New("invalid URL")
	ErrBlockedScheme      = errors.New("URL scheme not allowed")
	ErrInvalidProxyURL    = errors.New("invalid proxy URL")
	ErrBlockedProxyScheme = errors.New("proxy URL scheme not allowed (must be http, https, socks4, or socks5)")
)

var targetSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

var proxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// ValidateTargetURL checks that rawURL is an absolute http(s) URL with a host.
// Loopback and private hosts are allowed: test pages are usually served locally.
func ValidateTargetURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if !targetSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}
	if parsed.Hostname() == "" {
		return ErrInvalidURL
	}
	return nil
}

// ValidateProxyURL checks a proxy URL for the browser. An empty URL means no
// proxy and is valid.
func ValidateProxyURL(proxyURL string) error {
	if proxyURL == "" {
		return nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return ErrInvalidProxyURL
	}
	if !proxySchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedProxyScheme
	}
	if parsed.Host == "" {
		return ErrInvalidProxyURL
	}
	return nil
}
