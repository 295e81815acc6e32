// Package version reports the build version. Version and Commit are set with
// -ldflags "-X github.com/Rorqualx/turnstile-solver-go/pkg/version.Version=1.2.0
// -X github.com/Rorqualx/turnstile-solver-go/pkg/version.Commit=abc1234".
package version

import "runtime"

var (
	Version = "dev"
	Commit  = ""
)

// UserAgent is sent by HTTP fetches made outside the browser. It tracks the
// Chrome major version the launcher drives.
var UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// Full returns the version, with the short commit when known.
func Full() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 7 {
		c = c[:7]
	}
	return Version + "+" + c
}

// GoVersion returns the Go runtime version.
func GoVersion() string {
	return runtime.Version()
}
