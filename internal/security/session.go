package security

import "regexp"

// MaxSessionIDLength bounds identifiers accepted from clients.
const MaxSessionIDLength = 64

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidSessionID reports whether id could have been issued by the local
// server. Anything else is refused before the session table is consulted.
func ValidSessionID(id string) bool {
	return id != "" && len(id) <= MaxSessionIDLength && sessionIDPattern.MatchString(id)
}
