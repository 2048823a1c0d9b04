package router

import "strings"

// sayForbidden lists characters that would let a "say" message break
// out of a single host-side print, grounded on the teacher's
// policy.MatchCommand wildcard matcher applied to a single-entry,
// no-shell-metacharacter allow pattern instead of a rule table.
const sayForbidden = ";|&$`><\n\r"

// SayAllowlist is the conservative AllowMatcher the proxy wires up for
// the host-notify tool: argv must be exactly one plain-text message
// with no shell metacharacters, since it runs on the host rather than
// inside a sidecar.
type SayAllowlist struct{}

// Match implements AllowMatcher.
func (SayAllowlist) Match(argv []string) bool {
	if len(argv) != 1 || argv[0] == "" {
		return false
	}
	return !strings.ContainsAny(argv[0], sayForbidden)
}
