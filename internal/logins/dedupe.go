package logins

import (
	"net/url"
	"strings"
)

// IsDuplicate implements the duplicate predicate from spec.md §4.1: two
// logins are duplicates iff they share origin, non-empty username, and
// either identical http-realm or a matching form-action-origin.
//
// Matching is a deliberate historical quirk, preserved exactly per the
// Open Question in spec.md §9: it is true iff the *candidate's*
// normalized host:port appears anywhere as a substring of the
// *existing* record's stored form-action-origin — not an equality
// check. This can produce surprising matches for unusual URLs; do not
// "fix" it without the embedding product's sign-off.
func IsDuplicate(candidate, existing Login) bool {
	if candidate.ID != "" && candidate.ID == existing.ID {
		return false
	}
	if candidate.Hostname != existing.Hostname {
		return false
	}
	if candidate.Username == "" || candidate.Username != existing.Username {
		return false
	}
	if candidate.HTTPRealm != "" || existing.HTTPRealm != "" {
		return candidate.HTTPRealm == existing.HTTPRealm
	}
	hostPort := hostPortOf(candidate.FormActionOrigin)
	if hostPort == "" {
		return false
	}
	return strings.Contains(existing.FormActionOrigin, hostPort)
}

// hostPortOf extracts "host[:port]" from a normalized origin string for
// use as the dedupe substring needle.
func hostPortOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// FindDuplicate scans candidates for the first one IsDuplicate reports
// true against target, excluding target's own id. Returns ok=false if
// none match.
func FindDuplicate(target Login, candidates []Login) (Login, bool) {
	for _, c := range candidates {
		if IsDuplicate(target, c) {
			return c, true
		}
	}
	return Login{}, false
}

func dedupeCheckErr(target Login, candidates []Login) error {
	if _, found := FindDuplicate(target, candidates); found {
		return duplicate()
	}
	return nil
}
