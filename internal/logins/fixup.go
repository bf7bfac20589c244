package logins

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ValidateAndFixup applies the normalization and validation rules from
// spec.md §4.1, in order: NUL checks, origin normalization, password
// check, target-field resolution, form-action-origin coercion, then
// field-name legality and timestamp clamping. It is idempotent: ValidateAndFixup(ValidateAndFixup(x)) ==
// ValidateAndFixup(x) for every x that passes (spec.md §8).
func ValidateAndFixup(in Login) (Login, error) {
	out := in

	if strings.ContainsRune(out.Hostname, 0) ||
		strings.ContainsRune(out.HTTPRealm, 0) ||
		strings.ContainsRune(out.FormActionOrigin, 0) ||
		strings.ContainsRune(out.Username, 0) ||
		strings.ContainsRune(out.Password, 0) ||
		strings.ContainsRune(out.UsernameField, 0) ||
		strings.ContainsRune(out.PasswordField, 0) {
		return Login{}, malformed("field contains NUL byte")
	}

	normalized, err := normalizeOrigin(out.Hostname)
	if err != nil {
		return Login{}, malformed(fmt.Sprintf("invalid origin: %v", err))
	}
	out.Hostname = normalized

	if out.Password == "" {
		return Login{}, malformed("empty password")
	}

	// Exactly one of {HTTPRealm, FormActionOrigin}. Fixup strips
	// HTTPRealm when both are present rather than failing.
	switch {
	case out.HTTPRealm != "" && out.FormActionOrigin != "":
		out.HTTPRealm = ""
	case out.HTTPRealm == "" && out.FormActionOrigin == "":
		return Login{}, malformed("neither httpRealm nor formActionOrigin set")
	}

	// "." is coerced to empty string; the literal "javascript:" passes
	// through unchanged (spec.md §4.1).
	if out.FormActionOrigin == "." {
		out.FormActionOrigin = ""
		if out.HTTPRealm == "" {
			return Login{}, malformed("formActionOrigin coerced to empty and no httpRealm set")
		}
	}

	if out.FormActionOrigin == "" {
		if out.UsernameField != "" || out.PasswordField != "" {
			return Login{}, malformed("usernameField/passwordField set without formActionOrigin")
		}
	} else if out.FormActionOrigin != "javascript:" {
		normalizedAction, err := normalizeOrigin(out.FormActionOrigin)
		if err != nil {
			return Login{}, malformed(fmt.Sprintf("invalid formActionOrigin: %v", err))
		}
		out.FormActionOrigin = normalizedAction
	}
	if strings.ContainsAny(out.UsernameField, "\r\n") || strings.ContainsAny(out.PasswordField, "\r\n") {
		return Login{}, malformed("usernameField/passwordField contains a newline")
	}
	if out.UsernameField == "." {
		return Login{}, malformed(`usernameField may not be "."`)
	}

	if out.TimeCreated < 0 {
		out.TimeCreated = 0
	}
	if out.TimeLastUsed < 0 {
		out.TimeLastUsed = 0
	}
	if out.TimePasswordChanged < 0 {
		out.TimePasswordChanged = 0
	}
	if out.TimesUsed < 0 {
		out.TimesUsed = 0
	}

	return out, nil
}

// normalizeOrigin parses raw as a URL and reduces it to scheme+host+port,
// stripping the trailing slash, per spec.md §4.1. file:// URLs always
// normalize to exactly "file://". Non-ASCII hosts are punycoded.
func normalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		if u.Scheme == "file" {
			return "file://", nil
		}
		return "", fmt.Errorf("origin %q has no scheme/host", raw)
	}
	if u.Scheme == "file" {
		return "file://", nil
	}

	host := u.Hostname()
	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// idna rejects some already-ASCII hosts with punctuation that
		// real-world origins still use (e.g. localhost, IPs); fall back
		// to the original host rather than failing validation outright.
		asciiHost = host
	}

	port := u.Port()
	origin := u.Scheme + "://" + asciiHost
	if port != "" {
		origin += ":" + port
	}
	return origin, nil
}
