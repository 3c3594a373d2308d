// Package policy decides whether a URL is subject to watch-time enforcement.
// It holds the domain normalizer and the blocklist matcher; both are pure,
// no I/O.
package policy

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize produces the canonical comparison key for a hostname:
// trimmed, lowercased, leading "www." label stripped.
func Normalize(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	h = strings.TrimPrefix(h, "www.")
	return h
}

// DomainFromURL extracts and normalizes the domain of a raw URL.
// A parse failure is returned to the caller, which must treat it as
// "not blocked" on the enforcement path rather than propagating it.
func DomainFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return Normalize(host), nil
}
