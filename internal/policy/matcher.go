package policy

import (
	"strings"

	"github.com/niyambadha/watchd/internal/domain"
)

// IsBlocked reports whether a normalized domain matches the user's blocklist.
// With BlockEntireDomain set, an entry "x.com" also matches any subdomain
// ("m.x.com"); otherwise only exact matches count. An empty blocklist never
// matches.
func IsBlocked(host string, cfg *domain.UserConfig) bool {
	if cfg == nil || len(cfg.BlockedDomains) == 0 {
		return false
	}

	d := Normalize(host)
	for _, entry := range cfg.BlockedDomains {
		blocked := Normalize(entry)
		if blocked == "" {
			continue
		}
		if d == blocked {
			return true
		}
		if cfg.BlockEntireDomain && strings.HasSuffix(d, "."+blocked) {
			return true
		}
	}
	return false
}

// IsBlockedURL is IsBlocked applied to a raw URL.
// Malformed URLs fail open: not blocked.
func IsBlockedURL(raw string, cfg *domain.UserConfig) bool {
	d, err := DomainFromURL(raw)
	if err != nil {
		return false
	}
	return IsBlocked(d, cfg)
}
