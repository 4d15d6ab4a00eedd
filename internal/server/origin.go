// Package server checks the Origin header of WebSocket upgrades against the
// configured allow list.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a WebSocket. Entries are
// kept in canonical scheme://host form.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy builds a policy from configured origins. A "*" entry allows
// every origin; blank and unparsable entries are logged and skipped.
func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, entry := range origins {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			policy.allowAll = true
			continue
		}

		canonical, ok := canonicalOrigin(entry)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", entry)
			continue
		}
		policy.allowed[canonical] = struct{}{}
	}
	return policy
}

// canonicalOrigin lowercases scheme and host and drops any path or query.
func canonicalOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (p originPolicy) allows(originHeader string) bool {
	if p.allowAll {
		return true
	}
	if originHeader == "" {
		return false
	}

	canonical, ok := canonicalOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := p.allowed[canonical]
	return exists
}

func (p originPolicy) checkOrigin(r *http.Request) bool {
	if p.allows(r.Header.Get("Origin")) {
		return true
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", r.Header.Get("Origin"))
	return false
}
