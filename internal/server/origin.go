package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const wildcardOrigin = "*"

// originPolicy decides which browser origins may open a websocket.
// An empty policy allows nothing; a request without an Origin header is
// always refused, even under the wildcard.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

func newOriginPolicy(origins []string, logger *zap.Logger) *originPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins)), logger: logger}
	for _, origin := range normalizeOrigins(origins, logger) {
		if origin == wildcardOrigin {
			p.allowAll = true
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	return p
}

// allows reports whether a raw Origin header value passes the policy.
func (p *originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok = p.allowed[normalized]
	return ok
}

// check is the upgrader's CheckOrigin.
func (p *originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allows(origin) {
		return true
	}
	p.logger.Warn("blocked websocket connection from disallowed origin",
		zap.String("origin", origin),
		zap.String("remote_addr", r.RemoteAddr))
	return false
}

// normalizeOrigins lowercases scheme and host, keeps the wildcard, and
// drops blank or unparsable entries.
func normalizeOrigins(origins []string, logger *zap.Logger) []string {
	normalized := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		entry := wildcardOrigin
		if trimmed != wildcardOrigin {
			var ok bool
			entry, ok = normalizeOrigin(trimmed)
			if !ok {
				logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
				continue
			}
		}

		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		normalized = append(normalized, entry)
	}

	return normalized
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
