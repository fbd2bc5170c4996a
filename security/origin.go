// Package security holds the checks applied to every inbound message before it reaches
// protocol dispatch: origin allowlisting, per-origin rate limiting and frame shape
// validation, plus the correlation ID generator.
//
// Failures are reported as a Rejection kind so callers can log and count drops; nothing
// here is ever reported back to the sender.
package security

import (
	"regexp"
	"strings"
)

// Wildcard as an allowlist entry disables origin validation.
const Wildcard = "*"

// OriginMatcher decides whether a sender origin is on the allowlist. Entries are exact
// origins or patterns where '*' matches any substring ("https://*.example.com"). Patterns
// are anchored at both ends, so "https://a.example" never matches
// "https://a.example.evil.net".
type OriginMatcher struct {
	any      bool
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewOriginMatcher compiles an allowlist. An empty list, or one containing "*", allows
// every origin.
func NewOriginMatcher(allowed []string) *OriginMatcher {
	m := &OriginMatcher{exact: make(map[string]struct{})}
	if len(allowed) == 0 {
		m.any = true
		return m
	}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == Wildcard:
			m.any = true
		case strings.Contains(entry, Wildcard):
			m.patterns = append(m.patterns, compilePattern(entry))
		case entry != "":
			m.exact[entry] = struct{}{}
		}
	}
	return m
}

func compilePattern(entry string) *regexp.Regexp {
	parts := strings.Split(entry, Wildcard)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// AllowsAll reports whether validation is switched off.
func (m *OriginMatcher) AllowsAll() bool { return m.any }

func (m *OriginMatcher) Allowed(origin string) bool {
	if m.any {
		return true
	}
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, p := range m.patterns {
		if p.MatchString(origin) {
			return true
		}
	}
	return false
}
