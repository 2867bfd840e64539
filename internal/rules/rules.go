// Package rules selects a tunnel specification for a database connection by
// matching configured patterns against the target's alias or host.
package rules

import (
	"fmt"
	"log/slog"
	"regexp"

	"pgtunnel/internal/model"
)

type rule struct {
	pattern *regexp.Regexp
	raw     string
	tunnel  string
}

// Matcher holds the two compiled ordered rule sets. Within a set the first
// full match wins; alias rules always take precedence over host rules.
type Matcher struct {
	alias []rule
	host  []rule
}

// NewMatcher compiles both rule sets, preserving their configured order.
func NewMatcher(aliasRules, hostRules []model.TunnelRule) (*Matcher, error) {
	m := &Matcher{}
	var err error
	if m.alias, err = compile(aliasRules); err != nil {
		return nil, fmt.Errorf("alias rules: %w", err)
	}
	if m.host, err = compile(hostRules); err != nil {
		return nil, fmt.Errorf("host rules: %w", err)
	}
	return m, nil
}

func compile(in []model.TunnelRule) ([]rule, error) {
	out := make([]rule, 0, len(in))
	for _, r := range in {
		re, err := compileFull(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", r.Pattern, err)
		}
		out = append(out, rule{pattern: re, raw: r.Pattern, tunnel: r.Tunnel})
	}
	return out, nil
}

// compileFull anchors the pattern so it must match the entire candidate
// string: "prod" matches "prod" but never "production" or "prod.example.com".
func compileFull(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + pattern + `)\z`)
}

// FindSpec returns the tunnel specification for the given connection.
// Precedence, highest first: an explicitly supplied specification, then the
// alias rule set tested against alias, then the host rule set tested against
// host. Returns false when nothing matches, meaning no tunnel is needed.
func (m *Matcher) FindSpec(explicit, host, alias string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if alias != "" {
		for _, r := range m.alias {
			if r.pattern.MatchString(alias) {
				slog.Debug("tunnel rule matched alias",
					"alias", alias, "pattern", r.raw, "tunnel", r.tunnel)
				return r.tunnel, true
			}
		}
	}
	if host != "" {
		for _, r := range m.host {
			if r.pattern.MatchString(host) {
				slog.Debug("tunnel rule matched host",
					"host", host, "pattern", r.raw, "tunnel", r.tunnel)
				return r.tunnel, true
			}
		}
	}
	return "", false
}
