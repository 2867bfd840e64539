package rules

import (
	"testing"

	"pgtunnel/internal/model"
)

func mustMatcher(t *testing.T, alias, host []model.TunnelRule) *Matcher {
	t.Helper()
	m, err := NewMatcher(alias, host)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFullMatchSemantics(t *testing.T) {
	m := mustMatcher(t, nil, []model.TunnelRule{{Pattern: "prod", Tunnel: "bastion"}})

	if _, ok := m.FindSpec("", "production", ""); ok {
		t.Fatal("pattern \"prod\" must not match \"production\"")
	}
	if _, ok := m.FindSpec("", "prod.example.com", ""); ok {
		t.Fatal("pattern \"prod\" must not match \"prod.example.com\"")
	}
	spec, ok := m.FindSpec("", "prod", "")
	if !ok || spec != "bastion" {
		t.Fatalf("expected exact match, got %q %v", spec, ok)
	}
}

func TestExplicitSpecOverridesRules(t *testing.T) {
	m := mustMatcher(t,
		[]model.TunnelRule{{Pattern: "prod", Tunnel: "alias-bastion"}},
		[]model.TunnelRule{{Pattern: "db1", Tunnel: "host-bastion"}},
	)
	spec, ok := m.FindSpec("explicit-bastion", "db1", "prod")
	if !ok || spec != "explicit-bastion" {
		t.Fatalf("explicit spec must win, got %q %v", spec, ok)
	}
}

func TestAliasRulesWinOverHostRules(t *testing.T) {
	m := mustMatcher(t,
		[]model.TunnelRule{{Pattern: "prod", Tunnel: "alias-bastion"}},
		[]model.TunnelRule{{Pattern: "db1", Tunnel: "host-bastion"}},
	)
	spec, ok := m.FindSpec("", "db1", "prod")
	if !ok || spec != "alias-bastion" {
		t.Fatalf("alias rule must win over host rule, got %q %v", spec, ok)
	}
}

func TestFirstMatchWinsWithinSet(t *testing.T) {
	m := mustMatcher(t, nil, []model.TunnelRule{
		{Pattern: `db\d+`, Tunnel: "first"},
		{Pattern: `db1`, Tunnel: "second"},
	})
	spec, _ := m.FindSpec("", "db1", "")
	if spec != "first" {
		t.Fatalf("expected insertion-order first match, got %q", spec)
	}
}

func TestNoMatchReturnsFalse(t *testing.T) {
	m := mustMatcher(t, nil, nil)
	if _, ok := m.FindSpec("", "localhost", "dev"); ok {
		t.Fatal("expected no match from empty rule sets")
	}
}

func TestNewMatcherRejectsBadPattern(t *testing.T) {
	if _, err := NewMatcher(nil, []model.TunnelRule{{Pattern: "(", Tunnel: "x"}}); err == nil {
		t.Fatal("expected compile error")
	}
}
