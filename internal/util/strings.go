package util

import "strings"

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
//
// This is a general-purpose "coalesce" helper used when a value might be
// missing or blank and a sensible default should be substituted.
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" if s is empty or consists entirely of whitespace;
// otherwise it returns s unchanged.
//
// Used by the CLI to display a visible placeholder when an optional field
// (such as an event's bastion or remote address) has no value, so table
// output stays readable.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}
