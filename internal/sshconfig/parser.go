// Package sshconfig reads the user's OpenSSH client configuration and
// resolves the directives relevant to tunnel establishment for a single
// bastion host: HostName rewrites, default user and port, ProxyCommand, and
// the ordered IdentityFile list.
package sshconfig

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pgtunnel/internal/util"
)

// HostConfig holds the directives resolved for one host. Zero values mean
// the config supplied nothing for that directive.
type HostConfig struct {
	HostName      string
	User          string
	Port          int
	ProxyCommand  string
	IdentityFiles []string
}

// File is a parsed SSH client config: the Host blocks in file order, with
// Include directives already expanded in place.
type File struct {
	blocks   []block
	Warnings []string
}

type block struct {
	patterns []string
	values   map[string][]string
	source   string
}

// Load parses a single root SSH config and expands Include directives.
// A missing file is not an error; it yields an empty File with a warning.
func Load(path string) (*File, error) {
	seen := map[string]bool{}
	blocks, warnings, err := parseRecursive(path, seen, 0)
	if err != nil {
		return nil, err
	}
	return &File{blocks: blocks, Warnings: warnings}, nil
}

func parseRecursive(path string, seen map[string]bool, depth int) ([]block, []string, error) {
	if depth > util.MaxIncludeDepth {
		return nil, nil, fmt.Errorf("include depth exceeded at %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	if seen[abs] {
		return nil, []string{fmt.Sprintf("include cycle skipped: %s", abs)}, nil
	}
	seen[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, []string{fmt.Sprintf("config file not found: %s", abs)}, nil
		}
		return nil, nil, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	var (
		blocks      []block
		warnings    []string
		current     = block{patterns: []string{"*"}, values: map[string][]string{}, source: abs}
		hasHostDecl bool
	)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripInlineComment(line)
		if line == "" {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d invalid directive", abs, lineNo))
			continue
		}
		lowerKey := strings.ToLower(key)

		switch lowerKey {
		case "include":
			for _, pattern := range strings.Fields(value) {
				incPattern := util.ExpandHome(pattern)
				if !filepath.IsAbs(incPattern) {
					incPattern = filepath.Join(filepath.Dir(abs), incPattern)
				}
				matches, globErr := filepath.Glob(incPattern)
				if globErr != nil {
					warnings = append(warnings, fmt.Sprintf("%s:%d bad include pattern %q", abs, lineNo, pattern))
					continue
				}
				if len(matches) == 0 {
					warnings = append(warnings, fmt.Sprintf("%s:%d include matched nothing: %q", abs, lineNo, pattern))
				}
				sort.Strings(matches)
				for _, m := range matches {
					childBlocks, childWarnings, childErr := parseRecursive(m, seen, depth+1)
					warnings = append(warnings, childWarnings...)
					if childErr != nil {
						warnings = append(warnings, fmt.Sprintf("include %s failed: %v", m, childErr))
						continue
					}
					blocks = append(blocks, childBlocks...)
				}
			}
		case "host":
			if hasHostDecl || len(current.values) > 0 {
				blocks = append(blocks, current)
			}
			patterns := strings.Fields(value)
			if len(patterns) == 0 {
				warnings = append(warnings, fmt.Sprintf("%s:%d Host missing patterns", abs, lineNo))
				patterns = []string{"*"}
			}
			current = block{patterns: patterns, values: map[string][]string{}, source: abs}
			hasHostDecl = true
		default:
			current.values[lowerKey] = append(current.values[lowerKey], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("scan %s: %w", abs, err)
	}

	if hasHostDecl || len(current.values) > 0 {
		blocks = append(blocks, current)
	}
	return blocks, warnings, nil
}

// Lookup resolves the tunnel-relevant directives for the given host.
//
// Scalar directives follow OpenSSH first-obtained-wins semantics across
// matching blocks in file order. IdentityFile entries accumulate, with
// entries from blocks that name the host concretely placed before entries
// from wildcard-pattern blocks; order is preserved within each group. Paths
// are returned with ~ expanded but without any existence check (the caller
// decides what to do with missing files).
func (f *File) Lookup(host string) HostConfig {
	var hc HostConfig
	if f == nil {
		return hc
	}

	var wildcardIdentities []string
	for _, b := range f.blocks {
		specific, ok := matchKind(host, b.patterns)
		if !ok {
			continue
		}
		if hc.HostName == "" {
			hc.HostName = firstValue(b, "hostname")
		}
		if hc.User == "" {
			hc.User = firstValue(b, "user")
		}
		if hc.Port == 0 {
			if v := firstValue(b, "port"); v != "" {
				if p, err := strconv.Atoi(v); err == nil && util.ValidatePort(p) == nil {
					hc.Port = p
				}
			}
		}
		if hc.ProxyCommand == "" {
			hc.ProxyCommand = firstValue(b, "proxycommand")
		}
		for _, id := range b.values["identityfile"] {
			id = util.ExpandHome(id)
			if specific {
				hc.IdentityFiles = append(hc.IdentityFiles, id)
			} else {
				wildcardIdentities = append(wildcardIdentities, id)
			}
		}
	}
	hc.IdentityFiles = append(hc.IdentityFiles, wildcardIdentities...)
	return hc
}

// AllIdentityFiles returns every IdentityFile mentioned anywhere in the
// config, deduplicated, with ~ expanded. Used for posture checks rather
// than connection resolution.
func (f *File) AllIdentityFiles() []string {
	if f == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, b := range f.blocks {
		for _, id := range b.values["identityfile"] {
			id = util.ExpandHome(id)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func firstValue(b block, key string) string {
	if vals := b.values[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// matchKind reports whether the host matches the block's patterns and, if
// so, whether the match came from a concrete (non-wildcard) pattern. A
// negated pattern match excludes the block entirely.
func matchKind(host string, patterns []string) (specific, matched bool) {
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		pat := strings.TrimPrefix(p, "!")
		ok := globMatch(host, pat)
		if !ok {
			continue
		}
		if negated {
			return false, false
		}
		matched = true
		if !strings.ContainsAny(pat, "*?") {
			specific = true
		}
	}
	return specific, matched
}

func globMatch(host, pattern string) bool {
	if pattern == "" {
		return false
	}
	ok, err := filepath.Match(pattern, host)
	if err != nil {
		return false
	}
	return ok
}

func splitDirective(line string) (key, value string, ok bool) {
	if i := strings.IndexAny(line, " \t"); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	if i := strings.Index(line, "="); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	return "", "", false
}

func stripInlineComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}
