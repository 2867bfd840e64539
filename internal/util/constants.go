// Package util provides common utility functions and constants used across
// the pgtunnel application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// MaxIncludeDepth is the maximum nesting level for SSH config Include
	// directives. This limit prevents infinite recursion when config files
	// form an include cycle that escapes the cycle-detection logic (e.g. via
	// symlinks that resolve to different absolute paths).
	// Used by: internal/sshconfig/parser.go (parseRecursive).
	MaxIncludeDepth = 16

	// DialTimeout bounds the TCP connect plus SSH handshake to the bastion.
	// A session that cannot be established within this window is reported as
	// failed; the caller decides whether to abort.
	// Used by: internal/tunnel/session.go.
	DialTimeout = 10 * time.Second

	// ForwardChunkSize is the relay buffer size for each direction of a
	// forwarded connection. Interactive database protocols are small-packet
	// heavy, so a modest buffer keeps latency low without hurting throughput.
	// Used by: internal/tunnel/server.go (relay).
	ForwardChunkSize = 4096

	// DefaultRefreshSeconds is the fallback interval (in seconds) for the TUI
	// dashboard's periodic tunnel status refresh, used when config.yaml has
	// an invalid or missing refresh_seconds value.
	// Used by: internal/ui/ui.go and internal/appconfig/config.go.
	DefaultRefreshSeconds = 2

	// DefaultDatabasePort is assumed when a database target omits its port.
	DefaultDatabasePort = 5432

	// DefaultSSHPort is assumed when a tunnel specification or SSH config
	// entry omits the bastion port.
	DefaultSSHPort = 22
)
