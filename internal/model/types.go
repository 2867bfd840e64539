package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TunnelRule pairs a full-match regular expression with the tunnel
// specification to use when the pattern matches. Rules are kept in the order
// they appear in config.yaml; the first full match wins.
type TunnelRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Tunnel  string `yaml:"tunnel" json:"tunnel"`
}

// TunnelSpec is a parsed tunnel specification: the bastion host to establish
// the SSH session through, plus optional credentials. Port is zero when the
// specification omitted it; resolution fills in the SSH config port or the
// default 22, so the spec is fully specified once resolved.
type TunnelSpec struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"-"`
}

// Addr returns the bastion dial address in host:port form, assuming the
// default SSH port when none was supplied.
func (s TunnelSpec) Addr() string {
	port := s.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

func (s TunnelSpec) String() string {
	if s.User != "" {
		return fmt.Sprintf("%s@%s", s.User, s.Addr())
	}
	return s.Addr()
}

// HostKeyPolicy governs acceptance of a bastion host key that is not present
// in known_hosts. A key that contradicts an existing known_hosts entry is
// refused under every policy.
type HostKeyPolicy string

const (
	// HostKeyAutoAdd accepts unknown host keys and records them in known_hosts.
	HostKeyAutoAdd HostKeyPolicy = "auto-add"
	// HostKeyWarn accepts unknown host keys with a logged warning, without
	// recording them.
	HostKeyWarn HostKeyPolicy = "warn"
	// HostKeyReject refuses unknown host keys.
	HostKeyReject HostKeyPolicy = "reject"
)

// ParseHostKeyPolicy normalizes a configured policy string. Matching is
// case-insensitive and unrecognized values fall back to auto-add.
func ParseHostKeyPolicy(s string) HostKeyPolicy {
	switch HostKeyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case HostKeyWarn:
		return HostKeyWarn
	case HostKeyReject:
		return HostKeyReject
	default:
		return HostKeyAutoAdd
	}
}

// ConnectionParams are the fully resolved parameters for establishing one
// SSH session: the tunnel specification merged with the user's OpenSSH
// client configuration.
type ConnectionParams struct {
	Hostname       string
	Port           int
	User           string
	Password       string
	IdentityFiles  []string
	ProxyCommand   string
	AllowAgent     bool
	HostKeyPolicy  HostKeyPolicy
	KnownHostsPath string
}

// Addr returns the bastion dial address in host:port form.
func (p ConnectionParams) Addr() string {
	return net.JoinHostPort(p.Hostname, strconv.Itoa(p.Port))
}

// SessionState tracks the lifecycle of an SSH session. Stopped is terminal.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionActive     SessionState = "active"
	SessionStopped    SessionState = "stopped"
)

// DatabaseTarget is a named database endpoint from config.yaml. The name
// doubles as the alias fed to the tunnel rule matcher, mirroring how DSN
// aliases select tunnels in database clients.
type DatabaseTarget struct {
	Name string `yaml:"name" json:"name"`
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (d DatabaseTarget) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// TunnelStatus is a read-only snapshot of the manager's current tunnel, used
// by the CLI and TUI for display.
type TunnelStatus struct {
	State      SessionState `json:"state"`
	Bastion    string       `json:"bastion,omitempty"`
	LocalAddr  string       `json:"local_addr,omitempty"`
	RemoteHost string       `json:"remote_host,omitempty"`
	RemotePort int          `json:"remote_port,omitempty"`
	StartedAt  time.Time    `json:"-"`
	UptimeSec  int64        `json:"uptime_seconds,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
}
