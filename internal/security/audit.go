package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pgtunnel/internal/appconfig"
	"pgtunnel/internal/model"
	"pgtunnel/internal/sshconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects local pgtunnel and OpenSSH file posture.
func RunLocalAudit() (AuditReport, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return AuditReport{}, err
	}

	var findings []Finding
	if cfg.Policy() == model.HostKeyWarn {
		findings = append(findings, Finding{
			Severity:       SeverityMedium,
			Target:         "config.yaml",
			Message:        "host key policy accepts unknown hosts without recording them",
			Recommendation: "set host_key_policy to auto-add or reject",
		})
	}
	for _, set := range []struct {
		name  string
		rules []model.TunnelRule
	}{
		{"alias_tunnels", cfg.AliasTunnels},
		{"host_tunnels", cfg.HostTunnels},
	} {
		for _, r := range set.rules {
			if tunnelSpecHasPassword(r.Tunnel) {
				findings = append(findings, Finding{
					Severity:       SeverityHigh,
					Target:         "config.yaml",
					Message:        fmt.Sprintf("%s rule %q embeds a password in its tunnel specification", set.name, r.Pattern),
					Recommendation: "use key or agent authentication instead of an embedded password",
				})
			}
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		checkPathPerm(&findings, filepath.Join(home, ".ssh"), 0o700, false)
	}
	checkPathPerm(&findings, cfg.SSHConfigFile(), 0o600, true)
	checkPathPerm(&findings, cfg.KnownHostsFile(), 0o600, true)

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "events.jsonl"), 0o600, true)
	}

	if f, err := sshconfig.Load(cfg.SSHConfigFile()); err == nil {
		for _, identity := range f.AllIdentityFiles() {
			checkPathPerm(&findings, identity, 0o600, true)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
}

// tunnelSpecHasPassword reports whether a raw tunnel specification carries a
// password in userinfo position.
func tunnelSpecHasPassword(spec string) bool {
	spec = strings.TrimSpace(spec)
	at := strings.Index(spec, "@")
	if at < 0 {
		return false
	}
	userinfo := spec[:at]
	if idx := strings.Index(userinfo, "://"); idx >= 0 {
		userinfo = userinfo[idx+3:]
	}
	return strings.Contains(userinfo, ":")
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode > max {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
