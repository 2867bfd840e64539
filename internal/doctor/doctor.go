package doctor

import (
	"os"
	"sort"

	"pgtunnel/internal/appconfig"
	"pgtunnel/internal/security"
	"pgtunnel/internal/sshconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes local diagnostics for pgtunnel operations.
func Run() (Report, error) {
	var issues []Issue

	cfg, err := appconfig.Load()
	if err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "config-load",
			Target:         "config.yaml",
			Message:        err.Error(),
			Recommendation: "fix or remove the broken configuration file",
		})
	} else {
		issues = append(issues, identityIssues(cfg)...)

		f, err := sshconfig.Load(cfg.SSHConfigFile())
		if err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "ssh-config",
				Target:         cfg.SSHConfigFile(),
				Message:        err.Error(),
				Recommendation: "fix the SSH client configuration",
			})
		} else {
			for _, w := range f.Warnings {
				issues = append(issues, Issue{
					Severity:       SeverityLow,
					Check:          "ssh-config-warning",
					Target:         cfg.SSHConfigFile(),
					Message:        w,
					Recommendation: "fix malformed or unsupported SSH config directives",
				})
			}
		}

		if cfg.AllowAgent && os.Getenv("SSH_AUTH_SOCK") == "" {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "ssh-agent",
				Target:         "SSH_AUTH_SOCK",
				Message:        "agent authentication is enabled but no agent socket is present",
				Recommendation: "start ssh-agent or disable allow_agent",
			})
		}
	}

	if audit, err := security.RunLocalAudit(); err == nil {
		for _, f := range audit.Findings {
			sev := SeverityLow
			if f.Severity == security.SeverityMedium {
				sev = SeverityMedium
			}
			if f.Severity == security.SeverityHigh {
				sev = SeverityHigh
			}
			issues = append(issues, Issue{
				Severity:       sev,
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

// identityIssues flags IdentityFile entries that point at nothing. Missing
// files are skipped silently during connection resolution, so a typo here
// surfaces only as an authentication failure without this check.
func identityIssues(cfg appconfig.Config) []Issue {
	f, err := sshconfig.Load(cfg.SSHConfigFile())
	if err != nil {
		return nil
	}
	var issues []Issue
	for _, identity := range f.AllIdentityFiles() {
		if _, err := os.Stat(identity); os.IsNotExist(err) {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "identity-file",
				Target:         identity,
				Message:        "identity file referenced by SSH config does not exist",
				Recommendation: "create the key or remove the IdentityFile directive",
			})
		}
	}
	return issues
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
