package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"pgtunnel/internal/appconfig"
)

func TestRunFlagsMissingIdentityFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "/tmp/fake-agent.sock")

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	content := "Host bastion\n    IdentityFile " + filepath.Join(home, ".ssh", "no_such_key") + "\n"
	if err := os.WriteFile(filepath.Join(sshDir, "config"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, is := range report.Issues {
		if is.Check == "identity-file" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing identity file issue, got %+v", report.Issues)
	}
}

func TestRunFlagsAgentWithoutSocket(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	cfg := appconfig.Default()
	cfg.AllowAgent = true
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, is := range report.Issues {
		if is.Check == "ssh-agent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected agent issue, got %+v", report.Issues)
	}
}

func TestRunCleanEnvironmentHasNoHighIssues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "/tmp/fake-agent.sock")

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	for _, is := range report.Issues {
		if is.Severity == SeverityHigh {
			t.Fatalf("unexpected high severity issue in clean environment: %+v", is)
		}
	}
}
