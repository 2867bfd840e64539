package sshconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLookupScalarsFirstMatchWins(t *testing.T) {
	d := t.TempDir()
	path := filepath.Join(d, "config")
	writeFile(t, path, `
Host bastion
  HostName bastion.internal.example.com
  User deploy
  Port 2222

Host *
  User fallback
  Port 22
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	hc := f.Lookup("bastion")
	if hc.HostName != "bastion.internal.example.com" {
		t.Fatalf("unexpected hostname: %q", hc.HostName)
	}
	if hc.User != "deploy" || hc.Port != 2222 {
		t.Fatalf("first-obtained scalar must win: %+v", hc)
	}
}

func TestLookupWildcardFillsGaps(t *testing.T) {
	d := t.TempDir()
	path := filepath.Join(d, "config")
	writeFile(t, path, `
Host bastion
  HostName 10.0.0.5

Host *
  User everywhere
  ProxyCommand nc -x proxy:1080 %h %p
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	hc := f.Lookup("bastion")
	if hc.User != "everywhere" {
		t.Fatalf("wildcard user not applied: %+v", hc)
	}
	if hc.ProxyCommand == "" {
		t.Fatalf("wildcard proxycommand not applied: %+v", hc)
	}
}

func TestLookupIdentityFileOrdering(t *testing.T) {
	d := t.TempDir()
	path := filepath.Join(d, "config")
	// Wildcard block appears FIRST in the file; host-specific identities
	// must still come first in the resolved list.
	writeFile(t, path, `
Host *
  IdentityFile /keys/wildcard_ed25519

Host bastion
  IdentityFile /keys/bastion_a
  IdentityFile /keys/bastion_b
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	hc := f.Lookup("bastion")
	want := []string{"/keys/bastion_a", "/keys/bastion_b", "/keys/wildcard_ed25519"}
	if len(hc.IdentityFiles) != len(want) {
		t.Fatalf("unexpected identity list: %v", hc.IdentityFiles)
	}
	for i := range want {
		if hc.IdentityFiles[i] != want[i] {
			t.Fatalf("identity order mismatch at %d: %v", i, hc.IdentityFiles)
		}
	}
}

func TestLookupNegatedPatternExcludes(t *testing.T) {
	d := t.TempDir()
	path := filepath.Join(d, "config")
	writeFile(t, path, `
Host * !bastion
  User nobody
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if hc := f.Lookup("bastion"); hc.User != "" {
		t.Fatalf("negated block must not apply: %+v", hc)
	}
	if hc := f.Lookup("other"); hc.User != "nobody" {
		t.Fatalf("non-negated host should match: %+v", hc)
	}
}

func TestLoadIncludeAndMalformed(t *testing.T) {
	d := t.TempDir()
	inc := filepath.Join(d, "inc.conf")
	writeFile(t, inc, "Host db\n  HostName 10.1.1.1\n")
	root := filepath.Join(d, "config")
	writeFile(t, root, "Include inc.conf\nBadLine\nHost api\n  HostName api.internal\n")

	f, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if hc := f.Lookup("db"); hc.HostName != "10.1.1.1" {
		t.Fatalf("included block not resolved: %+v", hc)
	}
	if hc := f.Lookup("api"); hc.HostName != "api.internal" {
		t.Fatalf("root block not resolved: %+v", hc)
	}
	if len(f.Warnings) == 0 {
		t.Fatal("expected warning for malformed line")
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing config must not be fatal: %v", err)
	}
	if len(f.Warnings) == 0 {
		t.Fatal("expected a warning for the missing file")
	}
	if hc := f.Lookup("anything"); hc.User != "" || len(hc.IdentityFiles) != 0 {
		t.Fatalf("empty file should resolve nothing: %+v", hc)
	}
}
