package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pgtunnel/internal/model"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	return key
}

func testAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}
}

func TestAutoAddRecordsUnknownHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	cb, err := hostKeyCallback(model.HostKeyAutoAdd, path)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	key := testHostKey(t)
	if err := cb("bastion.example.com:22", testAddr(), key); err != nil {
		t.Fatalf("auto-add must accept an unknown host: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if !strings.Contains(string(b), "bastion.example.com") {
		t.Fatalf("known_hosts does not record the host: %q", b)
	}

	// The recorded entry must verify on the next connection.
	cb2, err := hostKeyCallback(model.HostKeyReject, path)
	if err != nil {
		t.Fatalf("callback after append: %v", err)
	}
	if err := cb2("bastion.example.com:22", testAddr(), key); err != nil {
		t.Fatalf("recorded key must verify: %v", err)
	}
}

func TestRejectRefusesUnknownHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	cb, err := hostKeyCallback(model.HostKeyReject, path)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	err = cb("bastion.example.com:22", testAddr(), testHostKey(t))
	if !errors.Is(err, ErrUnknownHostKey) {
		t.Fatalf("err = %v, want ErrUnknownHostKey", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("reject must not write known_hosts")
	}
}

func TestWarnAcceptsUnknownHostWithoutRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	cb, err := hostKeyCallback(model.HostKeyWarn, path)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if err := cb("bastion.example.com:22", testAddr(), testHostKey(t)); err != nil {
		t.Fatalf("warn must accept: %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("warn must not write known_hosts")
	}
}

func TestChangedKeyRejectedUnderEveryPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	recorded := testHostKey(t)
	line := knownhosts.Line([]string{knownhosts.Normalize("bastion.example.com:22")}, recorded)
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("seed known_hosts: %v", err)
	}

	imposter := testHostKey(t)
	for _, policy := range []model.HostKeyPolicy{model.HostKeyAutoAdd, model.HostKeyWarn, model.HostKeyReject} {
		cb, err := hostKeyCallback(policy, path)
		if err != nil {
			t.Fatalf("callback for %s: %v", policy, err)
		}
		err = cb("bastion.example.com:22", testAddr(), imposter)
		if !errors.Is(err, ErrHostKeyChanged) {
			t.Fatalf("policy %s: err = %v, want ErrHostKeyChanged", policy, err)
		}
	}
}
