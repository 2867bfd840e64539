package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pgtunnel/internal/model"
)

// hostKeyCallback builds the verification callback for the configured
// policy. The policy only governs hosts absent from known_hosts: a key that
// contradicts an existing entry is refused regardless of policy, because a
// changed key is the one signal that must never be waved through.
func hostKeyCallback(policy model.HostKeyPolicy, knownHostsPath string) (ssh.HostKeyCallback, error) {
	var known ssh.HostKeyCallback
	if _, err := os.Stat(knownHostsPath); err == nil {
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("parse known_hosts %s: %w", knownHostsPath, err)
		}
		known = cb
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			err := known(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !errors.As(err, &keyErr) {
				return err
			}
			if len(keyErr.Want) > 0 {
				return fmt.Errorf("%w for %s (known_hosts %s)", ErrHostKeyChanged, hostname, knownHostsPath)
			}
		}
		fingerprint := ssh.FingerprintSHA256(key)
		switch policy {
		case model.HostKeyReject:
			return fmt.Errorf("%w for %s (%s)", ErrUnknownHostKey, hostname, fingerprint)
		case model.HostKeyWarn:
			slog.Warn("accepting unknown host key", "host", hostname, "fingerprint", fingerprint)
			return nil
		default: // auto-add
			if err := appendKnownHost(knownHostsPath, hostname, remote, key); err != nil {
				slog.Warn("could not record host key", "path", knownHostsPath, "error", err)
			} else {
				slog.Debug("recorded new host key", "host", hostname, "fingerprint", fingerprint)
			}
			return nil
		}
	}, nil
}

// appendKnownHost records a newly accepted key in known_hosts format.
func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	addrs := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if a := knownhosts.Normalize(remote.String()); a != addrs[0] {
			addrs = append(addrs, a)
		}
	}
	_, err = fmt.Fprintln(f, knownhosts.Line(addrs, key))
	return err
}
