// Package tunnel establishes authenticated SSH sessions to bastion hosts and
// forwards local TCP connections through them to a remote database address.
package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"pgtunnel/internal/model"
	"pgtunnel/internal/util"
)

// Session owns one authenticated SSH connection to a bastion and opens
// direct-tcpip channels through it. Lifecycle: idle, connecting, active,
// stopped. Stopped is terminal; Stop is idempotent and legal in any state.
type Session struct {
	mu     sync.Mutex
	state  model.SessionState
	client *ssh.Client
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{state: model.SessionIdle}
}

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session is established and usable.
func (s *Session) Active() bool {
	return s.State() == model.SessionActive
}

// Start connects to the bastion and authenticates. Any failure (connection
// refused, host key rejection, authentication failure) is fatal: the session
// moves to stopped and the error is returned. No retry is attempted here;
// the caller decides whether to abort.
func (s *Session) Start(params model.ConnectionParams) error {
	s.mu.Lock()
	if s.state != model.SessionIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start session in state %s", state)
	}
	s.state = model.SessionConnecting
	s.mu.Unlock()

	hostKeyCB, err := hostKeyCallback(params.HostKeyPolicy, params.KnownHostsPath)
	if err != nil {
		s.fail()
		return err
	}
	auth := authMethods(params)
	if len(auth) == 0 {
		s.fail()
		return ErrNoAuthMethods
	}

	cfg := &ssh.ClientConfig{
		User:            params.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         util.DialTimeout,
	}

	var client *ssh.Client
	if params.ProxyCommand != "" {
		client, err = dialViaProxy(params, cfg)
	} else {
		client, err = ssh.Dial("tcp", params.Addr(), cfg)
	}
	if err != nil {
		s.fail()
		return fmt.Errorf("connect %s@%s: %w", params.User, params.Addr(), err)
	}

	s.mu.Lock()
	if s.state == model.SessionStopped {
		// Stop raced with the handshake; release the fresh connection.
		s.mu.Unlock()
		client.Close()
		return ErrSessionStopped
	}
	s.client = client
	s.state = model.SessionActive
	s.mu.Unlock()

	slog.Debug("SSH session established", "bastion", params.Addr(), "user", params.User)
	return nil
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = model.SessionStopped
	s.mu.Unlock()
}

// OpenChannel opens a byte-stream channel routed by the bastion to
// remoteHost:remotePort. It may be called concurrently, once per accepted
// local connection. A rejection is scoped to this one channel: the session
// and other channels are unaffected.
func (s *Session) OpenChannel(remoteHost string, remotePort int) (net.Conn, error) {
	s.mu.Lock()
	client, state := s.client, s.state
	s.mu.Unlock()
	if state != model.SessionActive || client == nil {
		return nil, ErrSessionNotActive
	}
	addr := net.JoinHostPort(remoteHost, strconv.Itoa(remotePort))
	conn, err := client.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("open channel to %s: %w", addr, err)
	}
	return conn, nil
}

// Stop closes the transport and everything it owns. Safe to call multiple
// times and from any state.
func (s *Session) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.state = model.SessionStopped
	s.mu.Unlock()
	if client != nil {
		if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("closing SSH session", "error", err)
		}
	}
}

// authMethods builds the authentication attempt order: each resolved
// identity file first (skipping files that cannot be loaded, e.g. a
// passphrase-protected key with no agent to unlock it), then the SSH agent
// when enabled, then the password when supplied. Default key locations are
// never probed.
func authMethods(params model.ConnectionParams) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	for _, path := range params.IdentityFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("skipping unreadable identity file", "path", path, "error", err)
			continue
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			var passErr *ssh.PassphraseMissingError
			if errors.As(err, &passErr) {
				slog.Debug("skipping passphrase-protected identity file", "path", path)
			} else {
				slog.Debug("skipping unparsable identity file", "path", path, "error", err)
			}
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if params.AllowAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				slog.Debug("ssh-agent unavailable", "socket", sock, "error", err)
			} else {
				// Consulted lazily, only if the server asks for public keys.
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}
	if params.Password != "" {
		methods = append(methods, ssh.Password(params.Password))
	}
	return methods
}
