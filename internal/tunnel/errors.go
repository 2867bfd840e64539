package tunnel

import "errors"

var (
	// ErrNoUsername indicates that neither the tunnel specification, the SSH
	// config, nor the OS environment yielded a username to authenticate as.
	ErrNoUsername = errors.New("no SSH username could be resolved")
	// ErrNoAuthMethods indicates that no identity file, agent, or password
	// was available for authentication.
	ErrNoAuthMethods = errors.New("no SSH auth methods available")
	// ErrSessionNotActive indicates a channel was requested before the
	// session reached the active state or after it stopped.
	ErrSessionNotActive = errors.New("SSH session is not active")
	// ErrSessionStopped indicates the session was stopped while connecting.
	ErrSessionStopped = errors.New("SSH session stopped")
	// ErrUnknownHostKey indicates the bastion presented a key absent from
	// known_hosts under the reject policy.
	ErrUnknownHostKey = errors.New("unknown host key")
	// ErrHostKeyChanged indicates the bastion presented a key that
	// contradicts an existing known_hosts entry.
	ErrHostKeyChanged = errors.New("host key verification failed: key changed")
	// ErrTunnelActive indicates a start was attempted while the manager
	// already owns an active session.
	ErrTunnelActive = errors.New("a tunnel is already active")
)
