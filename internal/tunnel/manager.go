package tunnel

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"pgtunnel/internal/appconfig"
	"pgtunnel/internal/events"
	"pgtunnel/internal/model"
	"pgtunnel/internal/rules"
	"pgtunnel/internal/util"
)

// session is the lifecycle surface the manager drives. *Session satisfies
// it; tests substitute fakes.
type session interface {
	Start(params model.ConnectionParams) error
	OpenChannel(remoteHost string, remotePort int) (net.Conn, error)
	Stop()
	Active() bool
}

var _ session = (*Session)(nil)

// Manager owns at most one tunnel session at a time. It decides whether a
// database address needs a tunnel, establishes the session and the local
// forwarding listener, and hands back the address the database client
// should actually dial.
type Manager struct {
	mu       sync.Mutex
	cfg      *appconfig.Config
	matcher  *rules.Matcher
	explicit string
	journal  *events.Store

	newSession func() session
	sess       session
	server     *ForwardingServer
	status     model.TunnelStatus
}

// NewManager builds a manager from loaded configuration. explicitSpec, when
// non-empty, overrides any configured rule for every connection attempt.
func NewManager(cfg *appconfig.Config, matcher *rules.Matcher, explicitSpec string) *Manager {
	return &Manager{
		cfg:        cfg,
		matcher:    matcher,
		explicit:   explicitSpec,
		newSession: func() session { return NewSession() },
		status:     model.TunnelStatus{State: model.SessionIdle},
	}
}

// SetJournal attaches an event journal. Recording failures are logged, never
// fatal.
func (m *Manager) SetJournal(j *events.Store) {
	m.journal = j
}

// FindTunnelSpec reports the raw tunnel specification that applies to the
// given database host and alias, or false when no rule matches.
func (m *Manager) FindTunnelSpec(host, alias string) (string, bool) {
	return m.matcher.FindSpec(m.explicit, host, alias)
}

// Start decides whether host:port needs tunneling and returns the address
// the client should connect to. When no rule matches, the original host and
// port come back unchanged and no session is created. When a rule matches,
// the tunnel is established and the returned address is the local listener.
//
// Any establishment failure is returned to the caller; there is no silent
// fallback to a direct connection.
func (m *Manager) Start(host string, port int, alias string) (string, int, error) {
	if err := util.ValidatePort(port); err != nil {
		return "", 0, err
	}

	raw, ok := m.FindTunnelSpec(host, alias)
	if !ok {
		return host, port, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return "", 0, ErrTunnelActive
	}

	spec, err := ParseSpec(raw)
	if err != nil {
		return "", 0, err
	}
	params, err := Resolve(spec, *m.cfg)
	if err != nil {
		return "", 0, err
	}

	slog.Info("establishing tunnel",
		"bastion", params.Addr(), "remote", net.JoinHostPort(host, fmt.Sprint(port)))

	sess := m.newSession()
	if err := sess.Start(params); err != nil {
		m.record(events.Event{
			EventType:  events.TypeSessionFailed,
			Bastion:    params.Hostname,
			RemoteHost: host,
			RemotePort: port,
			Alias:      alias,
			Message:    err.Error(),
		})
		m.status = model.TunnelStatus{State: model.SessionStopped, LastError: err.Error()}
		return "", 0, err
	}

	srv := NewForwardingServer(sess, host, port)
	if err := srv.Start(""); err != nil {
		sess.Stop()
		m.record(events.Event{
			EventType:  events.TypeSessionFailed,
			Bastion:    params.Hostname,
			RemoteHost: host,
			RemotePort: port,
			Alias:      alias,
			Message:    err.Error(),
		})
		m.status = model.TunnelStatus{State: model.SessionStopped, LastError: err.Error()}
		return "", 0, err
	}

	localHost, localPort := srv.Addr()
	m.sess = sess
	m.server = srv
	m.status = model.TunnelStatus{
		State:      model.SessionActive,
		Bastion:    params.Addr(),
		LocalAddr:  net.JoinHostPort(localHost, fmt.Sprint(localPort)),
		RemoteHost: host,
		RemotePort: port,
		StartedAt:  time.Now(),
	}
	m.record(events.Event{
		EventType:  events.TypeSessionStarted,
		Bastion:    params.Hostname,
		RemoteHost: host,
		RemotePort: port,
		LocalAddr:  m.status.LocalAddr,
		Alias:      alias,
	})
	slog.Info("tunnel active", "local", m.status.LocalAddr)
	return localHost, localPort, nil
}

// Stop tears down the forwarding listener and the session. Safe to call
// repeatedly and with no tunnel running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return
	}
	m.server.Stop()
	m.sess.Stop()
	m.record(events.Event{
		EventType:  events.TypeSessionStopped,
		Bastion:    m.status.Bastion,
		RemoteHost: m.status.RemoteHost,
		RemotePort: m.status.RemotePort,
		LocalAddr:  m.status.LocalAddr,
	})
	m.sess = nil
	m.server = nil
	m.status = model.TunnelStatus{State: model.SessionStopped}
}

// Active reports whether a tunnel session is currently established.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.Active()
}

// Status returns a snapshot of the current tunnel state.
func (m *Manager) Status() model.TunnelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if st.State == model.SessionActive && !st.StartedAt.IsZero() {
		st.UptimeSec = int64(time.Since(st.StartedAt).Seconds())
	}
	return st
}

func (m *Manager) record(evt events.Event) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(evt); err != nil {
		slog.Debug("failed to record tunnel event", "error", err)
	}
}
